// Package postgres implements the domain repository on PostgreSQL with a transactional outbox.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/events"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

// Repository provides Postgres-backed persistence for members, imports and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

const memberColumns = `member_id::text, name, created_at, is_active, current_import_id::text`

const importColumns = `i.import_id::text, i.team_member_id::text, m.name, i.exported_at, i.week_start, i.raw_snapshot,
        COALESCE(m.current_import_id = i.import_id, FALSE), i.targets, i.activity_count, i.prospect_count,
        i.won_count, i.won_revenue::float8, i.imported_at, i.source, i.restored_from::text, i.idempotency_key`

const activityColumns = `activity_id::text, import_id::text, team_member_id::text, activity_type, name, notes, occurred_at, week_of`

const prospectColumns = `prospect_id::text, import_id::text, team_member_id::text, company, contact, email, phone, stage,
        deal_value::float8, created_at, last_touch, won_at`

// UpsertMember inserts the member or reactivates the row that already owns the name.
func (r *Repository) UpsertMember(ctx context.Context, member domain.TeamMember) (*domain.TeamMember, error) {
	const stmt = `INSERT INTO team_members (member_id, name, created_at, is_active)
        VALUES ($1, $2, $3, TRUE)
        ON CONFLICT (name) DO UPDATE SET is_active = TRUE
        RETURNING ` + memberColumns

	row := r.pool.QueryRow(ctx, stmt, member.ID, member.Name, member.CreatedAt)
	return scanMember(row)
}

// GetMember retrieves a member by ID.
func (r *Repository) GetMember(ctx context.Context, id string) (*domain.TeamMember, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+memberColumns+` FROM team_members WHERE member_id::text = $1`, id)
	member, err := scanMember(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return member, err
}

// ListMembers returns active members ordered by name.
func (r *Repository) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+memberColumns+` FROM team_members WHERE is_active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.TeamMember, 0)
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *member)
	}
	return members, rows.Err()
}

// DeleteMember drops the member's history and deactivates it inside one transaction.
func (r *Repository) DeleteMember(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var name string
	err = tx.QueryRow(ctx, `SELECT name FROM team_members WHERE member_id::text = $1 FOR UPDATE`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `UPDATE team_members SET current_import_id = NULL, is_active = FALSE WHERE member_id::text = $1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM activities WHERE team_member_id::text = $1`, id); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM prospects WHERE team_member_id::text = $1`, id); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM imports WHERE team_member_id::text = $1`, id)
	if err != nil {
		return err
	}

	now := r.now()
	eventID := events.NewEventID(now)
	if err = insertOutbox(ctx, tx, "team_member", id, events.TypeMemberDeleted, eventID, events.MemberDeleted{
		EventID:        eventID,
		MemberID:       id,
		MemberName:     name,
		ImportsDeleted: int(tag.RowsAffected()),
		DeletedAt:      now,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetImport retrieves an import by ID.
func (r *Repository) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+importColumns+`
        FROM imports i JOIN team_members m ON m.member_id = i.team_member_id
        WHERE i.import_id::text = $1`, id)
	imp, err := scanImport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return imp, err
}

// ListImports returns imports newest first, optionally for one member.
func (r *Repository) ListImports(ctx context.Context, memberID string) ([]domain.Import, error) {
	query := `SELECT ` + importColumns + `
        FROM imports i JOIN team_members m ON m.member_id = i.team_member_id`
	args := []interface{}{}
	if memberID != "" {
		query += ` WHERE i.team_member_id::text = $1`
		args = append(args, memberID)
	}
	query += ` ORDER BY i.imported_at DESC, i.import_id DESC`
	return r.queryImports(ctx, query, args...)
}

// ListCurrentImports returns the import each member currently points at.
func (r *Repository) ListCurrentImports(ctx context.Context) ([]domain.Import, error) {
	const query = `SELECT ` + importColumns + `
        FROM team_members m JOIN imports i ON i.import_id = m.current_import_id
        ORDER BY i.imported_at DESC, i.import_id DESC`
	return r.queryImports(ctx, query)
}

// FindImportByIdempotency checks whether an import already exists for the supplied key.
func (r *Repository) FindImportByIdempotency(ctx context.Context, key string) (*domain.Import, error) {
	if key == "" {
		return nil, nil
	}
	row := r.pool.QueryRow(ctx, `SELECT `+importColumns+`
        FROM imports i JOIN team_members m ON m.member_id = i.team_member_id
        WHERE i.idempotency_key = $1`, key)
	imp, err := scanImport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return imp, err
}

// ReplaceCurrentImport persists the plan and records an outbox event inside a single transaction.
// The member row lock serialises concurrent imports for the same member.
func (r *Repository) ReplaceCurrentImport(ctx context.Context, plan domain.ImportPlan) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	imp := plan.Import
	memberID := imp.TeamMemberID

	var name string
	err = tx.QueryRow(ctx, `SELECT name FROM team_members WHERE member_id::text = $1 FOR UPDATE`, memberID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	const insertImport = `INSERT INTO imports (import_id, team_member_id, exported_at, week_start, raw_snapshot, targets,
            activity_count, prospect_count, won_count, won_revenue, imported_at, source, restored_from, idempotency_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	if _, err = tx.Exec(ctx, insertImport,
		imp.ID,
		memberID,
		imp.ExportedAt,
		imp.WeekStart,
		string(imp.RawSnapshot),
		imp.Targets,
		imp.ActivityCount,
		imp.ProspectCount,
		imp.WonCount,
		imp.WonRevenue,
		imp.ImportedAt,
		imp.Source,
		imp.RestoredFrom,
		imp.IdempotencyKey,
	); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM activities WHERE team_member_id::text = $1`, memberID); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM prospects WHERE team_member_id::text = $1`, memberID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, a := range plan.Activities {
		batch.Queue(`INSERT INTO activities (activity_id, import_id, team_member_id, activity_type, name, notes, occurred_at, week_of)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			a.ID, a.ImportID, a.TeamMemberID, string(a.Type), a.Name, a.Notes, a.Timestamp, a.WeekOf)
	}
	for _, p := range plan.Prospects {
		batch.Queue(`INSERT INTO prospects (prospect_id, import_id, team_member_id, company, contact, email, phone, stage,
                deal_value, created_at, last_touch, won_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			p.ID, p.ImportID, p.TeamMemberID, p.Company, p.Contact, p.Email, p.Phone, string(p.Stage),
			p.DealValue, p.CreatedAt, p.LastTouch, p.WonAt)
	}
	if batch.Len() > 0 {
		if err = tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	if _, err = tx.Exec(ctx, `UPDATE team_members SET current_import_id = $2, is_active = TRUE WHERE member_id::text = $1`, memberID, imp.ID); err != nil {
		return err
	}

	payload := events.ImportCompleted{
		EventID:    events.NewEventID(imp.ImportedAt),
		ImportID:   imp.ID,
		MemberID:   memberID,
		MemberName: name,
		Source:     imp.Source,
		ActivityCount: events.ActivityCount{
			Emails:    imp.ActivityCount.Emails,
			Calls:     imp.ActivityCount.Calls,
			Meetings:  imp.ActivityCount.Meetings,
			Proposals: imp.ActivityCount.Proposals,
		},
		ProspectCount: imp.ProspectCount,
		WonCount:      imp.WonCount,
		WonRevenue:    imp.WonRevenue,
		ExportedAt:    imp.ExportedAt,
		ImportedAt:    imp.ImportedAt,
	}
	if imp.RestoredFrom != nil {
		payload.RestoredFrom = *imp.RestoredFrom
	}
	if err = insertOutbox(ctx, tx, "import", imp.ID, events.TypeImportCompleted, payload.EventID, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteImport removes the import; its rows go with it and a dangling current pointer is cleared.
func (r *Repository) DeleteImport(ctx context.Context, id string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var (
		memberID   string
		wasCurrent bool
	)
	err = tx.QueryRow(ctx, `SELECT m.member_id::text, COALESCE(m.current_import_id = i.import_id, FALSE)
        FROM imports i JOIN team_members m ON m.member_id = i.team_member_id
        WHERE i.import_id::text = $1
        FOR UPDATE OF m`, id).Scan(&memberID, &wasCurrent)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM imports WHERE import_id::text = $1`, id); err != nil {
		return err
	}

	now := r.now()
	eventID := events.NewEventID(now)
	if err = insertOutbox(ctx, tx, "import", id, events.TypeImportDeleted, eventID, events.ImportDeleted{
		EventID:    eventID,
		ImportID:   id,
		MemberID:   memberID,
		WasCurrent: wasCurrent,
		DeletedAt:  now,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListActivities returns activities ordered by time, newest first, using keyset pagination.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, *domain.Cursor, error) {
	limit := domain.NormalizeLimit(filter.Limit)
	query := `SELECT ` + activityColumns + ` FROM activities WHERE TRUE`
	args := []interface{}{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.MemberID != "" {
		query += ` AND team_member_id::text = ` + next(filter.MemberID)
	}
	if filter.Type != "" {
		query += ` AND activity_type = ` + next(string(filter.Type))
	}
	if filter.Cursor != nil {
		query += fmt.Sprintf(` AND (occurred_at, activity_id) < (%s, %s::uuid)`, next(filter.Cursor.Timestamp), next(filter.Cursor.ID))
	}
	query += ` ORDER BY occurred_at DESC, activity_id DESC LIMIT ` + next(limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a    domain.Activity
			kind string
		)
		if err := rows.Scan(&a.ID, &a.ImportID, &a.TeamMemberID, &kind, &a.Name, &a.Notes, &a.Timestamp, &a.WeekOf); err != nil {
			return nil, nil, err
		}
		a.Type = domain.ActivityType(kind)
		a.Timestamp = a.Timestamp.UTC()
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(results) <= limit {
		return results, nil, nil
	}
	results = results[:limit]
	last := results[len(results)-1]
	return results, &domain.Cursor{Timestamp: last.Timestamp, ID: last.ID}, nil
}

// ListProspects returns prospects ordered by last touch, newest first.
func (r *Repository) ListProspects(ctx context.Context, filter domain.ProspectFilter) ([]domain.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE TRUE`
	args := []interface{}{}
	if filter.MemberID != "" {
		args = append(args, filter.MemberID)
		query += fmt.Sprintf(` AND team_member_id::text = $%d`, len(args))
	}
	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += fmt.Sprintf(` AND stage = $%d`, len(args))
	}
	query += ` ORDER BY last_touch DESC, prospect_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Prospect, 0)
	for rows.Next() {
		var (
			p     domain.Prospect
			stage string
		)
		if err := rows.Scan(&p.ID, &p.ImportID, &p.TeamMemberID, &p.Company, &p.Contact, &p.Email, &p.Phone, &stage,
			&p.DealValue, &p.CreatedAt, &p.LastTouch, &p.WonAt); err != nil {
			return nil, err
		}
		p.Stage = domain.Stage(stage)
		results = append(results, p)
	}
	return results, rows.Err()
}

func (r *Repository) queryImports(ctx context.Context, query string, args ...interface{}) ([]domain.Import, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	imports := make([]domain.Import, 0)
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, err
		}
		imports = append(imports, *imp)
	}
	return imports, rows.Err()
}

func scanMember(row pgx.Row) (*domain.TeamMember, error) {
	var m domain.TeamMember
	if err := row.Scan(&m.ID, &m.Name, &m.CreatedAt, &m.IsActive, &m.CurrentImportID); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanImport(row pgx.Row) (*domain.Import, error) {
	var (
		imp     domain.Import
		raw     []byte
		targets []byte
		counts  []byte
	)
	if err := row.Scan(&imp.ID, &imp.TeamMemberID, &imp.MemberName, &imp.ExportedAt, &imp.WeekStart, &raw,
		&imp.IsCurrent, &targets, &counts, &imp.ProspectCount, &imp.WonCount, &imp.WonRevenue,
		&imp.ImportedAt, &imp.Source, &imp.RestoredFrom, &imp.IdempotencyKey); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(targets, &imp.Targets); err != nil {
		return nil, fmt.Errorf("decode targets of import %s: %w", imp.ID, err)
	}
	if err := json.Unmarshal(counts, &imp.ActivityCount); err != nil {
		return nil, fmt.Errorf("decode activity_count of import %s: %w", imp.ID, err)
	}
	imp.RawSnapshot = raw
	return &imp, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, aggregateType, aggregateID, eventType, eventID string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(payload),
		body,
		eventID,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(payload interface{}) string
}

// Every event of one member shares a partition so consumers see them in order.
func memberKey(payload interface{}) string {
	switch p := payload.(type) {
	case events.ImportCompleted:
		return p.MemberID
	case events.ImportDeleted:
		return p.MemberID
	case events.MemberDeleted:
		return p.MemberID
	}
	return ""
}

var eventCatalog = map[string]EventMetadata{
	events.TypeImportCompleted: {
		Topic:          "import_events",
		SchemaSubject:  "import_events-ImportCompleted",
		PartitionKeyFn: memberKey,
	},
	events.TypeImportDeleted: {
		Topic:          "import_events",
		SchemaSubject:  "import_events-ImportDeleted",
		PartitionKeyFn: memberKey,
	},
	events.TypeMemberDeleted: {
		Topic:          "member_events",
		SchemaSubject:  "member_events-value",
		PartitionKeyFn: memberKey,
	},
}
