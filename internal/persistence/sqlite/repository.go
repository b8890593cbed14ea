// Package sqlite implements the domain repository on a single SQLite file for CLI and local use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"example.com/teamdash/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open opens (creating if needed) the database at path and applies the schema.
// The pool is capped at one connection, which also serialises writers.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Repository stores members, imports and rows in SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a Repository over an opened database.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const memberColumns = `member_id, name, created_at, is_active, current_import_id`

const importColumns = `i.import_id, i.team_member_id, m.name, i.exported_at, i.week_start, i.raw_snapshot,
	COALESCE(m.current_import_id = i.import_id, 0), i.targets, i.activity_count, i.prospect_count,
	i.won_count, i.won_revenue, i.imported_at, i.source, i.restored_from, i.idempotency_key`

const activityColumns = `activity_id, import_id, team_member_id, activity_type, name, notes, occurred_at, week_of`

const prospectColumns = `prospect_id, import_id, team_member_id, company, contact, email, phone, stage,
	deal_value, created_at, last_touch, won_at`

type scanner interface {
	Scan(dest ...any) error
}

// UpsertMember implements domain.Repository.
func (r *Repository) UpsertMember(ctx context.Context, member domain.TeamMember) (*domain.TeamMember, error) {
	row := r.db.QueryRowContext(ctx, `INSERT INTO team_members (member_id, name, created_at, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (name) DO UPDATE SET is_active = 1
		RETURNING `+memberColumns,
		member.ID, member.Name, formatTime(member.CreatedAt))
	return scanMember(row)
}

// GetMember implements domain.Repository.
func (r *Repository) GetMember(ctx context.Context, id string) (*domain.TeamMember, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE member_id = ?`, id)
	member, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return member, err
}

// ListMembers implements domain.Repository.
func (r *Repository) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+memberColumns+` FROM team_members WHERE is_active = 1 ORDER BY name`)
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

// DeleteMember implements domain.Repository.
func (r *Repository) DeleteMember(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE team_members SET current_import_id = NULL, is_active = 0 WHERE member_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	for _, stmt := range []string{
		`DELETE FROM activities WHERE team_member_id = ?`,
		`DELETE FROM prospects WHERE team_member_id = ?`,
		`DELETE FROM imports WHERE team_member_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetImport implements domain.Repository.
func (r *Repository) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+importColumns+`
		FROM imports i JOIN team_members m ON m.member_id = i.team_member_id
		WHERE i.import_id = ?`, id)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return imp, err
}

// ListImports implements domain.Repository.
func (r *Repository) ListImports(ctx context.Context, memberID string) ([]domain.Import, error) {
	query := `SELECT ` + importColumns + ` FROM imports i JOIN team_members m ON m.member_id = i.team_member_id`
	args := []any{}
	if memberID != "" {
		query += ` WHERE i.team_member_id = ?`
		args = append(args, memberID)
	}
	query += ` ORDER BY i.imported_at DESC, i.import_id DESC`
	return r.queryImports(ctx, query, args...)
}

// ListCurrentImports implements domain.Repository.
func (r *Repository) ListCurrentImports(ctx context.Context) ([]domain.Import, error) {
	return r.queryImports(ctx, `SELECT `+importColumns+`
		FROM team_members m JOIN imports i ON i.import_id = m.current_import_id
		ORDER BY i.imported_at DESC, i.import_id DESC`)
}

// FindImportByIdempotency implements domain.Repository.
func (r *Repository) FindImportByIdempotency(ctx context.Context, key string) (*domain.Import, error) {
	if key == "" {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+importColumns+`
		FROM imports i JOIN team_members m ON m.member_id = i.team_member_id
		WHERE i.idempotency_key = ?`, key)
	imp, err := scanImport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return imp, err
}

// ReplaceCurrentImport implements domain.Repository. The single connection
// serialises concurrent writers.
func (r *Repository) ReplaceCurrentImport(ctx context.Context, plan domain.ImportPlan) error {
	targets, err := json.Marshal(plan.Import.Targets)
	if err != nil {
		return err
	}
	counts, err := json.Marshal(plan.Import.ActivityCount)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	imp := plan.Import
	memberID := imp.TeamMemberID

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM team_members WHERE member_id = ?`, memberID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO imports (import_id, team_member_id, exported_at, week_start, raw_snapshot,
			targets, activity_count, prospect_count, won_count, won_revenue, imported_at, source, restored_from, idempotency_key)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		imp.ID, memberID, formatTime(imp.ExportedAt), formatTimePtr(imp.WeekStart), string(imp.RawSnapshot),
		string(targets), string(counts), imp.ProspectCount, imp.WonCount, imp.WonRevenue,
		formatTime(imp.ImportedAt), imp.Source, imp.RestoredFrom, imp.IdempotencyKey,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE team_member_id = ?`, memberID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM prospects WHERE team_member_id = ?`, memberID); err != nil {
		return err
	}

	if len(plan.Activities) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO activities (`+activityColumns+`) VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, a := range plan.Activities {
			if _, err := stmt.ExecContext(ctx, a.ID, a.ImportID, a.TeamMemberID, string(a.Type), a.Name, a.Notes,
				formatTime(a.Timestamp), formatTimePtr(a.WeekOf)); err != nil {
				return err
			}
		}
	}

	if len(plan.Prospects) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO prospects (`+prospectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range plan.Prospects {
			if _, err := stmt.ExecContext(ctx, p.ID, p.ImportID, p.TeamMemberID, p.Company, p.Contact, p.Email, p.Phone,
				string(p.Stage), p.DealValue, formatTime(p.CreatedAt), formatTime(p.LastTouch), formatTimePtr(p.WonAt)); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE team_members SET current_import_id = ?, is_active = 1 WHERE member_id = ?`, imp.ID, memberID); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteImport implements domain.Repository. Rows cascade and the member
// pointer is cleared by the foreign keys.
func (r *Repository) DeleteImport(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM imports WHERE import_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActivities implements domain.Repository.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, *domain.Cursor, error) {
	limit := domain.NormalizeLimit(filter.Limit)
	var (
		where []string
		args  []any
	)
	if filter.MemberID != "" {
		where = append(where, `team_member_id = ?`)
		args = append(args, filter.MemberID)
	}
	if filter.Type != "" {
		where = append(where, `activity_type = ?`)
		args = append(args, string(filter.Type))
	}
	if filter.Cursor != nil {
		ts := formatTime(filter.Cursor.Timestamp)
		where = append(where, `(occurred_at < ? OR (occurred_at = ? AND activity_id < ?))`)
		args = append(args, ts, ts, filter.Cursor.ID)
	}

	query := `SELECT ` + activityColumns + ` FROM activities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY occurred_at DESC, activity_id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a        domain.Activity
			kind, ts string
			weekOf   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.ImportID, &a.TeamMemberID, &kind, &a.Name, &a.Notes, &ts, &weekOf); err != nil {
			return nil, nil, err
		}
		a.Type = domain.ActivityType(kind)
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, nil, err
		}
		if a.WeekOf, err = parseTimePtr(weekOf); err != nil {
			return nil, nil, err
		}
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

// ListProspects implements domain.Repository.
func (r *Repository) ListProspects(ctx context.Context, filter domain.ProspectFilter) ([]domain.Prospect, error) {
	var (
		where []string
		args  []any
	)
	if filter.MemberID != "" {
		where = append(where, `team_member_id = ?`)
		args = append(args, filter.MemberID)
	}
	if filter.Stage != "" {
		where = append(where, `stage = ?`)
		args = append(args, string(filter.Stage))
	}
	query := `SELECT ` + prospectColumns + ` FROM prospects`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY last_touch DESC, prospect_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Prospect, 0)
	for rows.Next() {
		var (
			p                    domain.Prospect
			stage, created, last string
			wonAt                sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ImportID, &p.TeamMemberID, &p.Company, &p.Contact, &p.Email, &p.Phone,
			&stage, &p.DealValue, &created, &last, &wonAt); err != nil {
			return nil, err
		}
		p.Stage = domain.Stage(stage)
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if p.LastTouch, err = parseTime(last); err != nil {
			return nil, err
		}
		if p.WonAt, err = parseTimePtr(wonAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (r *Repository) queryImports(ctx context.Context, query string, args ...any) ([]domain.Import, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func scanMember(row scanner) (*domain.TeamMember, error) {
	var (
		m         domain.TeamMember
		createdAt string
		active    int
		current   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Name, &createdAt, &active, &current); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	m.IsActive = active == 1
	if current.Valid {
		m.CurrentImportID = &current.String
	}
	return &m, nil
}

func scanImport(row scanner) (*domain.Import, error) {
	var (
		imp                              domain.Import
		exportedAt, importedAt           string
		weekStart, restored, idempotency sql.NullString
		raw, targets, counts             string
		isCurrent                        int
	)
	if err := row.Scan(&imp.ID, &imp.TeamMemberID, &imp.MemberName, &exportedAt, &weekStart, &raw,
		&isCurrent, &targets, &counts, &imp.ProspectCount, &imp.WonCount, &imp.WonRevenue,
		&importedAt, &imp.Source, &restored, &idempotency); err != nil {
		return nil, err
	}

	var err error
	if imp.ExportedAt, err = parseTime(exportedAt); err != nil {
		return nil, err
	}
	if imp.ImportedAt, err = parseTime(importedAt); err != nil {
		return nil, err
	}
	if imp.WeekStart, err = parseTimePtr(weekStart); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(targets), &imp.Targets); err != nil {
		return nil, fmt.Errorf("decode targets of import %s: %w", imp.ID, err)
	}
	if err := json.Unmarshal([]byte(counts), &imp.ActivityCount); err != nil {
		return nil, fmt.Errorf("decode activity_count of import %s: %w", imp.ID, err)
	}
	imp.RawSnapshot = []byte(raw)
	imp.IsCurrent = isCurrent == 1
	if restored.Valid {
		imp.RestoredFrom = &restored.String
	}
	if idempotency.Valid {
		imp.IdempotencyKey = &idempotency.String
	}
	return &imp, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
