package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/teamdash/internal/observability"
	"example.com/teamdash/internal/platform/logger"
)

// Repository captures persistence operations. Lookups return (nil, nil) when
// the row does not exist; mutations of a missing row return ErrNotFound.
type Repository interface {
	// UpsertMember inserts member, or reactivates and returns the row already holding its name.
	UpsertMember(ctx context.Context, member TeamMember) (*TeamMember, error)
	GetMember(ctx context.Context, id string) (*TeamMember, error)
	// ListMembers returns active members ordered by name.
	ListMembers(ctx context.Context) ([]TeamMember, error)
	// DeleteMember clears the current pointer, deletes every import of the member
	// together with its rows and deactivates the member, atomically.
	DeleteMember(ctx context.Context, id string) error

	GetImport(ctx context.Context, id string) (*Import, error)
	// ListImports returns imports newest first; an empty memberID lists all members.
	ListImports(ctx context.Context, memberID string) ([]Import, error)
	ListCurrentImports(ctx context.Context) ([]Import, error)
	FindImportByIdempotency(ctx context.Context, key string) (*Import, error)
	// ReplaceCurrentImport locks the member, stores the plan, swaps the
	// member's rows and moves its current pointer in a single transaction.
	ReplaceCurrentImport(ctx context.Context, plan ImportPlan) error
	DeleteImport(ctx context.Context, id string) error

	ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, *Cursor, error)
	ListProspects(ctx context.Context, filter ProspectFilter) ([]Prospect, error)
}

// Service orchestrates the import workflows and read-side reports.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
	log   *logger.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger attaches a logger to the service.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		log:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportOptions carries the upload metadata.
type ImportOptions struct {
	Source         string
	IdempotencyKey string

	restoredFrom string
	// memberID pins a keyed replay to one member; empty accepts any owner.
	memberID string
}

// ImportResult is returned by every import entry point.
type ImportResult struct {
	Import  Import
	Member  TeamMember
	Replay  bool
	Dropped int
}

// ResolveMember returns the member called name, creating or reactivating it.
func (s *Service) ResolveMember(ctx context.Context, name string) (*TeamMember, error) {
	member, err := s.repo.UpsertMember(ctx, TeamMember{
		ID:        s.newID(),
		Name:      name,
		CreatedAt: s.now(),
		IsActive:  true,
	})
	if err != nil {
		return nil, storeErr("upsert member", err)
	}
	return member, nil
}

// ImportFile parses an upload, resolves its owner and makes it the owner's current import.
func (s *Service) ImportFile(ctx context.Context, raw []byte, opts ImportOptions) (*ImportResult, error) {
	if replay, err := s.replay(ctx, opts); replay != nil || err != nil {
		return replay, err
	}

	snap, err := s.parse(opts.Source, raw)
	if err != nil {
		return nil, err
	}
	member, err := s.ResolveMember(ctx, snap.Owner)
	if err != nil {
		observability.RecordImportFailed("store")
		return nil, err
	}
	return s.commit(ctx, *member, snap, opts)
}

// ImportSnapshot makes raw the current import of an existing member.
func (s *Service) ImportSnapshot(ctx context.Context, memberID string, raw []byte, opts ImportOptions) (*ImportResult, error) {
	opts.memberID = memberID
	if replay, err := s.replay(ctx, opts); replay != nil || err != nil {
		return replay, err
	}

	member, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, storeErr("get member", err)
	}
	if member == nil {
		observability.RecordImportFailed("not_found")
		return nil, ErrNotFound
	}

	snap, err := s.parse(opts.Source, raw)
	if err != nil {
		return nil, err
	}
	return s.commit(ctx, *member, snap, opts)
}

func (s *Service) parse(source string, raw []byte) (Snapshot, error) {
	snap, err := ParseSnapshot(source, raw, s.now())
	if err != nil {
		observability.RecordImportFailed("malformed")
		s.log.Warn("snapshot rejected", "source", source, "error", err)
		return Snapshot{}, err
	}
	return snap, nil
}

// RestoreImport replays a stored snapshot as a new current import of the same member.
func (s *Service) RestoreImport(ctx context.Context, importID string) (*ImportResult, error) {
	previous, err := s.repo.GetImport(ctx, importID)
	if err != nil {
		return nil, storeErr("get import", err)
	}
	if previous == nil {
		return nil, ErrNotFound
	}

	result, err := s.ImportSnapshot(ctx, previous.TeamMemberID, previous.RawSnapshot, ImportOptions{
		Source:       previous.Source,
		restoredFrom: previous.ID,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("import restored", "restored_from", importID, "import_id", result.Import.ID, "member_id", result.Member.ID)
	return result, nil
}

// DeleteImport removes an import and its rows. Deleting the current import
// leaves the member without one.
func (s *Service) DeleteImport(ctx context.Context, importID string) error {
	if err := s.repo.DeleteImport(ctx, importID); err != nil {
		return storeErr("delete import", err)
	}
	s.log.Info("import deleted", "import_id", importID)
	return nil
}

// DeleteTeamMember deletes the member's imports and rows and deactivates it.
func (s *Service) DeleteTeamMember(ctx context.Context, memberID string) error {
	if err := s.repo.DeleteMember(ctx, memberID); err != nil {
		return storeErr("delete member", err)
	}
	s.log.Info("team member deleted", "member_id", memberID)
	return nil
}

func (s *Service) replay(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	if opts.IdempotencyKey == "" {
		return nil, nil
	}
	existing, err := s.repo.FindImportByIdempotency(ctx, opts.IdempotencyKey)
	if err != nil {
		return nil, storeErr("find import by idempotency key", err)
	}
	if existing == nil {
		return nil, nil
	}
	if opts.memberID != "" && existing.TeamMemberID != opts.memberID {
		observability.RecordImportFailed("conflict")
		s.log.Warn("idempotency key reused", "member_id", opts.memberID, "import_id", existing.ID)
		return nil, ErrIdempotencyConflict
	}
	member, err := s.repo.GetMember(ctx, existing.TeamMemberID)
	if err != nil {
		return nil, storeErr("get member", err)
	}
	result := &ImportResult{Import: *existing, Replay: true}
	if member != nil {
		result.Member = *member
	}
	observability.RecordImportCommitted(observability.KindReplay, time.Time{})
	return result, nil
}

func (s *Service) commit(ctx context.Context, member TeamMember, snap Snapshot, opts ImportOptions) (*ImportResult, error) {
	plan := s.plan(member, snap, opts)

	if err := s.repo.ReplaceCurrentImport(ctx, plan); err != nil {
		// A concurrent upload with the same key may have landed first.
		replay, findErr := s.replay(ctx, opts)
		if errors.Is(findErr, ErrIdempotencyConflict) {
			return nil, findErr
		}
		if findErr == nil && replay != nil {
			return replay, nil
		}
		observability.RecordImportFailed("store")
		s.log.Error("import failed", "member_id", member.ID, "source", opts.Source, "error", err)
		return nil, storeErr("replace current import", err)
	}

	importID := plan.Import.ID
	member.IsActive = true
	member.CurrentImportID = &importID
	plan.Import.IsCurrent = true

	kind := observability.KindUpload
	if plan.Import.RestoredFrom != nil {
		kind = observability.KindRestore
	}
	observability.RecordImportCommitted(kind, plan.Import.ImportedAt)
	s.log.Info("import committed",
		"import_id", importID,
		"member_id", member.ID,
		"member", member.Name,
		"activities", len(plan.Activities),
		"prospects", len(plan.Prospects),
		"dropped", snap.Dropped,
	)
	return &ImportResult{Import: plan.Import, Member: member, Dropped: snap.Dropped}, nil
}

func (s *Service) plan(member TeamMember, snap Snapshot, opts ImportOptions) ImportPlan {
	summary := Summarize(snap)
	imp := Import{
		ID:            s.newID(),
		TeamMemberID:  member.ID,
		MemberName:    member.Name,
		ExportedAt:    snap.ExportedAt,
		WeekStart:     snap.WeekStart,
		RawSnapshot:   snap.Raw,
		Targets:       snap.Targets,
		ActivityCount: summary.ActivityCount,
		ProspectCount: summary.ProspectCount,
		WonCount:      summary.WonCount,
		WonRevenue:    summary.WonRevenue,
		ImportedAt:    s.now(),
		Source:        opts.Source,
	}
	if opts.IdempotencyKey != "" {
		key := opts.IdempotencyKey
		imp.IdempotencyKey = &key
	}
	if opts.restoredFrom != "" {
		from := opts.restoredFrom
		imp.RestoredFrom = &from
	}

	plan := ImportPlan{
		Import:     imp,
		Activities: make([]Activity, 0, len(snap.Activities)+len(snap.Archived)),
		Prospects:  make([]Prospect, 0, len(snap.Prospects)),
	}
	explode := func(items []SnapshotActivity) {
		for _, a := range items {
			plan.Activities = append(plan.Activities, Activity{
				ID:           s.newID(),
				ImportID:     imp.ID,
				TeamMemberID: member.ID,
				Type:         a.Type,
				Name:         a.Name,
				Notes:        a.Notes,
				Timestamp:    a.Timestamp,
				WeekOf:       a.WeekOf,
			})
		}
	}
	explode(snap.Activities)
	explode(snap.Archived)

	for _, p := range snap.Prospects {
		plan.Prospects = append(plan.Prospects, Prospect{
			ID:           s.newID(),
			ImportID:     imp.ID,
			TeamMemberID: member.ID,
			Company:      p.Company,
			Contact:      p.Contact,
			Email:        p.Email,
			Phone:        p.Phone,
			Stage:        p.Stage,
			DealValue:    p.DealValue,
			CreatedAt:    p.CreatedAt,
			LastTouch:    p.LastTouch,
			WonAt:        p.WonAt,
		})
	}
	return plan
}

// ListTeamMembers returns active members ordered by name.
func (s *Service) ListTeamMembers(ctx context.Context) ([]TeamMember, error) {
	members, err := s.repo.ListMembers(ctx)
	return members, storeErr("list members", err)
}

// GetTeamMember fetches one member by id.
func (s *Service) GetTeamMember(ctx context.Context, id string) (*TeamMember, error) {
	member, err := s.repo.GetMember(ctx, id)
	if err != nil {
		return nil, storeErr("get member", err)
	}
	if member == nil {
		return nil, ErrNotFound
	}
	return member, nil
}

// GetImport fetches one import by id.
func (s *Service) GetImport(ctx context.Context, id string) (*Import, error) {
	imp, err := s.repo.GetImport(ctx, id)
	if err != nil {
		return nil, storeErr("get import", err)
	}
	if imp == nil {
		return nil, ErrNotFound
	}
	return imp, nil
}

// ListImports returns the import history, optionally for one member.
func (s *Service) ListImports(ctx context.Context, memberID string) ([]Import, error) {
	imports, err := s.repo.ListImports(ctx, memberID)
	return imports, storeErr("list imports", err)
}

// ListCurrentImports returns the current import of every member that has one.
func (s *Service) ListCurrentImports(ctx context.Context) ([]Import, error) {
	imports, err := s.repo.ListCurrentImports(ctx)
	return imports, storeErr("list current imports", err)
}

// ListActivities pages through activity rows, newest first.
func (s *Service) ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, *Cursor, error) {
	filter.Limit = NormalizeLimit(filter.Limit)
	activities, next, err := s.repo.ListActivities(ctx, filter)
	if err != nil {
		return nil, nil, storeErr("list activities", err)
	}
	return activities, next, nil
}

// ListProspects returns prospect rows ordered by last touch, newest first.
func (s *Service) ListProspects(ctx context.Context, filter ProspectFilter) ([]Prospect, error) {
	prospects, err := s.repo.ListProspects(ctx, filter)
	return prospects, storeErr("list prospects", err)
}

// GetTeamStats totals the current imports.
func (s *Service) GetTeamStats(ctx context.Context) (TeamStats, error) {
	current, err := s.ListCurrentImports(ctx)
	if err != nil {
		return TeamStats{}, err
	}
	members, err := s.ListTeamMembers(ctx)
	if err != nil {
		return TeamStats{}, err
	}
	return ComputeTeamStats(current, len(members)), nil
}

// Leaderboard ranks members by the activity total of their current import.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	current, err := s.ListCurrentImports(ctx)
	if err != nil {
		return nil, err
	}
	return BuildLeaderboard(current), nil
}

// PipelineSummary counts prospects and deal value per stage.
func (s *Service) PipelineSummary(ctx context.Context) ([]StageSummary, error) {
	prospects, err := s.ListProspects(ctx, ProspectFilter{})
	if err != nil {
		return nil, err
	}
	return SummarizePipeline(prospects), nil
}

// Contacts searches prospects team-wide and flags duplicate companies.
func (s *Service) Contacts(ctx context.Context, query string, duplicatesOnly bool) ([]Contact, error) {
	prospects, err := s.ListProspects(ctx, ProspectFilter{})
	if err != nil {
		return nil, err
	}
	return BuildContacts(prospects, query, duplicatesOnly), nil
}

// WeeklyTotals buckets every activity row by week.
func (s *Service) WeeklyTotals(ctx context.Context) ([]WeekTotal, error) {
	var (
		all    []Activity
		cursor *Cursor
	)
	for {
		page, next, err := s.ListActivities(ctx, ActivityFilter{Limit: MaxActivityLimit, Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == nil {
			break
		}
		cursor = next
	}
	return FoldWeeklyTotals(all, s.now()), nil
}

// MemberProgress compares a member's current counts with its targets. A member
// without a current import is measured against the default targets.
func (s *Service) MemberProgress(ctx context.Context, memberID string) (*MemberProgress, error) {
	member, err := s.GetTeamMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	progress := &MemberProgress{Member: *member}
	counts, targets := ActivityCounts{}, DefaultTargets()
	if member.CurrentImportID != nil {
		current, err := s.repo.GetImport(ctx, *member.CurrentImportID)
		if err != nil {
			return nil, storeErr("get import", err)
		}
		if current != nil {
			progress.ImportID = &current.ID
			counts, targets = current.ActivityCount, current.Targets
		}
	}
	progress.Targets = ComputeProgress(counts, targets)
	return progress, nil
}
