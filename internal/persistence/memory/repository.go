// Package memory provides a mutex-guarded repository for tests and local runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/persistence"
)

var errDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// Repository stores members, imports and their rows in maps.
type Repository struct {
	mu         sync.RWMutex
	members    map[string]domain.TeamMember
	imports    map[string]domain.Import
	activities map[string][]domain.Activity // keyed by member id
	prospects  map[string][]domain.Prospect // keyed by member id
}

// NewRepository constructs an empty repository.
func NewRepository() *Repository {
	return &Repository{
		members:    make(map[string]domain.TeamMember),
		imports:    make(map[string]domain.Import),
		activities: make(map[string][]domain.Activity),
		prospects:  make(map[string][]domain.Prospect),
	}
}

// UpsertMember implements domain.Repository.
func (r *Repository) UpsertMember(ctx context.Context, member domain.TeamMember) (*domain.TeamMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.members {
		if existing.Name == member.Name {
			existing.IsActive = true
			r.members[id] = existing
			return cloneMember(existing), nil
		}
	}
	member.IsActive = true
	member.CurrentImportID = nil
	r.members[member.ID] = member
	return cloneMember(member), nil
}

// GetMember implements domain.Repository.
func (r *Repository) GetMember(ctx context.Context, id string) (*domain.TeamMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[id]
	if !ok {
		return nil, nil
	}
	return cloneMember(member), nil
}

// ListMembers implements domain.Repository.
func (r *Repository) ListMembers(ctx context.Context) ([]domain.TeamMember, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TeamMember, 0, len(r.members))
	for _, member := range r.members {
		if member.IsActive {
			out = append(out, *cloneMember(member))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteMember implements domain.Repository.
func (r *Repository) DeleteMember(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[id]
	if !ok {
		return domain.ErrNotFound
	}
	for importID, imp := range r.imports {
		if imp.TeamMemberID == id {
			delete(r.imports, importID)
		}
	}
	delete(r.activities, id)
	delete(r.prospects, id)
	member.CurrentImportID = nil
	member.IsActive = false
	r.members[id] = member
	return nil
}

// GetImport implements domain.Repository.
func (r *Repository) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	imp, ok := r.imports[id]
	if !ok {
		return nil, nil
	}
	out := r.decorate(imp)
	return &out, nil
}

// ListImports implements domain.Repository.
func (r *Repository) ListImports(ctx context.Context, memberID string) ([]domain.Import, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Import, 0)
	for _, imp := range r.imports {
		if memberID != "" && imp.TeamMemberID != memberID {
			continue
		}
		out = append(out, r.decorate(imp))
	}
	sortImports(out)
	return out, nil
}

// ListCurrentImports implements domain.Repository.
func (r *Repository) ListCurrentImports(ctx context.Context) ([]domain.Import, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Import, 0)
	for _, member := range r.members {
		if member.CurrentImportID == nil {
			continue
		}
		if imp, ok := r.imports[*member.CurrentImportID]; ok {
			out = append(out, r.decorate(imp))
		}
	}
	sortImports(out)
	return out, nil
}

// FindImportByIdempotency implements domain.Repository.
func (r *Repository) FindImportByIdempotency(ctx context.Context, key string) (*domain.Import, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, imp := range r.imports {
		if imp.IdempotencyKey != nil && *imp.IdempotencyKey == key {
			out := r.decorate(imp)
			return &out, nil
		}
	}
	return nil, nil
}

// ReplaceCurrentImport implements domain.Repository. The write lock plays the
// role of the member row lock.
func (r *Repository) ReplaceCurrentImport(ctx context.Context, plan domain.ImportPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	memberID := plan.Import.TeamMemberID
	member, ok := r.members[memberID]
	if !ok {
		return domain.ErrNotFound
	}
	if key := plan.Import.IdempotencyKey; key != nil {
		for _, imp := range r.imports {
			if imp.IdempotencyKey != nil && *imp.IdempotencyKey == *key {
				return errDuplicateIdempotencyKey
			}
		}
	}

	imp := plan.Import
	imp.RawSnapshot = append([]byte(nil), imp.RawSnapshot...)
	imp.IsCurrent = false
	imp.MemberName = ""
	r.imports[imp.ID] = imp

	r.activities[memberID] = append([]domain.Activity(nil), plan.Activities...)
	r.prospects[memberID] = append([]domain.Prospect(nil), plan.Prospects...)

	importID := imp.ID
	member.CurrentImportID = &importID
	member.IsActive = true
	r.members[memberID] = member
	return nil
}

// DeleteImport implements domain.Repository.
func (r *Repository) DeleteImport(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	imp, ok := r.imports[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.imports, id)

	memberID := imp.TeamMemberID
	r.activities[memberID] = filterActivities(r.activities[memberID], id)
	r.prospects[memberID] = filterProspects(r.prospects[memberID], id)

	if member, ok := r.members[memberID]; ok && member.CurrentImportID != nil && *member.CurrentImportID == id {
		member.CurrentImportID = nil
		r.members[memberID] = member
	}
	return nil
}

// ListActivities implements domain.Repository.
func (r *Repository) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, *domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]domain.Activity, 0)
	for memberID, activities := range r.activities {
		if filter.MemberID != "" && memberID != filter.MemberID {
			continue
		}
		for _, activity := range activities {
			if filter.Type != "" && activity.Type != filter.Type {
				continue
			}
			if !persistence.Before(filter.Cursor, activity.Timestamp, activity.ID) {
				continue
			}
			rows = append(rows, activity)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})

	limit := domain.NormalizeLimit(filter.Limit)
	if len(rows) <= limit {
		return rows, nil, nil
	}
	page := rows[:limit]
	last := page[len(page)-1]
	return page, &domain.Cursor{Timestamp: last.Timestamp, ID: last.ID}, nil
}

// ListProspects implements domain.Repository.
func (r *Repository) ListProspects(ctx context.Context, filter domain.ProspectFilter) ([]domain.Prospect, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make([]domain.Prospect, 0)
	for memberID, prospects := range r.prospects {
		if filter.MemberID != "" && memberID != filter.MemberID {
			continue
		}
		for _, prospect := range prospects {
			if filter.Stage != "" && prospect.Stage != filter.Stage {
				continue
			}
			rows = append(rows, prospect)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].LastTouch.Equal(rows[j].LastTouch) {
			return rows[i].ID < rows[j].ID
		}
		return rows[i].LastTouch.After(rows[j].LastTouch)
	})
	return rows, nil
}

// decorate derives the read-only fields; callers hold the lock.
func (r *Repository) decorate(imp domain.Import) domain.Import {
	member := r.members[imp.TeamMemberID]
	imp.MemberName = member.Name
	imp.IsCurrent = member.CurrentImportID != nil && *member.CurrentImportID == imp.ID
	imp.RawSnapshot = append([]byte(nil), imp.RawSnapshot...)
	return imp
}

func cloneMember(m domain.TeamMember) *domain.TeamMember {
	if m.CurrentImportID != nil {
		id := *m.CurrentImportID
		m.CurrentImportID = &id
	}
	return &m
}

func sortImports(imports []domain.Import) {
	sort.Slice(imports, func(i, j int) bool {
		if imports[i].ImportedAt.Equal(imports[j].ImportedAt) {
			return imports[i].ID > imports[j].ID
		}
		return imports[i].ImportedAt.After(imports[j].ImportedAt)
	})
}

func filterActivities(rows []domain.Activity, importID string) []domain.Activity {
	out := rows[:0]
	for _, row := range rows {
		if row.ImportID != importID {
			out = append(out, row)
		}
	}
	return out
}

func filterProspects(rows []domain.Prospect, importID string) []domain.Prospect {
	out := rows[:0]
	for _, row := range rows {
		if row.ImportID != importID {
			out = append(out, row)
		}
	}
	return out
}
