package api

import (
	"encoding/json"
	"time"

	"example.com/teamdash/internal/domain"
)

const dateLayout = "2006-01-02"

// ListResponse packages list results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
}

// MemberView exposes a team member.
type MemberView struct {
	MemberID        string    `json:"member_id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	IsActive        bool      `json:"is_active"`
	CurrentImportID *string   `json:"current_import_id,omitempty"`
}

// ImportView exposes an import and its cached summary.
type ImportView struct {
	ImportID      string                `json:"import_id"`
	MemberID      string                `json:"member_id"`
	MemberName    string                `json:"member_name"`
	ExportedAt    time.Time             `json:"exported_at"`
	WeekStart     *string               `json:"week_start,omitempty"`
	IsCurrent     bool                  `json:"is_current"`
	Targets       domain.Targets        `json:"targets"`
	ActivityCount domain.ActivityCounts `json:"activity_count"`
	ProspectCount int                   `json:"prospect_count"`
	WonCount      int                   `json:"won_count"`
	WonRevenue    float64               `json:"won_revenue"`
	ImportedAt    time.Time             `json:"imported_at"`
	Source        string                `json:"source"`
	RestoredFrom  *string               `json:"restored_from,omitempty"`
}

// ImportDetailView adds the stored snapshot to an ImportView.
type ImportDetailView struct {
	ImportView
	RawSnapshot json.RawMessage `json:"raw_snapshot"`
}

// ImportResponse describes the outcome of an upload or restore.
type ImportResponse struct {
	Import  ImportView `json:"import"`
	Member  MemberView `json:"member"`
	Replay  bool       `json:"idempotent_replay"`
	Dropped int        `json:"dropped_activities"`
}

// ActivityView exposes one activity row.
type ActivityView struct {
	ActivityID string    `json:"activity_id"`
	ImportID   string    `json:"import_id"`
	MemberID   string    `json:"member_id"`
	Type       string    `json:"type"`
	Name       string    `json:"name,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	WeekOf     *string   `json:"week_of,omitempty"`
}

// ListActivitiesResponse packages a page of activities.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ProspectView exposes one prospect row.
type ProspectView struct {
	ProspectID string     `json:"prospect_id"`
	ImportID   string     `json:"import_id"`
	MemberID   string     `json:"member_id"`
	Company    string     `json:"company"`
	Contact    string     `json:"contact,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Stage      string     `json:"stage"`
	DealValue  float64    `json:"deal_value"`
	CreatedAt  time.Time  `json:"created_at"`
	LastTouch  time.Time  `json:"last_touch"`
	WonAt      *time.Time `json:"won_at,omitempty"`
}

// ContactView is a prospect annotated with the duplicate flag.
type ContactView struct {
	ProspectView
	Duplicate bool `json:"duplicate"`
}

// LeaderboardView is one ranked leaderboard row.
type LeaderboardView struct {
	Rank       int                   `json:"rank"`
	MemberID   string                `json:"member_id"`
	MemberName string                `json:"member_name"`
	ImportID   string                `json:"import_id"`
	Counts     domain.ActivityCounts `json:"counts"`
	Total      int                   `json:"total"`
}

// WeekTotalView is the activity total of one week.
type WeekTotalView struct {
	WeekOf string                `json:"week_of"`
	Counts domain.ActivityCounts `json:"counts"`
	Total  int                   `json:"total"`
}

// TargetProgressView compares one count with its target.
type TargetProgressView struct {
	Type    string  `json:"type"`
	Count   int     `json:"count"`
	Target  int     `json:"target"`
	Percent float64 `json:"percent"`
	Band    string  `json:"band"`
}

// ProgressView is a member's target card.
type ProgressView struct {
	Member   MemberView           `json:"member"`
	ImportID *string              `json:"import_id,omitempty"`
	Targets  []TargetProgressView `json:"targets"`
}

func toMemberView(m domain.TeamMember) MemberView {
	return MemberView{
		MemberID:        m.ID,
		Name:            m.Name,
		CreatedAt:       m.CreatedAt,
		IsActive:        m.IsActive,
		CurrentImportID: m.CurrentImportID,
	}
}

func toImportView(i domain.Import) ImportView {
	return ImportView{
		ImportID:      i.ID,
		MemberID:      i.TeamMemberID,
		MemberName:    i.MemberName,
		ExportedAt:    i.ExportedAt,
		WeekStart:     formatDate(i.WeekStart),
		IsCurrent:     i.IsCurrent,
		Targets:       i.Targets,
		ActivityCount: i.ActivityCount,
		ProspectCount: i.ProspectCount,
		WonCount:      i.WonCount,
		WonRevenue:    i.WonRevenue,
		ImportedAt:    i.ImportedAt,
		Source:        i.Source,
		RestoredFrom:  i.RestoredFrom,
	}
}

func toImportViews(imports []domain.Import) []ImportView {
	items := make([]ImportView, 0, len(imports))
	for _, i := range imports {
		items = append(items, toImportView(i))
	}
	return items
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID: a.ID,
		ImportID:   a.ImportID,
		MemberID:   a.TeamMemberID,
		Type:       string(a.Type),
		Name:       a.Name,
		Notes:      a.Notes,
		Timestamp:  a.Timestamp,
		WeekOf:     formatDate(a.WeekOf),
	}
}

func toProspectView(p domain.Prospect) ProspectView {
	return ProspectView{
		ProspectID: p.ID,
		ImportID:   p.ImportID,
		MemberID:   p.TeamMemberID,
		Company:    p.Company,
		Contact:    p.Contact,
		Email:      p.Email,
		Phone:      p.Phone,
		Stage:      string(p.Stage),
		DealValue:  p.DealValue,
		CreatedAt:  p.CreatedAt,
		LastTouch:  p.LastTouch,
		WonAt:      p.WonAt,
	}
}

func toProgressView(p domain.MemberProgress) ProgressView {
	targets := make([]TargetProgressView, 0, len(p.Targets))
	for _, t := range p.Targets {
		targets = append(targets, TargetProgressView{
			Type:    string(t.Type),
			Count:   t.Count,
			Target:  t.Target,
			Percent: t.Percent,
			Band:    t.Band,
		})
	}
	return ProgressView{Member: toMemberView(p.Member), ImportID: p.ImportID, Targets: targets}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}
