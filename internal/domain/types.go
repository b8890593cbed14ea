// Package domain holds the import reconciliation core of the team dashboard.
package domain

import (
	"strings"
	"time"
)

// ActivityType is one of the four tracked sales activities.
type ActivityType string

const (
	ActivityEmails    ActivityType = "emails"
	ActivityCalls     ActivityType = "calls"
	ActivityMeetings  ActivityType = "meetings"
	ActivityProposals ActivityType = "proposals"
)

// ActivityTypes lists every activity type in display order.
var ActivityTypes = []ActivityType{ActivityEmails, ActivityCalls, ActivityMeetings, ActivityProposals}

// ParseActivityType matches s against the known types, ignoring case and surrounding space.
func ParseActivityType(s string) (ActivityType, bool) {
	switch ActivityType(strings.ToLower(strings.TrimSpace(s))) {
	case ActivityEmails:
		return ActivityEmails, true
	case ActivityCalls:
		return ActivityCalls, true
	case ActivityMeetings:
		return ActivityMeetings, true
	case ActivityProposals:
		return ActivityProposals, true
	}
	return "", false
}

// Stage is a prospect's position in the pipeline.
type Stage string

const (
	StageCold      Stage = "cold"
	StageContacted Stage = "contacted"
	StageMeeting   Stage = "meeting"
	StageProposal  Stage = "proposal"
	StageWon       Stage = "won"
	StageLost      Stage = "lost"
)

// Stages lists the pipeline columns in board order.
var Stages = []Stage{StageCold, StageContacted, StageMeeting, StageProposal, StageWon, StageLost}

// LookupStage reports whether s names a known stage.
func LookupStage(s string) (Stage, bool) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(s)))
	for _, stage := range Stages {
		if stage == candidate {
			return stage, true
		}
	}
	return "", false
}

// ParseStage is LookupStage with unknown values mapped to cold.
func ParseStage(s string) Stage {
	if stage, ok := LookupStage(s); ok {
		return stage
	}
	return StageCold
}

// ActivityCounts holds one integer per activity type.
type ActivityCounts struct {
	Emails    int `json:"emails"`
	Calls     int `json:"calls"`
	Meetings  int `json:"meetings"`
	Proposals int `json:"proposals"`
}

// Get returns the count for t.
func (c ActivityCounts) Get(t ActivityType) int {
	switch t {
	case ActivityEmails:
		return c.Emails
	case ActivityCalls:
		return c.Calls
	case ActivityMeetings:
		return c.Meetings
	case ActivityProposals:
		return c.Proposals
	}
	return 0
}

// Add increments the count for t by n.
func (c *ActivityCounts) Add(t ActivityType, n int) {
	switch t {
	case ActivityEmails:
		c.Emails += n
	case ActivityCalls:
		c.Calls += n
	case ActivityMeetings:
		c.Meetings += n
	case ActivityProposals:
		c.Proposals += n
	}
}

// Plus returns the element-wise sum.
func (c ActivityCounts) Plus(o ActivityCounts) ActivityCounts {
	return ActivityCounts{
		Emails:    c.Emails + o.Emails,
		Calls:     c.Calls + o.Calls,
		Meetings:  c.Meetings + o.Meetings,
		Proposals: c.Proposals + o.Proposals,
	}
}

// Total sums all four types.
func (c ActivityCounts) Total() int {
	return c.Emails + c.Calls + c.Meetings + c.Proposals
}

// Targets are per-type weekly goals.
type Targets ActivityCounts

// DefaultTargets are applied when an upload omits goals.
func DefaultTargets() Targets {
	return Targets{Emails: 50, Calls: 50, Meetings: 10, Proposals: 5}
}

// Get returns the goal for t.
func (t Targets) Get(at ActivityType) int { return ActivityCounts(t).Get(at) }

// TeamMember is a person whose snapshots are tracked.
type TeamMember struct {
	ID              string
	Name            string
	CreatedAt       time.Time
	IsActive        bool
	CurrentImportID *string
}

// Import is one stored snapshot together with its cached summary.
type Import struct {
	ID             string
	TeamMemberID   string
	MemberName     string
	ExportedAt     time.Time
	WeekStart      *time.Time
	RawSnapshot    []byte
	IsCurrent      bool
	Targets        Targets
	ActivityCount  ActivityCounts
	ProspectCount  int
	WonCount       int
	WonRevenue     float64
	ImportedAt     time.Time
	Source         string
	RestoredFrom   *string
	IdempotencyKey *string
}

// Summary returns the cached aggregate of the import.
func (i Import) Summary() Summary {
	return Summary{
		ActivityCount: i.ActivityCount,
		ProspectCount: i.ProspectCount,
		WonCount:      i.WonCount,
		WonRevenue:    i.WonRevenue,
	}
}

// Activity is an exploded activity row. WeekOf is nil for live activities.
type Activity struct {
	ID           string
	ImportID     string
	TeamMemberID string
	Type         ActivityType
	Name         string
	Notes        string
	Timestamp    time.Time
	WeekOf       *time.Time
}

// Prospect is an exploded pipeline row.
type Prospect struct {
	ID           string
	ImportID     string
	TeamMemberID string
	Company      string
	Contact      string
	Email        string
	Phone        string
	Stage        Stage
	DealValue    float64
	CreatedAt    time.Time
	LastTouch    time.Time
	WonAt        *time.Time
}

// ImportPlan is everything ReplaceCurrentImport writes in one transaction.
type ImportPlan struct {
	Import     Import
	Activities []Activity
	Prospects  []Prospect
}

// Cursor is the keyset position of the last activity returned.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// ActivityFilter narrows ListActivities.
type ActivityFilter struct {
	MemberID string
	Type     ActivityType
	Limit    int
	Cursor   *Cursor
}

// ProspectFilter narrows ListProspects.
type ProspectFilter struct {
	MemberID string
	Stage    Stage
}

// Activity listing limits.
const (
	DefaultActivityLimit = 100
	MaxActivityLimit     = 500
)

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		return MaxActivityLimit
	}
	return limit
}

// WeekStart returns midnight UTC on the Monday of t's week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
