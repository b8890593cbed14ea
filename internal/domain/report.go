package domain

import (
	"sort"
	"strings"
	"time"
)

// TeamStats totals the current imports of every member.
type TeamStats struct {
	Members       int            `json:"members"`
	ActivityCount ActivityCounts `json:"activity_count"`
	ProspectCount int            `json:"prospect_count"`
	WonCount      int            `json:"won_count"`
	WonRevenue    float64        `json:"won_revenue"`
}

// LeaderboardEntry is one ranked row of the activity leaderboard.
type LeaderboardEntry struct {
	Rank       int
	MemberID   string
	MemberName string
	ImportID   string
	Counts     ActivityCounts
	Total      int
}

// StageSummary is one pipeline column.
type StageSummary struct {
	Stage Stage   `json:"stage"`
	Count int     `json:"count"`
	Value float64 `json:"value"`
}

// Contact is a prospect row annotated with its duplicate flag.
type Contact struct {
	Prospect
	Duplicate bool
}

// WeekTotal is the activity count of one calendar week.
type WeekTotal struct {
	WeekOf time.Time
	Counts ActivityCounts
}

// Progress bands for a target.
const (
	BandOnTrack = "on_track"
	BandAtRisk  = "at_risk"
	BandBehind  = "behind"
)

// TargetProgress compares one activity count with its goal.
type TargetProgress struct {
	Type    ActivityType
	Count   int
	Target  int
	Percent float64
	Band    string
}

// MemberProgress is the target card of one member.
type MemberProgress struct {
	Member   TeamMember
	ImportID *string
	Targets  []TargetProgress
}

// ComputeTeamStats sums the cached summaries of current imports.
func ComputeTeamStats(current []Import, members int) TeamStats {
	stats := TeamStats{Members: members}
	var revenue float64
	for _, imp := range current {
		stats.ActivityCount = stats.ActivityCount.Plus(imp.ActivityCount)
		stats.ProspectCount += imp.ProspectCount
		stats.WonCount += imp.WonCount
		revenue += imp.WonRevenue
	}
	stats.WonRevenue = roundCents(revenue)
	return stats
}

// BuildLeaderboard ranks current imports by total activity, highest first.
// Ties keep their input order.
func BuildLeaderboard(current []Import) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(current))
	for _, imp := range current {
		entries = append(entries, LeaderboardEntry{
			MemberID:   imp.TeamMemberID,
			MemberName: imp.MemberName,
			ImportID:   imp.ID,
			Counts:     imp.ActivityCount,
			Total:      imp.ActivityCount.Total(),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total > entries[j].Total
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// SummarizePipeline returns one entry per stage in board order, including empty stages.
func SummarizePipeline(prospects []Prospect) []StageSummary {
	index := make(map[Stage]int, len(Stages))
	out := make([]StageSummary, len(Stages))
	for i, stage := range Stages {
		out[i].Stage = stage
		index[stage] = i
	}
	for _, prospect := range prospects {
		i, ok := index[prospect.Stage]
		if !ok {
			continue
		}
		out[i].Count++
		out[i].Value += prospect.DealValue
	}
	for i := range out {
		out[i].Value = roundCents(out[i].Value)
	}
	return out
}

func companyKey(company string) string {
	return strings.ToLower(strings.TrimSpace(company))
}

// FindDuplicates returns the ids of prospects whose company appears more than once
// or under more than one member. Companies are compared case- and space-insensitively.
func FindDuplicates(prospects []Prospect) map[string]bool {
	type group struct {
		ids     []string
		members map[string]struct{}
	}
	groups := make(map[string]*group)
	for _, prospect := range prospects {
		key := companyKey(prospect.Company)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{members: make(map[string]struct{})}
			groups[key] = g
		}
		g.ids = append(g.ids, prospect.ID)
		g.members[prospect.TeamMemberID] = struct{}{}
	}

	duplicates := make(map[string]bool)
	for _, g := range groups {
		if len(g.ids) < 2 && len(g.members) < 2 {
			continue
		}
		for _, id := range g.ids {
			duplicates[id] = true
		}
	}
	return duplicates
}

// MatchesQuery reports whether any contact field contains query, ignoring case.
func MatchesQuery(p Prospect, query string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, field := range []string{p.Company, p.Contact, p.Email, p.Phone} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

// BuildContacts flags duplicates across all prospects, then applies the search filters.
func BuildContacts(prospects []Prospect, query string, duplicatesOnly bool) []Contact {
	duplicates := FindDuplicates(prospects)
	out := make([]Contact, 0, len(prospects))
	for _, prospect := range prospects {
		dup := duplicates[prospect.ID]
		if duplicatesOnly && !dup {
			continue
		}
		if !MatchesQuery(prospect, query) {
			continue
		}
		out = append(out, Contact{Prospect: prospect, Duplicate: dup})
	}
	return out
}

// FoldWeeklyTotals buckets activity rows by week, newest week first.
// Live rows belong to the week containing now; archived rows to their WeekOf.
func FoldWeeklyTotals(activities []Activity, now time.Time) []WeekTotal {
	current := WeekStart(now)
	buckets := make(map[time.Time]*ActivityCounts)
	for _, activity := range activities {
		week := current
		if activity.WeekOf != nil {
			week = WeekStart(*activity.WeekOf)
		}
		counts, ok := buckets[week]
		if !ok {
			counts = &ActivityCounts{}
			buckets[week] = counts
		}
		counts.Add(activity.Type, 1)
	}

	out := make([]WeekTotal, 0, len(buckets))
	for week, counts := range buckets {
		out = append(out, WeekTotal{WeekOf: week, Counts: *counts})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WeekOf.After(out[j].WeekOf)
	})
	return out
}

// ComputeProgress compares counts with targets, capping percentages at 100.
func ComputeProgress(counts ActivityCounts, targets Targets) []TargetProgress {
	out := make([]TargetProgress, 0, len(ActivityTypes))
	for _, t := range ActivityTypes {
		count, target := counts.Get(t), targets.Get(t)
		percent := 100.0
		if target > 0 {
			percent = float64(count) * 100 / float64(target)
			if percent > 100 {
				percent = 100
			}
		}
		out = append(out, TargetProgress{
			Type:    t,
			Count:   count,
			Target:  target,
			Percent: percent,
			Band:    progressBand(percent),
		})
	}
	return out
}

func progressBand(percent float64) string {
	switch {
	case percent >= 100:
		return BandOnTrack
	case percent >= 70:
		return BandAtRisk
	default:
		return BandBehind
	}
}
