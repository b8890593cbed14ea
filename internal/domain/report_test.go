package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSummarizeCountsLiveActivitiesOnly(t *testing.T) {
	snap := Snapshot{
		Activities: []SnapshotActivity{
			{Type: ActivityCalls}, {Type: ActivityCalls}, {Type: ActivityEmails}, {Type: ActivityProposals},
		},
		Archived: []SnapshotActivity{{Type: ActivityMeetings}, {Type: ActivityCalls}},
		Prospects: []SnapshotProspect{
			{Stage: StageWon, DealValue: 1000},
			{Stage: StageWon, DealValue: 0.1},
			{Stage: StageWon, DealValue: 0.2},
			{Stage: StageProposal, DealValue: 5000},
		},
	}

	summary := Summarize(snap)
	require.Equal(t, ActivityCounts{Emails: 1, Calls: 2, Meetings: 0, Proposals: 1}, summary.ActivityCount)
	require.Equal(t, 4, summary.ProspectCount)
	require.Equal(t, 3, summary.WonCount)
	require.Equal(t, 1000.3, summary.WonRevenue)
}

func TestWonRevenueMatchesSummary(t *testing.T) {
	rows := []Prospect{
		{Stage: StageWon, DealValue: 0.1},
		{Stage: StageLost, DealValue: 99},
		{Stage: StageWon, DealValue: 0.2},
		{Stage: StageWon, DealValue: 1000},
	}
	snap := Snapshot{Prospects: []SnapshotProspect{
		{Stage: StageWon, DealValue: 1000},
		{Stage: StageWon, DealValue: 0.2},
		{Stage: StageLost, DealValue: 99},
		{Stage: StageWon, DealValue: 0.1},
	}}
	require.Equal(t, Summarize(snap).WonRevenue, WonRevenue(rows))
}

func TestLeaderboardStableDescending(t *testing.T) {
	current := []Import{
		{ID: "ia", TeamMemberID: "a", MemberName: "A", ActivityCount: ActivityCounts{Emails: 10, Calls: 5, Meetings: 2, Proposals: 1}},
		{ID: "ib", TeamMemberID: "b", MemberName: "B", ActivityCount: ActivityCounts{Emails: 20}},
		{ID: "ic", TeamMemberID: "c", MemberName: "C", ActivityCount: ActivityCounts{Calls: 18}},
	}

	board := BuildLeaderboard(current)
	require.Len(t, board, 3)
	require.Equal(t, "B", board[0].MemberName)
	require.Equal(t, 20, board[0].Total)
	require.Equal(t, 1, board[0].Rank)
	// A and C tie on 18 and keep their input order.
	require.Equal(t, "A", board[1].MemberName)
	require.Equal(t, 2, board[1].Rank)
	require.Equal(t, "C", board[2].MemberName)
	require.Equal(t, 3, board[2].Rank)
}

func TestSummarizePipeline(t *testing.T) {
	out := SummarizePipeline([]Prospect{
		{Stage: StageWon, DealValue: 1000},
		{Stage: StageCold, DealValue: 0},
	})
	require.Len(t, out, len(Stages))
	for i, stage := range Stages {
		require.Equal(t, stage, out[i].Stage)
	}
	require.Equal(t, StageSummary{Stage: StageWon, Count: 1, Value: 1000}, out[4])
	require.Equal(t, StageSummary{Stage: StageCold, Count: 1, Value: 0}, out[0])
	require.Equal(t, StageSummary{Stage: StageLost}, out[5])
}

func TestFindDuplicates(t *testing.T) {
	dups := FindDuplicates([]Prospect{
		{ID: "1", Company: "Acme", TeamMemberID: "m1"},
		{ID: "2", Company: "ACME ", TeamMemberID: "m2"},
		{ID: "3", Company: "Globex", TeamMemberID: "m1"},
		{ID: "4", Company: "  ", TeamMemberID: "m1"},
		{ID: "5", Company: "", TeamMemberID: "m2"},
	})
	require.True(t, dups["1"])
	require.True(t, dups["2"])
	require.False(t, dups["3"])
	require.False(t, dups["4"])
	require.False(t, dups["5"])

	require.Empty(t, FindDuplicates([]Prospect{{ID: "1", Company: "Acme", TeamMemberID: "m1"}}))
}

func TestBuildContactsFilters(t *testing.T) {
	prospects := []Prospect{
		{ID: "1", Company: "Acme", Contact: "Wile E.", TeamMemberID: "m1"},
		{ID: "2", Company: "acme", Email: "road@runner.io", TeamMemberID: "m1"},
		{ID: "3", Company: "Globex", Phone: "555-0100", TeamMemberID: "m2"},
	}

	all := BuildContacts(prospects, "", false)
	require.Len(t, all, 3)
	require.True(t, all[0].Duplicate)
	require.False(t, all[2].Duplicate)

	byQuery := BuildContacts(prospects, "RUNNER", false)
	require.Len(t, byQuery, 1)
	require.Equal(t, "2", byQuery[0].ID)

	dupsOnly := BuildContacts(prospects, "", true)
	require.Len(t, dupsOnly, 2)

	require.Len(t, BuildContacts(prospects, "0100", false), 1)
}

func TestFoldWeeklyTotals(t *testing.T) {
	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	older := time.Date(2025, 5, 26, 0, 0, 0, 0, time.UTC)
	midweek := time.Date(2025, 5, 28, 0, 0, 0, 0, time.UTC)

	weeks := FoldWeeklyTotals([]Activity{
		{Type: ActivityCalls},
		{Type: ActivityCalls},
		{Type: ActivityEmails},
		{Type: ActivityMeetings, WeekOf: &older},
		{Type: ActivityMeetings, WeekOf: &midweek},
	}, now)

	require.Len(t, weeks, 2)
	require.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), weeks[0].WeekOf)
	require.Equal(t, ActivityCounts{Emails: 1, Calls: 2}, weeks[0].Counts)
	require.Equal(t, older, weeks[1].WeekOf)
	require.Equal(t, ActivityCounts{Meetings: 2}, weeks[1].Counts)
}

func TestComputeProgressBands(t *testing.T) {
	progress := ComputeProgress(
		ActivityCounts{Emails: 60, Calls: 35, Meetings: 7, Proposals: 0},
		Targets{Emails: 50, Calls: 50, Meetings: 10, Proposals: 0},
	)
	require.Len(t, progress, 4)

	require.Equal(t, 100.0, progress[0].Percent)
	require.Equal(t, BandOnTrack, progress[0].Band)

	require.InDelta(t, 70.0, progress[1].Percent, 1e-9)
	require.Equal(t, BandAtRisk, progress[1].Band)

	require.InDelta(t, 70.0, progress[2].Percent, 1e-9)
	require.Equal(t, BandAtRisk, progress[2].Band)

	require.Equal(t, 100.0, progress[3].Percent)
	require.Equal(t, BandOnTrack, progress[3].Band)

	behind := ComputeProgress(ActivityCounts{Emails: 10}, DefaultTargets())
	require.Equal(t, BandBehind, behind[0].Band)
	require.InDelta(t, 20.0, behind[0].Percent, 1e-9)
}

func TestComputeTeamStats(t *testing.T) {
	stats := ComputeTeamStats([]Import{
		{ActivityCount: ActivityCounts{Emails: 1, Calls: 2}, ProspectCount: 3, WonCount: 1, WonRevenue: 100.1},
		{ActivityCount: ActivityCounts{Meetings: 4}, ProspectCount: 2, WonCount: 2, WonRevenue: 0.2},
	}, 3)
	require.Equal(t, 3, stats.Members)
	require.Equal(t, ActivityCounts{Emails: 1, Calls: 2, Meetings: 4}, stats.ActivityCount)
	require.Equal(t, 5, stats.ProspectCount)
	require.Equal(t, 3, stats.WonCount)
	require.Equal(t, 100.3, stats.WonRevenue)
}

func TestEnumerations(t *testing.T) {
	at, ok := ParseActivityType(" Calls ")
	require.True(t, ok)
	require.Equal(t, ActivityCalls, at)
	_, ok = ParseActivityType("tweets")
	require.False(t, ok)

	require.Equal(t, StageProposal, ParseStage("Proposal"))
	require.Equal(t, StageCold, ParseStage(""))
	_, ok = LookupStage("negotiating")
	require.False(t, ok)
}
