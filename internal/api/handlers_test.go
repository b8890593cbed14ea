package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/persistence/memory"
	"example.com/teamdash/internal/platform/logger"
)

const anaSnapshot = `{
	"userName": "Ana",
	"exportedAt": "2025-06-10T12:00:00Z",
	"currentWeekStart": "2025-06-09",
	"targets": {"calls": 2},
	"activities": [
		{"type": "calls", "name": "Acme", "timestamp": "2025-06-10T08:00:00Z"},
		{"type": "calls", "name": "Globex", "timestamp": "2025-06-10T09:00:00Z"},
		{"type": "emails", "name": "Acme", "timestamp": "2025-06-10T10:00:00Z"},
		{"type": "faxes", "timestamp": "2025-06-10T11:00:00Z"}
	],
	"archivedActivities": [{"type": "meetings", "timestamp": "2025-05-28T10:00:00Z", "weekOf": "2025-05-26"}],
	"prospects": [
		{"company": "Acme", "contact": "Wile", "email": "wile@acme.test", "stage": "won", "dealValue": 1200},
		{"company": "Globex", "stage": "proposal", "dealValue": 300}
	]
}`

const benSnapshot = `{
	"userName": "Ben",
	"exportedAt": "2025-06-10T12:00:00Z",
	"activities": [{"type": "proposals", "timestamp": "2025-06-10T07:00:00Z"}],
	"prospects": [{"company": " acme ", "stage": "meeting", "dealValue": 50}]
}`

func newTestServer(t *testing.T, opts ...Option) http.Handler {
	t.Helper()
	clock := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	svc := domain.NewService(memory.NewRepository(), domain.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	mux := http.NewServeMux()
	NewHandler(svc, append([]Option{WithLogger(logger.NewNop())}, opts...)...).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func upload(t *testing.T, h http.Handler, body string, headers map[string]string) ImportResponse {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/v1/imports", body, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[ImportResponse](t, rr)
}

func TestImportUploadAndReplay(t *testing.T) {
	h := newTestServer(t)
	headers := map[string]string{FileNameHeader: "ana.json", IdempotencyHeader: "req-1"}

	created := upload(t, h, anaSnapshot, headers)
	require.False(t, created.Replay)
	require.True(t, created.Import.IsCurrent)
	require.Equal(t, "Ana", created.Member.Name)
	require.Equal(t, "ana.json", created.Import.Source)
	require.Equal(t, 1, created.Dropped)
	require.Equal(t, domain.ActivityCounts{Emails: 1, Calls: 2}, created.Import.ActivityCount)
	require.Equal(t, 2, created.Import.Targets.Calls)
	require.Equal(t, 50, created.Import.Targets.Emails)
	require.Equal(t, 1200.0, created.Import.WonRevenue)
	require.Equal(t, "2025-06-09", *created.Import.WeekStart)

	rr := do(t, h, http.MethodPost, "/v1/imports", benSnapshot, headers)
	require.Equal(t, http.StatusOK, rr.Code)
	replay := decode[ImportResponse](t, rr)
	require.True(t, replay.Replay)
	require.Equal(t, created.Import.ImportID, replay.Import.ImportID)

	rr = do(t, h, http.MethodGet, "/v1/imports/"+created.Import.ImportID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[ImportDetailView](t, rr)
	require.JSONEq(t, anaSnapshot, string(detail.RawSnapshot))
}

func TestImportRejectsMalformedSnapshot(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/v1/imports", `{"userName": "Ana", "activities": [`, map[string]string{FileNameHeader: "broken.json"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[map[string]string](t, rr)
	require.Equal(t, "malformed_snapshot", body["type"])
	require.Contains(t, body["detail"], "broken.json")

	rr = do(t, h, http.MethodGet, "/v1/imports", "", nil)
	require.Empty(t, decode[ListResponse[ImportView]](t, rr).Items)
}

func TestImportNonObjectSnapshotUsesDefaults(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/v1/imports", `["not","an","object"]`, map[string]string{FileNameHeader: "list.json"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[ImportResponse](t, rr)
	require.True(t, strings.HasPrefix(created.Member.Name, "Unnamed export "), created.Member.Name)
	require.Zero(t, created.Import.ActivityCount)

	rr = do(t, h, http.MethodPost, "/v1/imports", `null`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestImportRejectsOversizedUpload(t *testing.T) {
	h := newTestServer(t, WithMaxUploadBytes(16))

	rr := do(t, h, http.MethodPost, "/v1/imports", anaSnapshot, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.Equal(t, "payload_too_large", decode[map[string]string](t, rr)["type"])
}

func TestImportForMember(t *testing.T) {
	h := newTestServer(t)
	ana := upload(t, h, anaSnapshot, nil)

	// The owner named in the file is ignored when the member is explicit.
	rr := do(t, h, http.MethodPost, "/v1/members/"+ana.Member.MemberID+"/imports", benSnapshot, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	second := decode[ImportResponse](t, rr)
	require.Equal(t, ana.Member.MemberID, second.Member.MemberID)

	rr = do(t, h, http.MethodGet, "/v1/members", "", nil)
	members := decode[ListResponse[MemberView]](t, rr).Items
	require.Len(t, members, 1)
	require.Equal(t, second.Import.ImportID, *members[0].CurrentImportID)

	rr = do(t, h, http.MethodPost, "/v1/members/"+uuid.NewString()+"/imports", benSnapshot, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestImportForMemberRejectsKeyOfAnotherMember(t *testing.T) {
	h := newTestServer(t)
	ana := upload(t, h, anaSnapshot, map[string]string{IdempotencyHeader: "req-1"})
	ben := upload(t, h, benSnapshot, nil)

	rr := do(t, h, http.MethodPost, "/v1/members/"+ben.Member.MemberID+"/imports", benSnapshot, map[string]string{IdempotencyHeader: "req-1"})
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	require.Equal(t, "idempotency_conflict", decode[map[string]string](t, rr)["type"])

	rr = do(t, h, http.MethodPost, "/v1/members/"+ana.Member.MemberID+"/imports", anaSnapshot, map[string]string{IdempotencyHeader: "req-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, ana.Import.ImportID, decode[ImportResponse](t, rr).Import.ImportID)
}

func TestRestoreAndDeleteImport(t *testing.T) {
	h := newTestServer(t)
	first := upload(t, h, anaSnapshot, map[string]string{FileNameHeader: "v1.json"})
	upload(t, h, strings.Replace(anaSnapshot, `"type": "emails"`, `"type": "meetings"`, 1), map[string]string{FileNameHeader: "v2.json"})

	rr := do(t, h, http.MethodPost, "/v1/imports/"+first.Import.ImportID+"/restore", "", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	restored := decode[ImportResponse](t, rr)
	require.Equal(t, first.Import.ImportID, *restored.Import.RestoredFrom)
	require.Equal(t, first.Import.ActivityCount, restored.Import.ActivityCount)

	rr = do(t, h, http.MethodGet, "/v1/imports/current", "", nil)
	current := decode[ListResponse[ImportView]](t, rr).Items
	require.Len(t, current, 1)
	require.Equal(t, restored.Import.ImportID, current[0].ImportID)

	rr = do(t, h, http.MethodGet, "/v1/imports?member_id="+first.Member.MemberID, "", nil)
	require.Len(t, decode[ListResponse[ImportView]](t, rr).Items, 3)

	rr = do(t, h, http.MethodDelete, "/v1/imports/"+restored.Import.ImportID, "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/imports/current", "", nil)
	require.Empty(t, decode[ListResponse[ImportView]](t, rr).Items)

	rr = do(t, h, http.MethodDelete, "/v1/imports/"+restored.Import.ImportID, "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "not_found", decode[map[string]string](t, rr)["type"])

	rr = do(t, h, http.MethodPost, "/v1/imports/"+uuid.NewString()+"/restore", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvalidIdentifiers(t *testing.T) {
	h := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodDelete, "/v1/imports/not-a-uuid"},
		{http.MethodPost, "/v1/imports/123/restore"},
		{http.MethodDelete, "/v1/members/abc"},
		{http.MethodGet, "/v1/members/abc/progress"},
		{http.MethodGet, "/v1/imports?member_id=abc"},
		{http.MethodGet, "/v1/activities?type=faxes"},
		{http.MethodGet, "/v1/activities?limit=ten"},
		{http.MethodGet, "/v1/activities?cursor=***"},
		{http.MethodGet, "/v1/prospects?stage=closed"},
		{http.MethodGet, "/v1/contacts?duplicates_only=maybe"},
	} {
		rr := do(t, h, tc.method, tc.path, "", nil)
		require.Equalf(t, http.StatusBadRequest, rr.Code, "%s %s", tc.method, tc.path)
		require.Equal(t, "invalid_request", decode[map[string]string](t, rr)["type"])
	}
}

func TestActivityPagination(t *testing.T) {
	h := newTestServer(t)
	ana := upload(t, h, anaSnapshot, nil)

	rr := do(t, h, http.MethodGet, "/v1/activities?limit=2&member_id="+ana.Member.MemberID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	page := decode[ListActivitiesResponse](t, rr)
	require.Len(t, page.Items, 2)
	require.Equal(t, "emails", page.Items[0].Type)
	require.NotEmpty(t, page.NextCursor)

	rr = do(t, h, http.MethodGet, "/v1/activities?limit=2&cursor="+page.NextCursor, "", nil)
	rest := decode[ListActivitiesResponse](t, rr)
	require.Len(t, rest.Items, 2)
	require.Empty(t, rest.NextCursor)
	require.Equal(t, "meetings", rest.Items[1].Type)
	require.Equal(t, "2025-05-26", *rest.Items[1].WeekOf)

	rr = do(t, h, http.MethodGet, "/v1/activities?type=calls", "", nil)
	require.Len(t, decode[ListActivitiesResponse](t, rr).Items, 2)
}

func TestReports(t *testing.T) {
	h := newTestServer(t)
	ana := upload(t, h, anaSnapshot, nil)
	upload(t, h, benSnapshot, nil)

	rr := do(t, h, http.MethodGet, "/v1/stats", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decode[domain.TeamStats](t, rr)
	require.Equal(t, 2, stats.Members)
	require.Equal(t, domain.ActivityCounts{Emails: 1, Calls: 2, Proposals: 1}, stats.ActivityCount)
	require.Equal(t, 3, stats.ProspectCount)
	require.Equal(t, 1, stats.WonCount)
	require.Equal(t, 1200.0, stats.WonRevenue)

	rr = do(t, h, http.MethodGet, "/v1/reports/leaderboard", "", nil)
	board := decode[ListResponse[LeaderboardView]](t, rr).Items
	require.Len(t, board, 2)
	require.Equal(t, "Ana", board[0].MemberName)
	require.Equal(t, 1, board[0].Rank)
	require.Equal(t, 3, board[0].Total)

	rr = do(t, h, http.MethodGet, "/v1/reports/pipeline", "", nil)
	stages := decode[ListResponse[domain.StageSummary]](t, rr).Items
	require.Len(t, stages, len(domain.Stages))
	for _, s := range stages {
		if s.Stage == domain.StageWon {
			require.Equal(t, 1, s.Count)
			require.Equal(t, 1200.0, s.Value)
		}
	}

	rr = do(t, h, http.MethodGet, "/v1/contacts?duplicates_only=true", "", nil)
	dups := decode[ListResponse[ContactView]](t, rr).Items
	require.Len(t, dups, 2)
	for _, c := range dups {
		require.True(t, c.Duplicate)
	}

	rr = do(t, h, http.MethodGet, "/v1/contacts?q=wile@", "", nil)
	found := decode[ListResponse[ContactView]](t, rr).Items
	require.Len(t, found, 1)
	require.Equal(t, "Acme", found[0].Company)

	rr = do(t, h, http.MethodGet, "/v1/prospects?stage=won", "", nil)
	require.Len(t, decode[ListResponse[ProspectView]](t, rr).Items, 1)

	rr = do(t, h, http.MethodGet, "/v1/reports/weekly", "", nil)
	weeks := decode[ListResponse[WeekTotalView]](t, rr).Items
	require.Len(t, weeks, 2)
	require.Equal(t, "2025-06-09", weeks[0].WeekOf)
	require.Equal(t, 4, weeks[0].Total)
	require.Equal(t, "2025-05-26", weeks[1].WeekOf)
	require.Equal(t, domain.ActivityCounts{Meetings: 1}, weeks[1].Counts)

	rr = do(t, h, http.MethodGet, "/v1/members/"+ana.Member.MemberID+"/progress", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	progress := decode[ProgressView](t, rr)
	require.Equal(t, ana.Import.ImportID, *progress.ImportID)
	bands := map[string]string{}
	for _, tp := range progress.Targets {
		bands[tp.Type] = tp.Band
	}
	require.Equal(t, domain.BandOnTrack, bands["calls"])
	require.Equal(t, domain.BandBehind, bands["emails"])
}

func TestDeleteMember(t *testing.T) {
	h := newTestServer(t)
	ana := upload(t, h, anaSnapshot, nil)

	rr := do(t, h, http.MethodDelete, "/v1/members/"+ana.Member.MemberID, "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/v1/members", "", nil)
	require.Empty(t, decode[ListResponse[MemberView]](t, rr).Items)

	rr = do(t, h, http.MethodGet, "/v1/activities", "", nil)
	require.Empty(t, decode[ListActivitiesResponse](t, rr).Items)

	rr = do(t, h, http.MethodDelete, "/v1/members/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthzAndCORS(t *testing.T) {
	h := CORS("http://localhost:5173")(RequestLogger(logger.NewNop())(newTestServer(t)))

	rr := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
	require.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, h, http.MethodOptions, "/v1/imports", "", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), IdempotencyHeader)
}
