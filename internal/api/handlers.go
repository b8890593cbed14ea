// Package api exposes HTTP handlers for the team dashboard.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"example.com/teamdash/internal/domain"
	"example.com/teamdash/internal/persistence"
	"example.com/teamdash/internal/platform/logger"
)

const (
	// FileNameHeader carries the original name of an uploaded snapshot.
	FileNameHeader = "X-File-Name"
	// IdempotencyHeader lets a client retry an upload without importing twice.
	IdempotencyHeader = "Idempotency-Key"

	defaultMaxUploadBytes = 10 << 20
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service        *domain.Service
	log            *logger.Logger
	maxUploadBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for unexpected failures.
func WithLogger(l *logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMaxUploadBytes caps the accepted snapshot size.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service, log: logger.NewNop(), maxUploadBytes: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)

	mux.HandleFunc("GET /v1/members", h.listMembers)
	mux.HandleFunc("DELETE /v1/members/{id}", h.deleteMember)
	mux.HandleFunc("GET /v1/members/{id}/progress", h.memberProgress)
	mux.HandleFunc("POST /v1/members/{id}/imports", h.importForMember)

	mux.HandleFunc("GET /v1/imports", h.listImports)
	mux.HandleFunc("GET /v1/imports/current", h.listCurrentImports)
	mux.HandleFunc("POST /v1/imports", h.importFile)
	mux.HandleFunc("GET /v1/imports/{id}", h.getImport)
	mux.HandleFunc("POST /v1/imports/{id}/restore", h.restoreImport)
	mux.HandleFunc("DELETE /v1/imports/{id}", h.deleteImport)

	mux.HandleFunc("GET /v1/activities", h.listActivities)
	mux.HandleFunc("GET /v1/prospects", h.listProspects)
	mux.HandleFunc("GET /v1/contacts", h.contacts)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("GET /v1/reports/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /v1/reports/pipeline", h.pipeline)
	mux.HandleFunc("GET /v1/reports/weekly", h.weekly)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListTeamMembers(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]MemberView, 0, len(members))
	for _, m := range members {
		items = append(items, toMemberView(m))
	}
	writeJSON(w, http.StatusOK, ListResponse[MemberView]{Items: items})
}

func (h *Handler) deleteMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteTeamMember(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) memberProgress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	progress, err := h.service.MemberProgress(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressView(*progress))
}

func (h *Handler) importForMember(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	raw, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	result, err := h.service.ImportSnapshot(r.Context(), id, raw, uploadOptions(r))
	h.writeImportResult(w, result, err)
}

func (h *Handler) importFile(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	result, err := h.service.ImportFile(r.Context(), raw, uploadOptions(r))
	h.writeImportResult(w, result, err)
}

func (h *Handler) listImports(w http.ResponseWriter, r *http.Request) {
	memberID, ok := queryID(w, r, "member_id")
	if !ok {
		return
	}
	imports, err := h.service.ListImports(r.Context(), memberID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[ImportView]{Items: toImportViews(imports)})
}

func (h *Handler) listCurrentImports(w http.ResponseWriter, r *http.Request) {
	imports, err := h.service.ListCurrentImports(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[ImportView]{Items: toImportViews(imports)})
}

func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	imp, err := h.service.GetImport(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportDetailView{
		ImportView:  toImportView(*imp),
		RawSnapshot: json.RawMessage(imp.RawSnapshot),
	})
}

func (h *Handler) restoreImport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.RestoreImport(r.Context(), id)
	h.writeImportResult(w, result, err)
}

func (h *Handler) deleteImport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteImport(r.Context(), id); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	memberID, ok := queryID(w, r, "member_id")
	if !ok {
		return
	}

	filter := domain.ActivityFilter{MemberID: memberID}
	if raw := q.Get("type"); raw != "" {
		activityType, known := domain.ParseActivityType(raw)
		if !known {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown activity type "+strconv.Quote(raw))
			return
		}
		filter.Type = activityType
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	cursor, err := persistence.DecodeCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid cursor")
		return
	}
	filter.Cursor = cursor

	activities, next, err := h.service.ListActivities(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items, NextCursor: persistence.EncodeCursor(next)})
}

func (h *Handler) listProspects(w http.ResponseWriter, r *http.Request) {
	memberID, ok := queryID(w, r, "member_id")
	if !ok {
		return
	}
	filter := domain.ProspectFilter{MemberID: memberID}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, known := domain.LookupStage(raw)
		if !known {
			writeError(w, http.StatusBadRequest, "invalid_request", "unknown stage "+strconv.Quote(raw))
			return
		}
		filter.Stage = stage
	}

	prospects, err := h.service.ListProspects(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]ProspectView, 0, len(prospects))
	for _, p := range prospects {
		items = append(items, toProspectView(p))
	}
	writeJSON(w, http.StatusOK, ListResponse[ProspectView]{Items: items})
}

func (h *Handler) contacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	duplicatesOnly := false
	if raw := q.Get("duplicates_only"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "duplicates_only must be a boolean")
			return
		}
		duplicatesOnly = parsed
	}

	contacts, err := h.service.Contacts(r.Context(), q.Get("q"), duplicatesOnly)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, ContactView{ProspectView: toProspectView(c.Prospect), Duplicate: c.Duplicate})
	}
	writeJSON(w, http.StatusOK, ListResponse[ContactView]{Items: items})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetTeamStats(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.Leaderboard(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]LeaderboardView, 0, len(entries))
	for _, e := range entries {
		items = append(items, LeaderboardView{
			Rank:       e.Rank,
			MemberID:   e.MemberID,
			MemberName: e.MemberName,
			ImportID:   e.ImportID,
			Counts:     e.Counts,
			Total:      e.Total,
		})
	}
	writeJSON(w, http.StatusOK, ListResponse[LeaderboardView]{Items: items})
}

func (h *Handler) pipeline(w http.ResponseWriter, r *http.Request) {
	stages, err := h.service.PipelineSummary(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[domain.StageSummary]{Items: stages})
}

func (h *Handler) weekly(w http.ResponseWriter, r *http.Request) {
	weeks, err := h.service.WeeklyTotals(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]WeekTotalView, 0, len(weeks))
	for _, wk := range weeks {
		items = append(items, WeekTotalView{WeekOf: wk.WeekOf.Format(dateLayout), Counts: wk.Counts, Total: wk.Counts.Total()})
	}
	writeJSON(w, http.StatusOK, ListResponse[WeekTotalView]{Items: items})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "snapshot exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return nil, false
	}
	return raw, true
}

func (h *Handler) writeImportResult(w http.ResponseWriter, result *domain.ImportResult, err error) {
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, ImportResponse{
		Import:  toImportView(result.Import),
		Member:  toMemberView(result.Member),
		Replay:  result.Replay,
		Dropped: result.Dropped,
	})
}

// writeServiceError maps the domain error taxonomy onto HTTP responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMalformedSnapshot):
		writeError(w, http.StatusBadRequest, "malformed_snapshot", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, domain.ErrStoreFailure):
		h.log.Error("store failure", "error", err)
		writeError(w, http.StatusInternalServerError, "store_failure", err.Error())
	default:
		h.log.Error("unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func uploadOptions(r *http.Request) domain.ImportOptions {
	return domain.ImportOptions{
		Source:         strings.TrimSpace(r.Header.Get(FileNameHeader)),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id "+strconv.Quote(id))
		return "", false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	id := r.URL.Query().Get(key)
	if id == "" {
		return "", true
	}
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+key)
		return "", false
	}
	return id, true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
