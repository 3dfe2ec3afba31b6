package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"captable/pkg/platform/httputil"
	"captable/pkg/platform/sentinel"
)

// HTTPHandler serves the admin query surface over the audit trail. Every
// route is mounted behind the admin guard passed at construction.
type HTTPHandler struct {
	service      *Service
	logger       *slog.Logger
	requireAdmin func(http.Handler) http.Handler
}

func NewHTTPHandler(service *Service, logger *slog.Logger, requireAdmin func(http.Handler) http.Handler) *HTTPHandler {
	return &HTTPHandler{
		service:      service,
		logger:       logger,
		requireAdmin: requireAdmin,
	}
}

// Register mounts the audit routes under /audit.
func (h *HTTPHandler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(h.requireAdmin)

	router.Get("/events", h.handleListEvents)
	router.Get("/events/{auditID}", h.handleGetEvent)
	router.Get("/events/user/{userID}", h.handleUserEvents)
	router.Get("/events/resource/{resourceType}/{resourceID}", h.handleResourceEvents)
	router.Get("/summary", h.handleSummary)
	router.Get("/statistics", h.handleStatistics)
	router.Get("/search", h.handleSearch)
	router.Get("/export", h.handleExport)
	router.Post("/cleanup", h.handleCleanup)

	r.Mount("/audit", router)
}

func (h *HTTPHandler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := Filter{
		ActorID:      q.Get("user_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
	}
	if t := q.Get("event_type"); t != "" {
		filter.EventTypes = []string{t}
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("start_date")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("end_date")); err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		h.logError(r, "list audit events", err)
		httputil.WriteError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *HTTPHandler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "auditID")

	// Accept either the surrogate integer ID or the event UUID.
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		rec, err := h.service.Get(r.Context(), id)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rec)
		return
	}

	eventID, err := uuid.Parse(raw)
	if err != nil {
		httputil.WriteError(w, fmt.Errorf("audit id %q: %w", raw, sentinel.ErrInvalidState))
		return
	}
	rec, err := h.service.GetByEventID(r.Context(), eventID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if days, err = strconv.Atoi(raw); err != nil {
			httputil.WriteError(w, fmt.Errorf("days %q: %w", raw, sentinel.ErrInvalidState))
			return
		}
	}

	records, err := h.service.ActorActivity(r.Context(), chi.URLParam(r, "userID"), days, page)
	if err != nil {
		h.logError(r, "list user audit events", err)
		httputil.WriteError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *HTTPHandler) handleResourceEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ResourceHistory(r.Context(),
		chi.URLParam(r, "resourceType"),
		chi.URLParam(r, "resourceID"),
	)
	if err != nil {
		h.logError(r, "list resource audit events", err)
		httputil.WriteError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *HTTPHandler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.logError(r, "audit summary", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("start_date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTimeParam(q.Get("end_date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.service.Statistics(r.Context(), from, to)
	if err != nil {
		h.logError(r, "audit statistics", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.Search(r.Context(), q.Get("q"), page.Skip, page.Limit)
	if err != nil {
		h.logError(r, "search audit events", err)
		httputil.WriteError(w, err)
		return
	}
	writeRecords(w, records)
}

func (h *HTTPHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format := ExportFormat(q.Get("format"))
	if format == "" {
		format = ExportJSON
	}

	from, err := parseTimeParam(q.Get("start_date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTimeParam(q.Get("end_date"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	data, err := h.service.Export(r.Context(), format, from, to)
	if err != nil {
		h.logError(r, "export audit events", err)
		httputil.WriteError(w, err)
		return
	}

	if format == ExportCSV {
		filename := fmt.Sprintf("audit_events_%s.csv", time.Now().Format("20060102"))
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *HTTPHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	daysToKeep := 365
	if raw := r.URL.Query().Get("days_to_keep"); raw != "" {
		var err error
		if daysToKeep, err = strconv.Atoi(raw); err != nil {
			httputil.WriteError(w, fmt.Errorf("days_to_keep %q: %w", raw, sentinel.ErrInvalidState))
			return
		}
	}

	deleted, err := h.service.Cleanup(r.Context(), daysToKeep)
	if err != nil {
		h.logError(r, "cleanup audit events", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("%d old audit events deleted", deleted),
		"deleted_count": deleted,
	})
}

func (h *HTTPHandler) logError(r *http.Request, op string, err error) {
	h.logger.ErrorContext(r.Context(), "audit query failed",
		"op", op,
		"path", r.URL.Path,
		"error", err,
	)
}

// writeRecords always serializes an array, never null.
func writeRecords(w http.ResponseWriter, records []Record) {
	if records == nil {
		records = []Record{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

func parsePage(r *http.Request) (Page, error) {
	q := r.URL.Query()
	page := Page{}

	if raw := q.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil || skip < 0 {
			return Page{}, fmt.Errorf("skip %q: %w", raw, sentinel.ErrInvalidState)
		}
		page.Skip = skip
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return Page{}, fmt.Errorf("limit %q: %w", raw, sentinel.ErrInvalidState)
		}
		page.Limit = limit
	}
	return page, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, sentinel.ErrInvalidState)
	}
	return t, nil
}
