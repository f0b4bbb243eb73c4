package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/model"
)

// HistoryHandlers provides HTTP handlers for the audit trail.
type HistoryHandlers struct {
	recorder      history.Recorder
	retentionDays int
	logger        *zap.Logger
}

// NewHistoryHandlers creates a new HistoryHandlers instance. retentionDays
// is the purge cutoff used when the caller does not supply one.
func NewHistoryHandlers(r history.Recorder, retentionDays int, logger *zap.Logger) *HistoryHandlers {
	return &HistoryHandlers{
		recorder:      r,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// historyPage is the paginated response body for history reads.
type historyPage struct {
	Records []*model.HistoryRecord `json:"records"`
	Total   int64                  `json:"total"`
	Page    int64                  `json:"page"`
	PerPage int64                  `json:"per_page"`
}

// pagination pulls page and per_page from the query string, tolerating
// absent or malformed values.
func pagination(r *http.Request) (int64, int64) {
	page, _ := strconv.ParseInt(r.URL.Query().Get("page"), 10, 64)
	perPage, _ := strconv.ParseInt(r.URL.Query().Get("per_page"), 10, 64)
	return history.ClampPage(page, perPage)
}

// HandleAppointmentHistory handles
// GET /api/v1/appointments/{appointmentID}/history.
// Returns:
//   - 200 OK: One page of records, newest first
//   - 400 Bad Request: Invalid appointment id
//   - 503 Service Unavailable: History backend unreachable
func (h *HistoryHandlers) HandleAppointmentHistory(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if err := validateID(appointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, perPage := pagination(r)

	records, total, err := h.recorder.ForAppointment(r.Context(), appointmentID, page, perPage)
	if err != nil {
		h.logger.Error("Failed to read appointment history", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "History backend temporarily unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, historyPage{
		Records: records,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// HandleOwnerHistory handles GET /api/v1/owners/{ownerID}/history.
// Returns:
//   - 200 OK: One page of the owner's records across appointments
//   - 400 Bad Request: Invalid owner id
//   - 503 Service Unavailable: History backend unreachable
func (h *HistoryHandlers) HandleOwnerHistory(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if err := validateID(ownerID, "Owner id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, perPage := pagination(r)

	records, total, err := h.recorder.ForOwner(r.Context(), ownerID, page, perPage)
	if err != nil {
		h.logger.Error("Failed to read owner history", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "History backend temporarily unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, historyPage{
		Records: records,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// HandleStats handles GET /api/v1/appointments/{appointmentID}/history/stats.
// Returns:
//   - 200 OK: Aggregated statistics for the appointment's audit trail
//   - 400 Bad Request: Invalid appointment id
//   - 503 Service Unavailable: History backend unreachable
func (h *HistoryHandlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if err := validateID(appointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.recorder.Stats(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("Failed to aggregate history stats", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "History backend temporarily unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// HandlePurge handles POST /api/v1/history/purge. The days query
// parameter overrides the configured retention window.
// Returns:
//   - 200 OK: Purge completed; body carries the removed count
//   - 400 Bad Request: Invalid days parameter
//   - 503 Service Unavailable: History backend unreachable
func (h *HistoryHandlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	days := h.retentionDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.respondError(w, http.StatusBadRequest, "Days must be a positive integer")
			return
		}
		days = parsed
	}

	olderThan := time.Now().AddDate(0, 0, -days)

	removed, err := h.recorder.Purge(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("Failed to purge history", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "History backend temporarily unavailable")
		return
	}

	h.logger.Info("History purged",
		zap.Int("days", days),
		zap.Int64("removed", removed),
	)

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
		"days":    days,
	})
}

// respondError sends an error response.
func (h *HistoryHandlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{
		Success: false,
		Message: message,
	})
}

// respondJSON sends a JSON response.
func (h *HistoryHandlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
