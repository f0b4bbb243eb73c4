package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/coordinator"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
	"github.com/clinicdesk/appointment-lock/internal/model"
)

// validIDPattern defines the allowed pattern for appointment and owner ids.
// Allows alphanumeric characters, hyphens, underscores, dots, and colons.
var validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._:-]+$`)

const (
	maxIDLength = 256 // Maximum length for appointment and owner ids
)

// SweeperStatus reports whether the background sweep loop is running.
type SweeperStatus interface {
	Active() bool
}

// LockHandlers provides HTTP handlers for lock operations.
type LockHandlers struct {
	coordinator coordinator.LockService
	sweeper     SweeperStatus
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewLockHandlers creates a new LockHandlers instance.
func NewLockHandlers(c coordinator.LockService, sweeper SweeperStatus, logger *zap.Logger, metrics *metrics.Metrics) *LockHandlers {
	return &LockHandlers{
		coordinator: c,
		sweeper:     sweeper,
		logger:      logger,
		metrics:     metrics,
	}
}

// validateID validates appointment and owner identifiers.
// Returns an error if the id is invalid.
func validateID(id, fieldName string) error {
	if id == "" {
		return errors.New(fieldName + " is required")
	}

	if len(id) > maxIDLength {
		return errors.New(fieldName + " exceeds maximum length")
	}

	if !validIDPattern.MatchString(id) {
		return errors.New(fieldName + " contains invalid characters")
	}

	return nil
}

// errorResponse is the body of a validation or transport failure.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleStatus handles GET /api/v1/appointments/{appointmentID}/lock.
// Returns:
//   - 200 OK: Status returned, locked or not
//   - 400 Bad Request: Invalid appointment id
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	appointmentID := chi.URLParam(r, "appointmentID")
	if err := validateID(appointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.coordinator.Status(r.Context(), appointmentID)
	if err != nil {
		h.logger.Error("Failed to read lock status", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

// HandleAcquire handles POST /api/v1/appointments/{appointmentID}/lock.
// Returns:
//   - 200 OK: Lock acquired or renewed
//   - 400 Bad Request: Invalid request body or validation error
//   - 409 Conflict: Lock held by another owner, or version conflict
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandleAcquire(w http.ResponseWriter, r *http.Request) {
	var req coordinator.AcquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode acquire request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.AppointmentID = chi.URLParam(r, "appointmentID")
	req.OwnerID = strings.TrimSpace(req.OwnerID)

	if err := validateID(req.AppointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateID(req.OwnerID, "Owner id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coordinator.Acquire(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to acquire lock", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondResult(w, res)
}

// HandleRelease handles DELETE /api/v1/appointments/{appointmentID}/lock.
// Returns:
//   - 200 OK: Lock released
//   - 400 Bad Request: Invalid request body or validation error
//   - 403 Forbidden: Caller is not the owner
//   - 404 Not Found: No lock to release
//   - 409 Conflict: Version conflict
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandleRelease(w http.ResponseWriter, r *http.Request) {
	var req coordinator.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode release request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.AppointmentID = chi.URLParam(r, "appointmentID")
	req.OwnerID = strings.TrimSpace(req.OwnerID)

	if err := validateID(req.AppointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateID(req.OwnerID, "Owner id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coordinator.Release(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to release lock", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondResult(w, res)
}

// HandleForceRelease handles POST /api/v1/appointments/{appointmentID}/lock/force.
// Returns:
//   - 200 OK: Lock force-released
//   - 400 Bad Request: Invalid request body or validation error
//   - 404 Not Found: No lock to release
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandleForceRelease(w http.ResponseWriter, r *http.Request) {
	var req coordinator.ForceReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode force release request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.AppointmentID = chi.URLParam(r, "appointmentID")
	req.AdminID = strings.TrimSpace(req.AdminID)

	if err := validateID(req.AppointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateID(req.AdminID, "Admin id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coordinator.ForceRelease(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to force release lock", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondResult(w, res)
}

// HandlePosition handles PUT /api/v1/appointments/{appointmentID}/position.
// Returns:
//   - 200 OK: Position recorded and lease extended
//   - 400 Bad Request: Invalid request body or validation error
//   - 404 Not Found: Caller holds no active lock
//   - 409 Conflict: Version conflict
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	var req coordinator.PositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode position request", zap.Error(err))
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.AppointmentID = chi.URLParam(r, "appointmentID")
	req.OwnerID = strings.TrimSpace(req.OwnerID)

	if err := validateID(req.AppointmentID, "Appointment id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateID(req.OwnerID, "Owner id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.coordinator.UpdatePosition(r.Context(), req)
	if err != nil {
		h.logger.Error("Failed to update position", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondResult(w, res)
}

// HandleSweep handles POST /api/v1/sweep, triggering one sweep pass
// outside the periodic schedule.
// Returns:
//   - 200 OK: Sweep completed; body carries the reclaimed count
//   - 503 Service Unavailable: Transient store error
func (h *LockHandlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := h.coordinator.Sweep(r.Context())
	if err != nil {
		h.logger.Error("Manual sweep failed", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "Lock store temporarily unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"reclaimed": reclaimed,
	})
}

// HandleSweeperStatus handles GET /api/v1/sweeper.
func (h *LockHandlers) HandleSweeperStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"active": h.sweeper.Active(),
	})
}

// respondResult maps a coordinator result onto an HTTP status code.
func (h *LockHandlers) respondResult(w http.ResponseWriter, res *model.Result) {
	status := http.StatusOK
	if !res.Success {
		switch res.Reason {
		case model.ReasonNotFound:
			status = http.StatusNotFound
		case model.ReasonPermissionDenied:
			status = http.StatusForbidden
		case model.ReasonConflict, model.ReasonVersionConflict:
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}
	}

	h.respondJSON(w, status, res)
}

// respondError sends an error response.
func (h *LockHandlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{
		Success: false,
		Message: message,
	})
}

// respondJSON sends a JSON response.
func (h *LockHandlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
