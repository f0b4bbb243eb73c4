package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/config"
	"github.com/clinicdesk/appointment-lock/internal/handlers"
	"github.com/clinicdesk/appointment-lock/internal/health"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
)

// setupAPIRoutes configures the API server routes.
func setupAPIRoutes(r *chi.Mux, cfg *config.Config, deps Dependencies, logger *zap.Logger, m *metrics.Metrics) {
	lockHandlers := handlers.NewLockHandlers(deps.Coordinator, deps.Sweeper, logger, m)
	historyHandlers := handlers.NewHistoryHandlers(deps.Recorder, cfg.HistoryRetentionDays, logger)
	watchHandlers := handlers.NewWatchHandlers(deps.Coordinator, deps.Bus, logger, m)

	r.Get("/ping", handlePing(logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/appointments/{appointmentID}", func(r chi.Router) {
			r.Get("/lock", lockHandlers.HandleStatus)
			r.Post("/lock", lockHandlers.HandleAcquire)
			r.Delete("/lock", lockHandlers.HandleRelease)
			r.Post("/lock/force", lockHandlers.HandleForceRelease)
			r.Put("/position", lockHandlers.HandlePosition)
			r.Get("/history", historyHandlers.HandleAppointmentHistory)
			r.Get("/history/stats", historyHandlers.HandleStats)
			r.Get("/watch", watchHandlers.HandleWatch)
		})
		r.Get("/owners/{ownerID}/history", historyHandlers.HandleOwnerHistory)
		r.Post("/sweep", lockHandlers.HandleSweep)
		r.Get("/sweeper", lockHandlers.HandleSweeperStatus)
		r.Post("/history/purge", historyHandlers.HandlePurge)
	})
}

// setupProbeRoutes configures the probe server routes.
func setupProbeRoutes(r *chi.Mux, manager *health.Manager, logger *zap.Logger) {
	r.Get("/healthz/startup", handleStartup(manager, logger))
	r.Get("/healthz/live", handleLiveness(manager, logger))
	r.Get("/healthz/ready", handleReadiness(manager, logger))
}

// handlePing handles the /ping endpoint.
func handlePing(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondProbe(w, logger, http.StatusOK, map[string]string{
			"status": "pong",
		})
	}
}

// handleStartup handles the startup probe endpoint.
func handleStartup(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetStartupStatus(r.Context())

		status := http.StatusOK
		if response.Status != health.StatusOK {
			status = http.StatusServiceUnavailable
		}

		respondProbe(w, logger, status, response)
	}
}

// handleLiveness handles the liveness probe endpoint.
func handleLiveness(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondProbe(w, logger, http.StatusOK, manager.GetLivenessStatus())
	}
}

// handleReadiness handles the readiness probe endpoint.
func handleReadiness(manager *health.Manager, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := manager.GetReadinessStatus(r.Context())

		status := http.StatusOK
		if !response.Ready {
			status = http.StatusServiceUnavailable
		}

		respondProbe(w, logger, status, response)
	}
}

// respondProbe writes a probe response as JSON.
func respondProbe(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode probe response", zap.Error(err))
	}
}
