package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/store"
)

// ConfigChecker checks if the configuration is loaded.
type ConfigChecker struct {
	logger *zap.Logger
	loaded bool
}

// NewConfigChecker creates a new configuration health checker.
func NewConfigChecker(logger *zap.Logger) *ConfigChecker {
	return &ConfigChecker{
		logger: logger,
		loaded: true, // Config is always loaded if we get here
	}
}

// Name returns the name of the health check.
func (c *ConfigChecker) Name() string {
	return "config"
}

// Check performs the health check.
func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusOK,
		Message:   "Configuration loaded successfully",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if !c.loaded {
		result.Status = StatusError
		result.Message = "Configuration not loaded"
	}

	return result
}

// StoreChecker checks connectivity to the lock store.
type StoreChecker struct {
	logger *zap.Logger
	store  store.Store
}

// NewStoreChecker creates a new lock store health checker.
func NewStoreChecker(logger *zap.Logger, s store.Store) *StoreChecker {
	return &StoreChecker{
		logger: logger,
		store:  s,
	}
}

// Name returns the name of the health check.
func (s *StoreChecker) Name() string {
	return "store"
}

// Check performs the health check.
func (s *StoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      s.Name(),
		Status:    StatusOK,
		Message:   "Lock store reachable",
		Timestamp: time.Now(),
	}

	if err := s.store.Ping(ctx); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("Lock store unreachable: %v", err)
	}

	result.Duration = time.Since(start)

	return result
}

// HistoryChecker checks connectivity to the history recorder. The recorder
// is audit infrastructure, not part of the lock consistency contract, so a
// failing check degrades readiness without failing liveness.
type HistoryChecker struct {
	logger   *zap.Logger
	recorder history.Recorder
}

// NewHistoryChecker creates a new history recorder health checker.
func NewHistoryChecker(logger *zap.Logger, r history.Recorder) *HistoryChecker {
	return &HistoryChecker{
		logger:   logger,
		recorder: r,
	}
}

// Name returns the name of the health check.
func (h *HistoryChecker) Name() string {
	return "history"
}

// Check performs the health check.
func (h *HistoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      h.Name(),
		Status:    StatusOK,
		Message:   "History recorder reachable",
		Timestamp: time.Now(),
	}

	if err := h.recorder.Ping(ctx); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("History recorder unreachable: %v", err)
	}

	result.Duration = time.Since(start)

	return result
}

// SweeperStatus reports whether the background sweep loop is running.
type SweeperStatus interface {
	Active() bool
}

// SweeperChecker checks that the expiry sweeper loop is running.
type SweeperChecker struct {
	logger  *zap.Logger
	sweeper SweeperStatus
}

// NewSweeperChecker creates a new sweeper health checker.
func NewSweeperChecker(logger *zap.Logger, sweeper SweeperStatus) *SweeperChecker {
	return &SweeperChecker{
		logger:  logger,
		sweeper: sweeper,
	}
}

// Name returns the name of the health check.
func (s *SweeperChecker) Name() string {
	return "sweeper"
}

// Check performs the health check.
func (s *SweeperChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      s.Name(),
		Status:    StatusOK,
		Message:   "Expiry sweeper running",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if !s.sweeper.Active() {
		result.Status = StatusStarting
		result.Message = "Expiry sweeper not running"
	}

	return result
}

// ServerChecker checks if the servers are running.
type ServerChecker struct {
	logger         *zap.Logger
	serversRunning bool
}

// NewServerChecker creates a new server health checker.
func NewServerChecker(logger *zap.Logger) *ServerChecker {
	return &ServerChecker{
		logger:         logger,
		serversRunning: false,
	}
}

// Name returns the name of the health check.
func (s *ServerChecker) Name() string {
	return "servers"
}

// SetRunning marks the servers as running.
func (s *ServerChecker) SetRunning(running bool) {
	s.serversRunning = running
}

// Check performs the health check.
func (s *ServerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      s.Name(),
		Status:    StatusOK,
		Message:   "All servers running",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if !s.serversRunning {
		result.Status = StatusStarting
		result.Message = "Servers starting"
	}

	return result
}

// ReadinessChecker checks if the service is ready to handle requests.
type ReadinessChecker struct {
	logger         *zap.Logger
	shuttingDown   bool
	serversRunning bool
}

// NewReadinessChecker creates a new readiness health checker.
func NewReadinessChecker(logger *zap.Logger) *ReadinessChecker {
	return &ReadinessChecker{
		logger:         logger,
		shuttingDown:   false,
		serversRunning: false,
	}
}

// Name returns the name of the health check.
func (r *ReadinessChecker) Name() string {
	return "readiness"
}

// SetRunning marks the servers as running.
func (r *ReadinessChecker) SetRunning(running bool) {
	r.serversRunning = running
}

// SetShuttingDown marks the service as shutting down.
func (r *ReadinessChecker) SetShuttingDown(shutDown bool) {
	r.shuttingDown = shutDown
}

// Check performs the health check.
func (r *ReadinessChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	result := CheckResult{
		Name:      r.Name(),
		Status:    StatusOK,
		Message:   "Service ready",
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if r.shuttingDown {
		result.Status = StatusNotReady
		result.Message = "Service shutting down"
	} else if !r.serversRunning {
		result.Status = StatusNotReady
		result.Message = "Service not ready"
	}

	return result
}
