package health

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/store"
)

type stubSweeper struct {
	active bool
}

func (s *stubSweeper) Active() bool {
	return s.active
}

func TestConfigChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	checker := NewConfigChecker(logger)

	if checker.Name() != "config" {
		t.Errorf("Name() = %s, want config", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusOK)
	}
}

func TestStoreChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	checker := NewStoreChecker(logger, store.NewMemoryStore())

	if checker.Name() != "store" {
		t.Errorf("Name() = %s, want store", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusOK)
	}
}

func TestHistoryChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	checker := NewHistoryChecker(logger, history.NewMemoryRecorder())

	if checker.Name() != "history" {
		t.Errorf("Name() = %s, want history", checker.Name())
	}

	result := checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusOK)
	}
}

func TestSweeperChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	sweeper := &stubSweeper{}
	checker := NewSweeperChecker(logger, sweeper)

	if checker.Name() != "sweeper" {
		t.Errorf("Name() = %s, want sweeper", checker.Name())
	}

	// Sweeper not started yet
	result := checker.Check(context.Background())
	if result.Status != StatusStarting {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusStarting)
	}

	sweeper.active = true
	result = checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s with an active sweeper", result.Status, StatusOK)
	}
}

func TestServerChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	checker := NewServerChecker(logger)

	if checker.Name() != "servers" {
		t.Errorf("Name() = %s, want servers", checker.Name())
	}

	// Initially not running
	result := checker.Check(context.Background())
	if result.Status != StatusStarting {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusStarting)
	}

	// Mark as running
	checker.SetRunning(true)
	result = checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s after SetRunning(true)", result.Status, StatusOK)
	}

	// Mark as not running
	checker.SetRunning(false)
	result = checker.Check(context.Background())
	if result.Status != StatusStarting {
		t.Errorf("Check() status = %s, want %s after SetRunning(false)", result.Status, StatusStarting)
	}
}

func TestReadinessChecker(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	checker := NewReadinessChecker(logger)

	if checker.Name() != "readiness" {
		t.Errorf("Name() = %s, want readiness", checker.Name())
	}

	// Initially not ready
	result := checker.Check(context.Background())
	if result.Status != StatusNotReady {
		t.Errorf("Check() status = %s, want %s", result.Status, StatusNotReady)
	}

	// Mark as running
	checker.SetRunning(true)
	result = checker.Check(context.Background())
	if result.Status != StatusOK {
		t.Errorf("Check() status = %s, want %s after SetRunning(true)", result.Status, StatusOK)
	}

	// Mark as shutting down
	checker.SetShuttingDown(true)
	result = checker.Check(context.Background())
	if result.Status != StatusNotReady {
		t.Errorf("Check() status = %s, want %s after SetShuttingDown(true)", result.Status, StatusNotReady)
	}
}

func TestManager(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	manager := NewManager(logger, nil, 10*time.Second, 5*time.Second)

	manager.RegisterChecker(NewConfigChecker(logger))
	manager.RegisterChecker(NewStoreChecker(logger, store.NewMemoryStore()))
	serverChecker := NewServerChecker(logger)
	manager.RegisterChecker(serverChecker)
	readinessChecker := NewReadinessChecker(logger)
	manager.RegisterChecker(readinessChecker)

	results := manager.CheckAll(context.Background())
	if len(results) != 4 {
		t.Errorf("CheckAll() returned %d results, want 4", len(results))
	}

	// Servers not running yet
	startup := manager.GetStartupStatus(context.Background())
	if startup.Status != StatusStarting {
		t.Errorf("GetStartupStatus() = %s, want %s", startup.Status, StatusStarting)
	}

	readiness := manager.GetReadinessStatus(context.Background())
	if readiness.Ready {
		t.Error("GetReadinessStatus() ready before servers are running")
	}

	// Liveness is independent of readiness
	liveness := manager.GetLivenessStatus()
	if liveness.Status != StatusOK {
		t.Errorf("GetLivenessStatus() = %s, want %s", liveness.Status, StatusOK)
	}
}

func TestManagerReadyAfterStartup(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	// Zero cache duration so state transitions are visible immediately.
	manager := NewManager(logger, nil, 0, 5*time.Second)

	manager.RegisterChecker(NewServerChecker(logger))
	manager.RegisterChecker(NewReadinessChecker(logger))

	manager.SetServersRunning(true)

	startup := manager.GetStartupStatus(context.Background())
	if startup.Status != StatusOK {
		t.Errorf("GetStartupStatus() = %s, want %s", startup.Status, StatusOK)
	}

	readiness := manager.GetReadinessStatus(context.Background())
	if !readiness.Ready {
		t.Error("GetReadinessStatus() not ready after servers marked running")
	}

	manager.SetShuttingDown(true)
	readiness = manager.GetReadinessStatus(context.Background())
	if readiness.Ready {
		t.Error("GetReadinessStatus() still ready while shutting down")
	}
}
