package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/store"
)

func TestSweeperReclaimsOnSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coordinator.Acquire(ctx, AcquireRequest{
		AppointmentID: "appt-1",
		OwnerID:       "dr-jones",
	}); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	f.clock.Advance(6 * time.Minute)

	sweeper := NewSweeper(f.coordinator, 10*time.Millisecond, zap.NewNop())
	sweeper.Start()
	defer sweeper.Stop()

	if !sweeper.Active() {
		t.Error("Active = false after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := f.store.Get(ctx, "appt-1"); errors.Is(err, store.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not reclaim the expired lease")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSweeperStop(t *testing.T) {
	f := newFixture(t)

	sweeper := NewSweeper(f.coordinator, 10*time.Millisecond, zap.NewNop())
	sweeper.Start()
	sweeper.Stop()

	if sweeper.Active() {
		t.Error("Active = true after Stop")
	}

	// Stop is idempotent.
	sweeper.Stop()
}

func TestSweeperDefaultInterval(t *testing.T) {
	f := newFixture(t)

	sweeper := NewSweeper(f.coordinator, 0, zap.NewNop())
	if sweeper.interval != DefaultSweepInterval {
		t.Errorf("interval = %v, want %v", sweeper.interval, DefaultSweepInterval)
	}
}
