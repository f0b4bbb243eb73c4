package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/logger"
	"github.com/clinicdesk/appointment-lock/internal/model"
)

// testOlricConfig returns a single-node Olric config for tests.
func testOlricConfig(port, memberlistPort int) *OlricConfig {
	return &OlricConfig{
		BindAddr:           "127.0.0.1",
		BindPort:           port,
		MemberlistBindPort: memberlistPort,
		JoinAddrs:          []string{},
		ReplicationMode:    "async",
		ReplicationFactor:  1,
		PartitionCount:     23, // Smaller for tests
		MemberCountQuorum:  1,
		JoinRetryInterval:  1 * time.Second,
		MaxJoinAttempts:    30,
		LogLevel:           "ERROR", // Reduce noise in tests
		KeepAlivePeriod:    30 * time.Second,
		LockTimeout:        5 * time.Second,
		DMapName:           "test-appointment-locks",
	}
}

func TestOlricStoreConditionalOperations(t *testing.T) {
	log, err := logger.New("error", "json")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	s, err := NewOlricStore(context.Background(), testOlricConfig(23320, 27320), log)
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	}()

	ctx := context.Background()
	now := time.Now()

	lock := &model.Lock{
		AppointmentID: "appt-1",
		OwnerID:       "owner-1",
		OwnerInfo:     model.OwnerInfo{Name: "Dr. Reyes"},
		Version:       1,
		CorrelationID: "corr-1",
		CreatedAt:     now,
		ExpiresAt:     now.Add(5 * time.Minute),
	}

	t.Run("create and get", func(t *testing.T) {
		if err := s.Create(ctx, lock); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		got, err := s.Get(ctx, "appt-1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.OwnerID != "owner-1" || got.Version != 1 {
			t.Errorf("got owner=%q version=%d, want owner-1/1", got.OwnerID, got.Version)
		}
	})

	t.Run("create rejects existing row", func(t *testing.T) {
		err := s.Create(ctx, lock)
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("update checks version", func(t *testing.T) {
		renewed := lock.Clone()
		renewed.Version = 2
		renewed.ExpiresAt = now.Add(10 * time.Minute)

		if err := s.Update(ctx, renewed, 1); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := s.Update(ctx, renewed, 1); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
	})

	t.Run("delete expired protects live lease", func(t *testing.T) {
		err := s.DeleteExpired(ctx, "appt-1", now)
		if !errors.Is(err, ErrNotExpired) {
			t.Fatalf("expected ErrNotExpired, got %v", err)
		}
	})

	t.Run("expired scan and reclamation", func(t *testing.T) {
		stale := &model.Lock{
			AppointmentID: "appt-2",
			OwnerID:       "owner-2",
			Version:       1,
			CorrelationID: "corr-2",
			CreatedAt:     now.Add(-10 * time.Minute),
			ExpiresAt:     now.Add(-5 * time.Minute),
		}
		if err := s.Create(ctx, stale); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		expired, err := s.Expired(ctx, now)
		if err != nil {
			t.Fatalf("Expired failed: %v", err)
		}
		if len(expired) != 1 || expired[0].AppointmentID != "appt-2" {
			t.Fatalf("expected only appt-2 expired, got %v", expired)
		}

		if err := s.DeleteExpired(ctx, "appt-2", now); err != nil {
			t.Fatalf("DeleteExpired failed: %v", err)
		}
		if _, err := s.Get(ctx, "appt-2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after reclamation, got %v", err)
		}
	})

	t.Run("delete version", func(t *testing.T) {
		if err := s.DeleteVersion(ctx, "appt-1", 1); !errors.Is(err, ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
		if err := s.DeleteVersion(ctx, "appt-1", 2); err != nil {
			t.Fatalf("DeleteVersion failed: %v", err)
		}
	})

	t.Run("ping and stats", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.ClusterMembers != 1 {
			t.Errorf("ClusterMembers = %d, want 1", stats.ClusterMembers)
		}
	})
}
