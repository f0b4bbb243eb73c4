package store

import (
	"context"
	"sync"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// MemoryStore is an in-process implementation of Store. It backs tests and
// single-instance deployments that do not need the embedded Olric cluster.
// All conditional semantics match the Olric implementation.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]*model.Lock
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]*model.Lock),
	}
}

// Get returns the lock row for the appointment, expired or not.
func (s *MemoryStore) Get(ctx context.Context, appointmentID string) (*model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[appointmentID]
	if !ok {
		return nil, ErrNotFound
	}
	return lock.Clone(), nil
}

// Create inserts a new lock row if and only if none exists.
func (s *MemoryStore) Create(ctx context.Context, lock *model.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locks[lock.AppointmentID]; ok {
		return ErrAlreadyExists
	}
	s.locks[lock.AppointmentID] = lock.Clone()
	return nil
}

// Update replaces the row if its current version matches expectedVersion.
func (s *MemoryStore) Update(ctx context.Context, lock *model.Lock, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[lock.AppointmentID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	s.locks[lock.AppointmentID] = lock.Clone()
	return nil
}

// Delete removes the row unconditionally. Idempotent.
func (s *MemoryStore) Delete(ctx context.Context, appointmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, appointmentID)
	return nil
}

// DeleteVersion removes the row if its current version matches
// expectedVersion.
func (s *MemoryStore) DeleteVersion(ctx context.Context, appointmentID string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[appointmentID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionMismatch
	}
	delete(s.locks, appointmentID)
	return nil
}

// DeleteExpired removes the row if its lease has elapsed as of asOf.
func (s *MemoryStore) DeleteExpired(ctx context.Context, appointmentID string, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.locks[appointmentID]
	if !ok {
		return ErrNotFound
	}
	if !current.ExpiredAt(asOf) {
		return ErrNotExpired
	}
	delete(s.locks, appointmentID)
	return nil
}

// Expired returns all rows whose lease has elapsed as of asOf.
func (s *MemoryStore) Expired(ctx context.Context, asOf time.Time) ([]*model.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*model.Lock
	for _, lock := range s.locks {
		if lock.ExpiredAt(asOf) {
			expired = append(expired, lock.Clone())
		}
	}
	return expired, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Stats returns current statistics about the store.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Stats{
		ClusterMembers:    1,
		PartitionCount:    1,
		ReplicationFactor: 1,
		ActiveLocks:       int64(len(s.locks)),
	}, nil
}

// Close clears the store.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locks = make(map[string]*model.Lock)
	return nil
}
