package store

import (
	"context"
	"errors"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// Common errors returned by the lock store. They classify the expected
// outcomes of conditional mutations; anything else is a transient fault.
var (
	// ErrNotFound is returned when no lock row exists for the appointment.
	ErrNotFound = errors.New("lock not found")

	// ErrAlreadyExists is returned by Create when a row is already
	// present, meaning another acquisition won the race.
	ErrAlreadyExists = errors.New("lock already exists")

	// ErrVersionMismatch is returned by conditional mutations when the
	// row's version no longer matches the expected one.
	ErrVersionMismatch = errors.New("lock version mismatch")

	// ErrNotExpired is returned by DeleteExpired when the row's lease is
	// still valid at delete time, meaning a renewal raced in.
	ErrNotExpired = errors.New("lock not expired")
)

// Store is the durable record of at most one lock per appointment id. The
// conditional mutations are the coordinator's sole synchronization
// primitive: implementations must make them atomic with respect to each
// other, across processes sharing the same backing store.
type Store interface {
	// Get returns the lock row for the appointment, expired or not.
	// Returns ErrNotFound when no row exists.
	Get(ctx context.Context, appointmentID string) (*model.Lock, error)

	// Create inserts a new lock row if and only if none exists.
	// Returns ErrAlreadyExists when a row is present.
	Create(ctx context.Context, lock *model.Lock) error

	// Update replaces the row if and only if its current version equals
	// expectedVersion. Returns ErrVersionMismatch otherwise, and
	// ErrNotFound when the row is gone.
	Update(ctx context.Context, lock *model.Lock, expectedVersion int64) error

	// Delete removes the row unconditionally. It is idempotent and
	// returns nil when the row does not exist.
	Delete(ctx context.Context, appointmentID string) error

	// DeleteVersion removes the row if and only if its current version
	// equals expectedVersion. Returns ErrVersionMismatch otherwise, and
	// ErrNotFound when the row is gone.
	DeleteVersion(ctx context.Context, appointmentID string, expectedVersion int64) error

	// DeleteExpired removes the row if and only if its lease has elapsed
	// as of asOf. Returns ErrNotExpired when the row is still valid and
	// ErrNotFound when it is gone. This guards sweep reclamation against
	// renewals racing in between scan and delete.
	DeleteExpired(ctx context.Context, appointmentID string, asOf time.Time) error

	// Expired returns all rows whose lease has elapsed as of asOf.
	Expired(ctx context.Context, asOf time.Time) ([]*model.Lock, error)

	// Ping verifies connectivity to the store.
	Ping(ctx context.Context) error

	// Stats returns current statistics about the store.
	Stats(ctx context.Context) (*Stats, error)

	// Close gracefully shuts down the store connection.
	Close(ctx context.Context) error
}

// Stats represents statistics about the backing store, used for health
// checks and metrics collection.
type Stats struct {
	// ClusterMembers is the number of active members in the cluster.
	ClusterMembers int

	// PartitionCount is the number of partitions in the cluster.
	PartitionCount int

	// ReplicationFactor is the number of copies of each partition.
	ReplicationFactor int

	// ActiveLocks is the number of lock rows currently stored, including
	// tombstones awaiting reclamation.
	ActiveLocks int64
}
