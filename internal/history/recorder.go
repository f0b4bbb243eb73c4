package history

import (
	"context"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// Recorder is the append-only audit trail of lock transitions. Writes are
// best-effort from the coordinator's point of view: a failed write must
// never turn a successful lock mutation into a reported failure.
type Recorder interface {
	// Record appends one immutable history record.
	Record(ctx context.Context, rec *model.HistoryRecord) error

	// ForAppointment returns one appointment's records ordered
	// newest-first, plus the total count. Pages are 1-based.
	ForAppointment(ctx context.Context, appointmentID string, page, perPage int64) ([]*model.HistoryRecord, int64, error)

	// ForOwner returns one owner's records across appointments ordered
	// newest-first, plus the total count. Pages are 1-based.
	ForOwner(ctx context.Context, ownerID string, page, perPage int64) ([]*model.HistoryRecord, int64, error)

	// Stats aggregates one appointment's audit trail.
	Stats(ctx context.Context, appointmentID string) (*model.HistoryStats, error)

	// Purge deletes records older than the cutoff and returns the count
	// removed. It has no interaction with active locks.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)

	// Ping verifies connectivity to the history backend.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close(ctx context.Context) error
}

// DefaultPerPage is the page size used when the caller does not specify
// one.
const DefaultPerPage int64 = 50

// MaxPerPage caps the page size a caller may request.
const MaxPerPage int64 = 500

// ClampPage normalizes pagination inputs to sane values.
func ClampPage(page, perPage int64) (int64, int64) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
