package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicdesk/appointment-lock/internal/model"
)

// MemoryRecorder is an in-process implementation of Recorder. It backs
// tests and deployments without a MongoDB instance; the audit trail does
// not survive a restart.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []*model.HistoryRecord
}

// NewMemoryRecorder returns an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends one history record.
func (r *MemoryRecorder) Record(ctx context.Context, rec *model.HistoryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *rec
	r.records = append(r.records, &copied)
	return nil
}

// ForAppointment returns one appointment's records newest-first.
func (r *MemoryRecorder) ForAppointment(ctx context.Context, appointmentID string, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	return r.find(func(rec *model.HistoryRecord) bool {
		return rec.AppointmentID == appointmentID
	}, page, perPage)
}

// ForOwner returns one owner's records across appointments newest-first.
func (r *MemoryRecorder) ForOwner(ctx context.Context, ownerID string, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	return r.find(func(rec *model.HistoryRecord) bool {
		return rec.OwnerID == ownerID
	}, page, perPage)
}

func (r *MemoryRecorder) find(match func(*model.HistoryRecord) bool, page, perPage int64) ([]*model.HistoryRecord, int64, error) {
	page, perPage = ClampPage(page, perPage)

	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*model.HistoryRecord
	for _, rec := range r.records {
		if match(rec) {
			copied := *rec
			matched = append(matched, &copied)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := int64(len(matched))
	start := (page - 1) * perPage
	if start >= total {
		return []*model.HistoryRecord{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// Stats aggregates one appointment's audit trail.
func (r *MemoryRecorder) Stats(ctx context.Context, appointmentID string) (*model.HistoryStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &model.HistoryStats{
		AppointmentID: appointmentID,
		ActionCounts:  make(map[model.Action]int64),
	}

	owners := make(map[string]struct{})
	var durationSum float64
	var durationCount int64

	for _, rec := range r.records {
		if rec.AppointmentID != appointmentID {
			continue
		}
		stats.ActionCounts[rec.Action]++
		stats.TotalRecords++
		owners[rec.OwnerID] = struct{}{}
		if rec.DurationSeconds != nil {
			durationSum += *rec.DurationSeconds
			durationCount++
		}
	}

	if durationCount > 0 {
		stats.AverageDurationSeconds = durationSum / float64(durationCount)
	}
	stats.DistinctOwners = int64(len(owners))

	return stats, nil
}

// Purge deletes records older than the cutoff and returns the count
// removed.
func (r *MemoryRecorder) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	var removed int64
	for _, rec := range r.records {
		if rec.Timestamp.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept
	return removed, nil
}

// Ping always succeeds for the in-memory recorder.
func (r *MemoryRecorder) Ping(ctx context.Context) error {
	return nil
}

// Close clears the recorder.
func (r *MemoryRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	return nil
}
