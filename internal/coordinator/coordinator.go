package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/appointment-lock/internal/bus"
	"github.com/clinicdesk/appointment-lock/internal/history"
	"github.com/clinicdesk/appointment-lock/internal/metrics"
	"github.com/clinicdesk/appointment-lock/internal/model"
	"github.com/clinicdesk/appointment-lock/internal/store"
)

// DefaultLeaseTTL is the lease duration granted on acquisition and
// extended on every renewal and position update.
const DefaultLeaseTTL = 5 * time.Minute

// loadAttempts bounds the re-read loop used when a reclamation races with
// a renewal.
const loadAttempts = 2

// AcquireRequest asks for the editing lease on one appointment.
type AcquireRequest struct {
	AppointmentID string          `json:"appointment_id"`
	OwnerID       string          `json:"owner_id"`
	OwnerInfo     model.OwnerInfo `json:"owner_info"`

	// ExpectedVersion, when set, makes the acquisition conditional on the
	// caller's view of the row still being current.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// ReleaseRequest gives the editing lease back.
type ReleaseRequest struct {
	AppointmentID   string `json:"appointment_id"`
	OwnerID         string `json:"owner_id"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// ForceReleaseRequest is an administrative override that bypasses
// ownership and version checks.
type ForceReleaseRequest struct {
	AppointmentID string          `json:"appointment_id"`
	AdminID       string          `json:"admin_id"`
	AdminInfo     model.OwnerInfo `json:"admin_info"`
}

// PositionRequest reports the owner's cursor position and extends the
// lease.
type PositionRequest struct {
	AppointmentID   string         `json:"appointment_id"`
	OwnerID         string         `json:"owner_id"`
	Position        model.Position `json:"position"`
	ExpectedVersion *int64         `json:"expected_version,omitempty"`
}

// LockService is the coordinator contract exposed to transports. Expected
// outcomes (conflict, permission denied, version conflict, not locked)
// come back as structured results; only transient store faults are
// returned as errors, and those are always safe to retry.
type LockService interface {
	Status(ctx context.Context, appointmentID string) (*model.LockStatus, error)
	Acquire(ctx context.Context, req AcquireRequest) (*model.Result, error)
	Release(ctx context.Context, req ReleaseRequest) (*model.Result, error)
	ForceRelease(ctx context.Context, req ForceReleaseRequest) (*model.Result, error)
	UpdatePosition(ctx context.Context, req PositionRequest) (*model.Result, error)
	Sweep(ctx context.Context) (int, error)
}

// Coordinator guarantees at most one editor at a time per appointment. It
// owns the lock state machine and drives the history recorder and the
// notification bus as side effects of successful store mutations. All
// synchronization goes through the store's conditional operations, so the
// coordinator is correct across multiple instances sharing one store.
type Coordinator struct {
	store    store.Store
	recorder history.Recorder
	bus      bus.Bus
	logger   *zap.Logger
	metrics  *metrics.Metrics
	ttl      time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a Coordinator with the given collaborators. A non-positive
// ttl falls back to DefaultLeaseTTL.
func New(s store.Store, r history.Recorder, b bus.Bus, logger *zap.Logger, m *metrics.Metrics, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &Coordinator{
		store:    s,
		recorder: r,
		bus:      b,
		logger:   logger,
		metrics:  m,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Status reports whether the appointment is locked. A tombstone found on
// the way is reclaimed opportunistically before reporting "unlocked".
func (c *Coordinator) Status(ctx context.Context, appointmentID string) (*model.LockStatus, error) {
	if appointmentID == "" {
		return nil, fmt.Errorf("appointment id cannot be empty")
	}

	lock, err := c.loadValid(ctx, appointmentID, c.now())
	if err != nil {
		return nil, err
	}
	return &model.LockStatus{Locked: lock != nil, Lock: lock}, nil
}

// Acquire grants, renews, or refuses the editing lease.
func (c *Coordinator) Acquire(ctx context.Context, req AcquireRequest) (*model.Result, error) {
	started := time.Now()
	res, err := c.acquire(ctx, req)
	c.observe("acquire", res, err, started)
	return res, err
}

func (c *Coordinator) acquire(ctx context.Context, req AcquireRequest) (*model.Result, error) {
	if req.AppointmentID == "" {
		return nil, fmt.Errorf("appointment id cannot be empty")
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	now := c.now()

	for attempt := 0; attempt < loadAttempts+1; attempt++ {
		current, err := c.store.Get(ctx, req.AppointmentID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		if current != nil {
			// A live lock by a different owner always wins over a stale
			// one, so the ownership check runs before any reclamation.
			if !current.ExpiredAt(now) {
				if current.OwnerID != req.OwnerID {
					return conflictResult(current, req.ExpectedVersion), nil
				}
				return c.renew(ctx, current, req, now)
			}

			reclaimed, err := c.reclaim(ctx, current, now)
			if err != nil {
				return nil, err
			}
			if !reclaimed {
				// A renewal raced in between read and delete; re-read.
				continue
			}
		}

		lock := &model.Lock{
			AppointmentID: req.AppointmentID,
			OwnerID:       req.OwnerID,
			OwnerInfo:     req.OwnerInfo,
			Version:       1,
			CorrelationID: uuid.NewString(),
			CreatedAt:     now,
			ExpiresAt:     now.Add(c.ttl),
		}

		err = c.store.Create(ctx, lock)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Another acquisition won the race; re-read and report.
			continue
		}
		if err != nil {
			return nil, err
		}

		c.record(ctx, c.historyRecord(lock, model.ActionAcquired, now, nil))
		c.publish(ctx, model.Event{
			Type:          model.EventLockAcquired,
			AppointmentID: lock.AppointmentID,
			Timestamp:     now,
			Lock:          lock,
		})

		c.logger.Info("Lock acquired",
			zap.String("appointment_id", lock.AppointmentID),
			zap.String("owner_id", lock.OwnerID),
			zap.Int64("version", lock.Version),
		)

		return &model.Result{Success: true, Message: "lock acquired", Lock: lock}, nil
	}

	return nil, fmt.Errorf("acquire retries exhausted for appointment %s", req.AppointmentID)
}

// renew extends the lease of the current owner. The version check and
// increment go through the store's conditional update.
func (c *Coordinator) renew(ctx context.Context, current *model.Lock, req AcquireRequest, now time.Time) (*model.Result, error) {
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return versionConflictResult(current, req.ExpectedVersion), nil
	}

	updated := current.Clone()
	updated.OwnerInfo = current.OwnerInfo.Merge(req.OwnerInfo)
	updated.Version = current.Version + 1
	updated.ExpiresAt = now.Add(c.ttl)

	err := c.store.Update(ctx, updated, current.Version)
	if errors.Is(err, store.ErrVersionMismatch) || errors.Is(err, store.ErrNotFound) {
		// Another mutation interleaved between read and update.
		return versionConflictResult(current, req.ExpectedVersion), nil
	}
	if err != nil {
		return nil, err
	}

	// Plain renewals are not audit-worthy; a renewal that re-validated
	// the version is an explicit re-acquire and is recorded.
	if req.ExpectedVersion != nil {
		c.record(ctx, c.historyRecord(updated, model.ActionAcquired, now, nil))
	}

	c.publish(ctx, model.Event{
		Type:          model.EventLockAcquired,
		AppointmentID: updated.AppointmentID,
		Timestamp:     now,
		Lock:          updated,
	})

	return &model.Result{Success: true, Message: "lock renewed", Lock: updated}, nil
}

// Release gives the lease back if the caller owns it.
func (c *Coordinator) Release(ctx context.Context, req ReleaseRequest) (*model.Result, error) {
	started := time.Now()
	res, err := c.release(ctx, req)
	c.observe("release", res, err, started)
	return res, err
}

func (c *Coordinator) release(ctx context.Context, req ReleaseRequest) (*model.Result, error) {
	if req.AppointmentID == "" {
		return nil, fmt.Errorf("appointment id cannot be empty")
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	now := c.now()

	lock, err := c.loadValid(ctx, req.AppointmentID, now)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return &model.Result{Success: false, Reason: model.ReasonNotFound, Message: "not locked"}, nil
	}
	if lock.OwnerID != req.OwnerID {
		return &model.Result{
			Success: false,
			Reason:  model.ReasonPermissionDenied,
			Message: "permission denied",
			Lock:    lock,
		}, nil
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != lock.Version {
		return versionConflictResult(lock, req.ExpectedVersion), nil
	}

	err = c.store.DeleteVersion(ctx, req.AppointmentID, lock.Version)
	if errors.Is(err, store.ErrVersionMismatch) {
		return versionConflictResult(lock, req.ExpectedVersion), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &model.Result{Success: false, Reason: model.ReasonNotFound, Message: "not locked"}, nil
	}
	if err != nil {
		return nil, err
	}

	duration := now.Sub(lock.CreatedAt).Seconds()
	c.record(ctx, c.historyRecord(lock, model.ActionReleased, now, &duration))
	c.publish(ctx, model.Event{
		Type:          model.EventLockReleased,
		AppointmentID: req.AppointmentID,
		Timestamp:     now,
	})

	c.logger.Info("Lock released",
		zap.String("appointment_id", req.AppointmentID),
		zap.String("owner_id", req.OwnerID),
	)

	return &model.Result{Success: true, Message: "lock released"}, nil
}

// ForceRelease removes the lease regardless of owner and version. The
// notification carries the admin's identity so observers can distinguish
// a takeover from a voluntary release.
func (c *Coordinator) ForceRelease(ctx context.Context, req ForceReleaseRequest) (*model.Result, error) {
	started := time.Now()
	res, err := c.forceRelease(ctx, req)
	c.observe("force_release", res, err, started)
	return res, err
}

func (c *Coordinator) forceRelease(ctx context.Context, req ForceReleaseRequest) (*model.Result, error) {
	if req.AppointmentID == "" {
		return nil, fmt.Errorf("appointment id cannot be empty")
	}
	if req.AdminID == "" {
		return nil, fmt.Errorf("admin id cannot be empty")
	}

	now := c.now()

	lock, err := c.loadValid(ctx, req.AppointmentID, now)
	if err != nil {
		return nil, err
	}
	if lock == nil {
		return &model.Result{Success: false, Reason: model.ReasonNotFound, Message: "not locked"}, nil
	}

	if err := c.store.Delete(ctx, req.AppointmentID); err != nil {
		return nil, err
	}

	duration := now.Sub(lock.CreatedAt).Seconds()
	rec := c.historyRecord(lock, model.ActionForceReleased, now, &duration)
	rec.ReleasedBy = req.AdminID
	c.record(ctx, rec)

	c.publish(ctx, model.Event{
		Type:          model.EventAdminTakeover,
		AppointmentID: req.AppointmentID,
		Timestamp:     now,
		AdminID:       req.AdminID,
		AdminInfo:     &req.AdminInfo,
	})

	c.logger.Info("Lock force-released",
		zap.String("appointment_id", req.AppointmentID),
		zap.String("owner_id", lock.OwnerID),
		zap.String("admin_id", req.AdminID),
	)

	return &model.Result{Success: true, Message: "lock force-released"}, nil
}

// UpdatePosition merges the cursor position into the lock and extends the
// lease. Position updates are a high-frequency path: they are not audited
// and not published through the lock-transition bus; the caller relays the
// cursor over the ephemeral channel itself. "Not locked" and "wrong owner"
// collapse into one answer because distinguishing them buys the caller
// nothing here.
func (c *Coordinator) UpdatePosition(ctx context.Context, req PositionRequest) (*model.Result, error) {
	if req.AppointmentID == "" {
		return nil, fmt.Errorf("appointment id cannot be empty")
	}
	if req.OwnerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	now := c.now()

	lock, err := c.loadValid(ctx, req.AppointmentID, now)
	if err != nil {
		return nil, err
	}
	if lock == nil || lock.OwnerID != req.OwnerID {
		return &model.Result{Success: false, Reason: model.ReasonNotFound, Message: "no active lock"}, nil
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != lock.Version {
		return versionConflictResult(lock, req.ExpectedVersion), nil
	}

	pos := req.Position
	updated := lock.Clone()
	updated.OwnerInfo.Position = &pos
	updated.Version = lock.Version + 1
	updated.ExpiresAt = now.Add(c.ttl)

	err = c.store.Update(ctx, updated, lock.Version)
	if errors.Is(err, store.ErrVersionMismatch) {
		return versionConflictResult(lock, req.ExpectedVersion), nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return &model.Result{Success: false, Reason: model.ReasonNotFound, Message: "no active lock"}, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.Result{Success: true, Message: "position updated", Lock: updated}, nil
}

// Sweep reclaims every lease whose TTL has elapsed, emitting the same
// side effects as if the owner had released. Per-row failures are logged
// and skipped; the sweep itself never escalates them.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	started := time.Now()
	now := c.now()

	expired, err := c.store.Expired(ctx, now)
	if err != nil {
		if c.metrics != nil {
			c.metrics.SweepRunsTotal.WithLabelValues("failure").Inc()
		}
		return 0, fmt.Errorf("failed to scan for expired locks: %w", err)
	}

	reclaimed := 0
	for _, lock := range expired {
		ok, err := c.reclaim(ctx, lock, now)
		if err != nil {
			c.logger.Warn("Failed to reclaim expired lock",
				zap.String("appointment_id", lock.AppointmentID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			reclaimed++
		}
	}

	if c.metrics != nil {
		c.metrics.SweepRunsTotal.WithLabelValues("success").Inc()
		c.metrics.SweepReclaimedTotal.Add(float64(reclaimed))
		c.metrics.SweepDurationSeconds.Observe(time.Since(started).Seconds())
	}

	if reclaimed > 0 {
		c.logger.Info("Expiry sweep reclaimed leases",
			zap.Int("reclaimed", reclaimed),
			zap.Int("candidates", len(expired)),
		)
	}

	return reclaimed, nil
}

// loadValid returns the current valid lock, or nil when the appointment
// is unlocked. Tombstones found on the way are reclaimed; a reclamation
// lost to a racing renewal triggers a re-read.
func (c *Coordinator) loadValid(ctx context.Context, appointmentID string, now time.Time) (*model.Lock, error) {
	for attempt := 0; attempt < loadAttempts; attempt++ {
		current, err := c.store.Get(ctx, appointmentID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !current.ExpiredAt(now) {
			return current, nil
		}

		reclaimed, err := c.reclaim(ctx, current, now)
		if err != nil {
			return nil, err
		}
		if reclaimed {
			return nil, nil
		}
	}

	// The row kept being renewed under us; report the latest valid view.
	current, err := c.store.Get(ctx, appointmentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if current.ExpiredAt(now) {
		return nil, nil
	}
	return current, nil
}

// reclaim retires one tombstone through the store's compare-on-expiry
// delete and, only if the delete won, emits the Expired history record
// and the released notification. Returns false when a renewal raced in.
func (c *Coordinator) reclaim(ctx context.Context, lock *model.Lock, now time.Time) (bool, error) {
	err := c.store.DeleteExpired(ctx, lock.AppointmentID, now)
	switch {
	case errors.Is(err, store.ErrNotExpired):
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		// Already reclaimed by a concurrent reader or sweeper; the side
		// effects were theirs to emit.
		return true, nil
	case err != nil:
		return false, err
	}

	duration := now.Sub(lock.CreatedAt).Seconds()
	if duration < 0 {
		duration = 0
	}
	c.record(ctx, c.historyRecord(lock, model.ActionExpired, now, &duration))
	c.publish(ctx, model.Event{
		Type:          model.EventLockReleased,
		AppointmentID: lock.AppointmentID,
		Timestamp:     now,
	})

	c.logger.Info("Expired lock reclaimed",
		zap.String("appointment_id", lock.AppointmentID),
		zap.String("owner_id", lock.OwnerID),
		zap.Float64("held_seconds", duration),
	)

	return true, nil
}

// historyRecord builds the audit record for one transition.
func (c *Coordinator) historyRecord(lock *model.Lock, action model.Action, now time.Time, duration *float64) *model.HistoryRecord {
	return &model.HistoryRecord{
		ID:              uuid.NewString(),
		AppointmentID:   lock.AppointmentID,
		OwnerID:         lock.OwnerID,
		OwnerName:       lock.OwnerInfo.Name,
		OwnerContact:    lock.OwnerInfo.Contact,
		Action:          action,
		Timestamp:       now,
		DurationSeconds: duration,
		CorrelationID:   lock.CorrelationID,
	}
}

// record writes a history record on a best-effort basis. History is audit,
// not part of the lock consistency contract: failures are logged, never
// surfaced to the lock caller.
func (c *Coordinator) record(ctx context.Context, rec *model.HistoryRecord) {
	// The mutation already committed; don't let a caller cancellation
	// erase its audit trail.
	if err := c.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		c.logger.Warn("History write failed",
			zap.String("appointment_id", rec.AppointmentID),
			zap.String("action", string(rec.Action)),
			zap.Error(err),
		)
		if c.metrics != nil {
			c.metrics.HistoryWritesTotal.WithLabelValues("failure").Inc()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.HistoryWritesTotal.WithLabelValues("success").Inc()
	}
}

// publish fans an event out after the store mutation has committed.
// Fan-out is at-most-once; failures are logged, not surfaced.
func (c *Coordinator) publish(ctx context.Context, evt model.Event) {
	if err := c.bus.Publish(context.WithoutCancel(ctx), evt.AppointmentID, evt); err != nil {
		c.logger.Warn("Notification publish failed",
			zap.String("appointment_id", evt.AppointmentID),
			zap.String("event", string(evt.Type)),
			zap.Error(err),
		)
		return
	}
	if c.metrics != nil {
		c.metrics.NotificationsTotal.WithLabelValues(string(evt.Type)).Inc()
	}
}

// observe records the operation outcome metric.
func (c *Coordinator) observe(operation string, res *model.Result, err error, started time.Time) {
	if c.metrics == nil {
		return
	}
	outcome := "transient_error"
	if err == nil {
		if res.Success {
			outcome = "success"
		} else {
			outcome = string(res.Reason)
		}
	}
	c.metrics.RecordLockOperation(operation, outcome, time.Since(started))
}

func conflictResult(current *model.Lock, expectedVersion *int64) *model.Result {
	return &model.Result{
		Success: false,
		Reason:  model.ReasonConflict,
		Message: "appointment locked by another owner",
		Lock:    current,
		Conflict: &model.ConflictInfo{
			CurrentVersion:   current.Version,
			ExpectedVersion:  expectedVersion,
			ConflictingOwner: current.OwnerID,
		},
	}
}

func versionConflictResult(current *model.Lock, expectedVersion *int64) *model.Result {
	return &model.Result{
		Success: false,
		Reason:  model.ReasonVersionConflict,
		Message: "lock version changed",
		Lock:    current,
		Conflict: &model.ConflictInfo{
			CurrentVersion:   current.Version,
			ExpectedVersion:  expectedVersion,
			ConflictingOwner: current.OwnerID,
		},
	}
}
