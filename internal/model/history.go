package model

import (
	"time"
)

// Action is the kind of lock transition recorded in the audit trail.
type Action string

const (
	// ActionAcquired records an Unlocked to Locked transition, or an
	// explicitly re-validated renewal.
	ActionAcquired Action = "acquired"

	// ActionReleased records a voluntary release by the owner.
	ActionReleased Action = "released"

	// ActionExpired records a lease reclaimed after its TTL elapsed.
	ActionExpired Action = "expired"

	// ActionForceReleased records an administrative override.
	ActionForceReleased Action = "force_released"
)

// Terminal reports whether the action ends a lease. Terminal records carry
// a held-duration.
func (a Action) Terminal() bool {
	switch a {
	case ActionReleased, ActionExpired, ActionForceReleased:
		return true
	}
	return false
}

// HistoryRecord is one immutable fact about a lock transition. Records are
// never mutated after creation and outlive the lock rows they describe.
type HistoryRecord struct {
	ID            string    `json:"id" bson:"_id"`
	AppointmentID string    `json:"appointment_id" bson:"appointment_id"`
	OwnerID       string    `json:"owner_id" bson:"owner_id"`
	OwnerName     string    `json:"owner_name,omitempty" bson:"owner_name,omitempty"`
	OwnerContact  string    `json:"owner_contact,omitempty" bson:"owner_contact,omitempty"`
	Action        Action    `json:"action" bson:"action"`
	Timestamp     time.Time `json:"timestamp" bson:"timestamp"`

	// DurationSeconds is the elapsed time since the lock's acquisition.
	// Present only for terminal actions.
	DurationSeconds *float64 `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty"`

	// ReleasedBy is the administrative actor id. Present only for
	// force-released records.
	ReleasedBy string `json:"released_by,omitempty" bson:"released_by,omitempty"`

	// CorrelationID joins the records belonging to one lease.
	CorrelationID string `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`

	// Metadata is a free-form diagnostic bag.
	Metadata map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// HistoryStats aggregates the audit trail for one appointment.
type HistoryStats struct {
	AppointmentID string `json:"appointment_id"`

	// ActionCounts is the number of records per action type.
	ActionCounts map[Action]int64 `json:"action_counts"`

	// AverageDurationSeconds is the mean held-duration over terminal
	// records. Zero when no terminal records exist.
	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	// DistinctOwners is the number of distinct owner ids that have held
	// the lock.
	DistinctOwners int64 `json:"distinct_owners"`

	// TotalRecords is the total number of history records.
	TotalRecords int64 `json:"total_records"`
}
