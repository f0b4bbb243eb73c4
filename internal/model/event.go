package model

import (
	"time"
)

// EventType is the kind of notification fanned out to the observers of an
// appointment topic.
type EventType string

const (
	// EventLockAcquired signals a new acquisition or a renewal. The
	// payload carries the updated lock.
	EventLockAcquired EventType = "lock-acquired"

	// EventLockReleased signals a voluntary release or an expiry.
	EventLockReleased EventType = "lock-released"

	// EventAdminTakeover signals an administrative force-release. It is
	// distinct from a plain release so observers can tell "owner left"
	// from "owner was displaced".
	EventAdminTakeover EventType = "admin-takeover"

	// EventCursorPosition is an ephemeral presence update relayed by the
	// editing client, not generated by the coordinator.
	EventCursorPosition EventType = "cursor-position"
)

// Event is one notification delivered to the subscribers of an appointment
// topic. Delivery is at-most-once with no replay; a reconnecting observer
// must re-fetch the lock status explicitly.
type Event struct {
	Type          EventType `json:"type"`
	AppointmentID string    `json:"appointment_id"`
	Timestamp     time.Time `json:"timestamp"`

	// Lock is present for lock-acquired events.
	Lock *Lock `json:"lock,omitempty"`

	// AdminID and AdminInfo are present for admin-takeover events.
	AdminID   string     `json:"admin_id,omitempty"`
	AdminInfo *OwnerInfo `json:"admin_info,omitempty"`

	// OwnerID and Position are present for cursor-position events.
	OwnerID  string    `json:"owner_id,omitempty"`
	Position *Position `json:"position,omitempty"`
}
