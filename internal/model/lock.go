package model

import (
	"time"
)

// Position is the live cursor position of a lock owner inside the
// appointment editor. It is ephemeral presence data, overwritten on every
// renewal and never audited.
type Position struct {
	// Field is the identifier of the form field being edited.
	Field string `json:"field,omitempty"`

	// X and Y are editor-relative cursor coordinates.
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// OwnerInfo is display metadata describing the holder of a lock.
type OwnerInfo struct {
	// Name is the display name of the owner.
	Name string `json:"name,omitempty"`

	// Contact is the owner's contact detail (typically an email address).
	Contact string `json:"contact,omitempty"`

	// Position is the owner's live cursor position, if known.
	Position *Position `json:"position,omitempty"`
}

// Merge returns a copy of the receiver with the non-empty fields of other
// applied on top. The cursor position is replaced whenever other carries
// one; it is presence data and the latest report wins.
func (i OwnerInfo) Merge(other OwnerInfo) OwnerInfo {
	merged := i
	if other.Name != "" {
		merged.Name = other.Name
	}
	if other.Contact != "" {
		merged.Contact = other.Contact
	}
	if other.Position != nil {
		merged.Position = other.Position
	}
	return merged
}

// Lock represents current ownership of editing rights for one appointment.
// At most one lock exists per appointment id at any instant; a stored lock
// whose ExpiresAt has passed is a tombstone that must be reclaimed before
// the appointment is treated as unlocked.
type Lock struct {
	// AppointmentID identifies the appointment being protected.
	AppointmentID string `json:"appointment_id"`

	// OwnerID is the identifier of the holder.
	OwnerID string `json:"owner_id"`

	// OwnerInfo is the holder's display metadata.
	OwnerInfo OwnerInfo `json:"owner_info"`

	// Version increases by one on every successful mutation of this row.
	// It starts at 1 on acquisition and is used by callers to detect
	// stale reads before a conditional mutation.
	Version int64 `json:"version"`

	// CorrelationID identifies this lease across its history records.
	// It is assigned once at acquisition and survives renewals.
	CorrelationID string `json:"correlation_id"`

	// CreatedAt is the timestamp of the most recent acquisition, not of
	// the last renewal. Held-duration is computed against it.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the instant after which the lock must be treated as
	// absent by any reader.
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the lock's lease has elapsed as of now.
func (l *Lock) ExpiredAt(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Clone returns a deep copy of the lock.
func (l *Lock) Clone() *Lock {
	c := *l
	if l.OwnerInfo.Position != nil {
		p := *l.OwnerInfo.Position
		c.OwnerInfo.Position = &p
	}
	return &c
}

// LockStatus is the answer to a status query for one appointment.
type LockStatus struct {
	Locked bool  `json:"locked"`
	Lock   *Lock `json:"lock,omitempty"`
}
