package model

// Reason classifies the expected non-success outcomes of a lock operation.
// These are structured results the caller branches on, not faults; only
// transient store errors travel as Go errors.
type Reason string

const (
	// ReasonNotFound means no valid lock exists for the appointment.
	ReasonNotFound Reason = "not_found"

	// ReasonPermissionDenied means the caller is not the current owner.
	ReasonPermissionDenied Reason = "permission_denied"

	// ReasonConflict means a live lock by a different owner blocks the
	// acquisition.
	ReasonConflict Reason = "conflict"

	// ReasonVersionConflict means the caller's expected version no longer
	// matches the row; another mutation interleaved.
	ReasonVersionConflict Reason = "version_conflict"
)

// ConflictInfo describes why an acquisition or conditional mutation was
// rejected.
type ConflictInfo struct {
	// CurrentVersion is the version of the row at rejection time.
	CurrentVersion int64 `json:"current_version"`

	// ExpectedVersion is the version the caller supplied, if any.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`

	// ConflictingOwner is the id of the owner holding the lock.
	ConflictingOwner string `json:"conflicting_owner,omitempty"`
}

// Result is the outcome of a coordinator operation.
type Result struct {
	// Success reports whether the operation took effect.
	Success bool `json:"success"`

	// Reason classifies the outcome when Success is false.
	Reason Reason `json:"reason,omitempty"`

	// Message provides human-readable context.
	Message string `json:"message,omitempty"`

	// Lock is the relevant lock state: the updated lock on success, or
	// the blocking lock on conflict and permission denial.
	Lock *Lock `json:"lock,omitempty"`

	// Conflict carries version details for conflict outcomes.
	Conflict *ConflictInfo `json:"conflict,omitempty"`
}
