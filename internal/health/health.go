// Package health aggregates the checks behind the coordinator's probe
// server: the lock store, the history backend, the expiry sweeper, and
// the HTTP servers themselves.
package health

import (
	"context"
	"time"
)

// Status is the outcome of a single check.
type Status string

const (
	// StatusOK indicates the check passed.
	StatusOK Status = "ok"
	// StatusStarting indicates the component has not finished starting,
	// for example the sweeper before its first tick.
	StatusStarting Status = "starting"
	// StatusNotReady indicates the service should not receive lock
	// traffic, typically during shutdown.
	StatusNotReady Status = "not-ready"
	// StatusError indicates the check failed, such as an unreachable
	// store or history backend.
	StatusError Status = "error"
)

// CheckResult is the outcome of one named check at one point in time.
type CheckResult struct {
	Name string `json:"name"`
	// Status classifies the outcome.
	Status Status `json:"status"`
	// Message carries backend error detail when the check did not pass.
	Message string `json:"message,omitempty"`
	// Timestamp is when the check ran.
	Timestamp time.Time `json:"timestamp"`
	// Duration is how long the check took against its backend.
	Duration time.Duration `json:"duration"`
}

// Checker is one named dependency check run by the Manager.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// StartupResponse is the body of GET /healthz/startup. Status is ok only
// once every registered check passes.
type StartupResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Status `json:"checks"`
}

// LivenessResponse is the body of GET /healthz/live. It only confirms
// the process is serving.
type LivenessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the body of GET /healthz/ready. Ready goes false
// during shutdown so load balancers stop routing lock traffic here.
type ReadinessResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Ready     bool      `json:"ready"`
}
