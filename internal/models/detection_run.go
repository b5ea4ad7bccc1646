package models

import "time"

// RunStatus is the lifecycle state of a detection run.
// COMPLETED and FAILED are terminal; a run never leaves a terminal state.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// Terminal reports whether s is a terminal run status.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// DetectionRun tracks one background detection job for a
// (detector_id, window_from, window_to) request.
type DetectionRun struct {
	ID          string     `json:"id" db:"id"`
	DetectorID  string     `json:"detector_id" db:"detector_id"`
	WindowFrom  time.Time  `json:"window_from" db:"window_from"`
	WindowTo    time.Time  `json:"window_to" db:"window_to"`
	Status      RunStatus  `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	EventCount  int        `json:"event_count" db:"event_count"`
}
