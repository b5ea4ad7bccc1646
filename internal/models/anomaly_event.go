package models

import "time"

// Severity classifies how far an anomaly score sits above the detector
// threshold. The mapping from score to severity is supplied by the scoring
// step in the orchestrator; the policy engine treats it as opaque input.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// PolicyAction is the operational action assigned to an anomaly event.
type PolicyAction string

const (
	ActionInvestigate PolicyAction = "investigate"
	ActionMonitor     PolicyAction = "monitor"
	ActionIgnore      PolicyAction = "ignore"
)

// AnomalyEvent is one flagged index of a completed detection run. Events are
// written in a single batch per run and are never mutated afterwards.
// Score is always finite; detectors reject non-finite input before scoring.
type AnomalyEvent struct {
	ID           string            `json:"id" db:"id"`
	RunID        string            `json:"run_id" db:"run_id"`
	DetectorID   string            `json:"detector_id" db:"detector_id"`
	CohortValues map[string]string `json:"cohort_values" db:"-"`
	Metric       string            `json:"metric" db:"metric"`
	Timestamp    time.Time         `json:"timestamp" db:"ts"`
	Score        float64           `json:"score" db:"score"`
	Severity     Severity          `json:"severity" db:"severity"`
	PersistedN   int               `json:"persisted_n" db:"persisted_n"`
	Evidence     map[string]any    `json:"evidence,omitempty" db:"-"`
	PolicyAction PolicyAction      `json:"policy_action" db:"policy_action"`
	PolicyReason string            `json:"policy_reason,omitempty" db:"policy_reason"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}
