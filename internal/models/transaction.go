package models

import "time"

// Transaction is the calibration input shape: a historical transaction with
// a ground-truth fraud label and the risk score that was predicted for it.
// Labels come from several upstream systems, so the raw string is kept and
// binarized by the calibration package.
type Transaction struct {
	ID        string    `json:"id"`
	EventTS   time.Time `json:"event_ts"`
	Label     string    `json:"label"`
	RiskScore *float64  `json:"risk_score,omitempty"`
}
