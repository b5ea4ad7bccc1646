// Package policy converts raw anomaly scores into operational actions. The
// decision function is pure and total: it never errors, never panics, and
// malformed input degrades to ignore with an explicit reason so the
// detection pipeline keeps moving under partial upstream failures.
package policy

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// scoreOverride escalates to investigate regardless of severity.
const scoreOverride = 5.0

// defaultPersistence applies when the detector params carry no usable
// persistence value.
const defaultPersistence = 2

// Input is everything the policy engine looks at for one anomaly event.
type Input struct {
	Score      float64
	Severity   models.Severity
	PersistedN int
	Params     map[string]any
}

// Decision is the assigned action plus a human-readable summary of which
// rule fired, attached to the event for investigators.
type Decision struct {
	Action models.PolicyAction
	Reason string
}

// Decide assigns an action with fixed precedence; the first matching rule
// wins:
//
//  1. critical severity           -> investigate
//  2. warn and persisted >= limit -> investigate
//  3. score > 5.0                 -> investigate (overrides severity)
//  4. warn                        -> monitor
//  5. anything else               -> ignore
func Decide(in Input) Decision {
	persistence := defaultPersistence
	if v, ok := in.Params["persistence"]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			persistence = n
		}
	}

	switch in.Severity {
	case models.SeverityCritical:
		return Decision{
			Action: models.ActionInvestigate,
			Reason: "critical severity",
		}
	case models.SeverityWarn:
		if in.PersistedN >= persistence {
			return Decision{
				Action: models.ActionInvestigate,
				Reason: fmt.Sprintf("warn severity persisted %d consecutive windows (limit %d)", in.PersistedN, persistence),
			}
		}
		if in.Score > scoreOverride {
			return Decision{
				Action: models.ActionInvestigate,
				Reason: fmt.Sprintf("score %.2f exceeds override threshold %.1f", in.Score, scoreOverride),
			}
		}
		return Decision{
			Action: models.ActionMonitor,
			Reason: "warn severity below persistence limit",
		}
	case models.SeverityInfo:
		if in.Score > scoreOverride {
			return Decision{
				Action: models.ActionInvestigate,
				Reason: fmt.Sprintf("score %.2f exceeds override threshold %.1f", in.Score, scoreOverride),
			}
		}
		return Decision{
			Action: models.ActionIgnore,
			Reason: "info severity, low score",
		}
	default:
		// Unknown severity strings arrive when an upstream scorer
		// misbehaves; fail safe instead of failing the run.
		if in.Score > scoreOverride {
			return Decision{
				Action: models.ActionInvestigate,
				Reason: fmt.Sprintf("score %.2f exceeds override threshold %.1f (severity %q unrecognized)", in.Score, scoreOverride, in.Severity),
			}
		}
		return Decision{
			Action: models.ActionIgnore,
			Reason: fmt.Sprintf("unrecognized severity %q, defaulting to ignore", in.Severity),
		}
	}
}
