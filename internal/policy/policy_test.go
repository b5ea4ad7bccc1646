package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

func TestDecidePrecedence(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want models.PolicyAction
	}{
		{
			name: "critical always investigates",
			in:   Input{Score: 0.1, Severity: models.SeverityCritical, PersistedN: 0},
			want: models.ActionInvestigate,
		},
		{
			name: "warn with persistence investigates",
			in:   Input{Score: 1.0, Severity: models.SeverityWarn, PersistedN: 3, Params: map[string]any{"persistence": 2}},
			want: models.ActionInvestigate,
		},
		{
			name: "score override beats info severity",
			in:   Input{Score: 6.0, Severity: models.SeverityInfo, PersistedN: 1},
			want: models.ActionInvestigate,
		},
		{
			name: "warn below persistence monitors",
			in:   Input{Score: 1.0, Severity: models.SeverityWarn, PersistedN: 1, Params: map[string]any{"persistence": 2}},
			want: models.ActionMonitor,
		},
		{
			name: "info with low score ignores",
			in:   Input{Score: 0.1, Severity: models.SeverityInfo, PersistedN: 1},
			want: models.ActionIgnore,
		},
		{
			name: "warn with high score investigates before monitor",
			in:   Input{Score: 7.5, Severity: models.SeverityWarn, PersistedN: 1, Params: map[string]any{"persistence": 5}},
			want: models.ActionInvestigate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.in)
			assert.Equal(t, tt.want, got.Action)
			assert.NotEmpty(t, got.Reason, "every decision carries a reason")
		})
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	in := Input{Score: 4.2, Severity: models.SeverityWarn, PersistedN: 2, Params: map[string]any{"persistence": 2}}
	first := Decide(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(in))
	}
}

func TestDecideFailSafeOnMalformedInput(t *testing.T) {
	// Unknown severity, nil params: degrade to ignore, never panic.
	got := Decide(Input{Score: 1.0, Severity: "??", PersistedN: 0, Params: nil})
	assert.Equal(t, models.ActionIgnore, got.Action)
	assert.Contains(t, got.Reason, "unrecognized severity")

	// Garbage persistence value falls back to the default of 2.
	got = Decide(Input{Score: 1.0, Severity: models.SeverityWarn, PersistedN: 2, Params: map[string]any{"persistence": "junk"}})
	assert.Equal(t, models.ActionInvestigate, got.Action)
}

func TestDecideScoreOverrideWithUnknownSeverity(t *testing.T) {
	got := Decide(Input{Score: 9.9, Severity: "mystery", PersistedN: 0})
	assert.Equal(t, models.ActionInvestigate, got.Action)
}
