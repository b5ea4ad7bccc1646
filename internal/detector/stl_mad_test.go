package detector

import (
	"testing"
)

func TestSTLMADDetectsInjectedSpike(t *testing.T) {
	series := noisySeries(t, 100, 100, 10, 7)
	series[50] = 300

	d := NewSTLMAD(map[string]any{"k": 3.0, "min_support": 24}, nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	found := false
	for _, idx := range res.Anomalies {
		if idx == 50 {
			found = true
		}
	}
	if !found {
		t.Fatalf("index 50 not flagged; anomalies=%v score[50]=%.2f", res.Anomalies, res.Scores[50])
	}
}

func TestSTLMADFlagsDegradedPeriod(t *testing.T) {
	// 100 points against the default period of 672 forces the shrink path.
	series := noisySeries(t, 100, 100, 10, 7)

	d := NewSTLMAD(map[string]any{"min_support": 24}, nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if degraded, _ := res.Evidence["period_degraded"].(bool); !degraded {
		t.Error("expected period_degraded=true for short series")
	}
	if period, _ := res.Evidence["period"].(int); period != 50 {
		t.Errorf("expected effective period 50, got %v", res.Evidence["period"])
	}
}

func TestSTLMADHonorsConfiguredPeriod(t *testing.T) {
	series := noisySeries(t, 96, 100, 10, 11)

	d := NewSTLMAD(map[string]any{"period": 24, "min_support": 24}, nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if degraded, _ := res.Evidence["period_degraded"].(bool); degraded {
		t.Error("period should not degrade when 2*period fits")
	}
	if period, _ := res.Evidence["period"].(int); period != 24 {
		t.Errorf("expected period 24, got %v", res.Evidence["period"])
	}
}

func TestSTLMADConstantSeriesProducesNoAnomalies(t *testing.T) {
	series := make([]float64, 80)
	for i := range series {
		series[i] = 42
	}

	d := NewSTLMAD(map[string]any{"min_support": 24}, nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	// MAD is floored to epsilon; residuals are all zero, so every score is 0.
	if len(res.Anomalies) != 0 {
		t.Errorf("constant series flagged anomalies: %v", res.Anomalies)
	}
}

func TestSTLMADSeasonalSeriesNotFlagged(t *testing.T) {
	// A clean daily cycle should decompose away. The moving-average trend
	// is biased at the series edges, so only interior points are asserted.
	series := make([]float64, 192)
	for i := range series {
		series[i] = 100 + 20*seasonalShape(i%24)
	}

	d := NewSTLMAD(map[string]any{"period": 24, "min_support": 24, "robust": true}, nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	for _, idx := range res.Anomalies {
		if idx >= 24 && idx < len(series)-24 {
			t.Errorf("pure seasonal series flagged interior index %d (score %.2f)", idx, res.Scores[idx])
		}
	}
}

// seasonalShape is a simple triangular daily profile.
func seasonalShape(phase int) float64 {
	if phase < 12 {
		return float64(phase) / 12
	}
	return float64(24-phase) / 12
}
