package detector

import (
	"testing"
)

// shiftedSeries is 50 points of N(100,10) followed by 50 points of N(150,10).
func shiftedSeries(t *testing.T) []float64 {
	t.Helper()
	series := noisySeries(t, 50, 100, 10, 5)
	return append(series, noisySeries(t, 50, 150, 10, 6)...)
}

func TestCUSUMDetectsLevelShift(t *testing.T) {
	d := NewCUSUM(nil)
	res, err := d.Detect(shiftedSeries(t))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if len(res.Anomalies) == 0 {
		t.Fatal("expected anomalies after level shift")
	}

	cp, ok := res.Evidence["changepoint_index"].(int)
	if !ok {
		t.Fatalf("changepoint_index missing from evidence: %v", res.Evidence)
	}
	if cp < 40 || cp >= 60 {
		t.Errorf("changepoint_index = %d, want in [40, 60)", cp)
	}
}

func TestCUSUMAnomalyRegionIsContiguous(t *testing.T) {
	d := NewCUSUM(nil)
	res, err := d.Detect(shiftedSeries(t))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	// Once the statistic crosses, the shift persists, so the flagged
	// region runs from the changepoint to the end of the series.
	cp := res.Evidence["changepoint_index"].(int)
	for i := 1; i < len(res.Anomalies); i++ {
		if res.Anomalies[i] != res.Anomalies[i-1]+1 {
			t.Fatalf("anomaly region not contiguous: %v", res.Anomalies)
		}
	}
	if res.Anomalies[0] != cp {
		t.Errorf("region starts at %d, changepoint at %d", res.Anomalies[0], cp)
	}
	if last := res.Anomalies[len(res.Anomalies)-1]; last != 99 {
		t.Errorf("region ends at %d, want 99", last)
	}
}

func TestCUSUMStableSeriesHasNoChangepoint(t *testing.T) {
	d := NewCUSUM(nil)
	res, err := d.Detect(noisySeries(t, 100, 100, 10, 8))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	if len(res.Anomalies) != 0 {
		t.Errorf("stable series flagged anomalies: %v", res.Anomalies)
	}
	if cp := res.Evidence["changepoint_index"].(int); cp != -1 {
		t.Errorf("changepoint_index = %d, want -1", cp)
	}
}

func TestCUSUMSuppliedThresholdOverridesDerivation(t *testing.T) {
	series := shiftedSeries(t)

	loose := NewCUSUM(map[string]any{"threshold": 1e6})
	res, err := loose.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Anomalies) != 0 {
		t.Errorf("threshold 1e6 should suppress all anomalies, got %v", res.Anomalies)
	}
	if got := res.Evidence["threshold"].(float64); got != 1e6 {
		t.Errorf("threshold evidence = %v, want 1e6", got)
	}
}

func TestCUSUMNoiseScaleComesFromWholeSeries(t *testing.T) {
	d := NewCUSUM(nil)
	res, err := d.Detect(shiftedSeries(t))
	if err != nil {
		t.Fatalf("detect: %v", err)
	}

	// The median absolute first difference ignores the single step at the
	// shift, so the estimate should track the N(.,10) noise rather than
	// the 50-point spread of the combined series.
	sigma := res.Evidence["stddev"].(float64)
	if sigma < 5 || sigma > 20 {
		t.Errorf("noise scale = %v, want near the per-regime stddev of 10", sigma)
	}
}

func TestCUSUMModerateShiftScoresStayInSeverityBands(t *testing.T) {
	// A small, quantized baseline followed by a persistent moderate shift.
	// The onset scores must land between k and 2k rather than being
	// squashed below the anomaly cut by an extra k normalization.
	series := make([]float64, 0, 30)
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			series = append(series, 10.0)
		} else {
			series = append(series, 10.2)
		}
	}
	for i := 0; i < 20; i++ {
		series = append(series, 10.7)
	}

	d := NewCUSUM(map[string]any{"min_support": float64(20)})
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("expected anomalies after moderate shift")
	}

	first := res.Scores[res.Anomalies[0]]
	if first <= DefaultK || first >= 2*DefaultK {
		t.Errorf("first anomaly score = %v, want in (%v, %v)", first, DefaultK, 2*DefaultK)
	}
	last := res.Scores[res.Anomalies[len(res.Anomalies)-1]]
	if last < 2*DefaultK {
		t.Errorf("final anomaly score = %v, want >= %v once the shift persists", last, 2*DefaultK)
	}
}

func TestCUSUMDetectsDownwardShift(t *testing.T) {
	series := noisySeries(t, 50, 150, 10, 9)
	series = append(series, noisySeries(t, 50, 100, 10, 10)...)

	d := NewCUSUM(nil)
	res, err := d.Detect(series)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(res.Anomalies) == 0 {
		t.Fatal("expected anomalies for downward shift")
	}
}
