package detector

import (
	"math"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// Baseline and auto-derivation defaults. The reference mean comes from the
// leading fraction of the series so a level shift later in the window does
// not contaminate it. The noise scale comes from the median absolute
// first difference over the whole series, which a level shift perturbs at
// only one point; a short leading prefix systematically underestimates the
// spread and makes the statistic drift on stationary noise. Slack is half
// the noise scale, the decision threshold four.
const (
	cusumBaselineFraction = 0.25
	cusumMinBaseline      = 10
	cusumSlackFactor      = 0.5
	cusumThresholdFactor  = 4.0

	// madToSigma/sqrt(2) converts the median absolute difference of
	// consecutive Gaussian samples into a standard deviation.
	cusumDiffToSigma = madToSigma / math.Sqrt2
)

// CUSUMDetector detects persistent level shifts with two-sided
// cumulative-sum statistics. Anomalies span the contiguous region where the
// statistic stays above the threshold, not just the first crossing.
type CUSUMDetector struct {
	common           CommonParams
	delta            float64 // slack per observation; 0 = derive from the noise scale
	threshold        float64 // decision threshold; 0 = derive from the noise scale
	baselineFraction float64
}

// NewCUSUM builds a CUSUM detector from stored params. Recognized keys
// beyond the common ones: delta, threshold (auto-derived from the series
// noise scale when absent) and baseline_fraction (default 0.25).
func NewCUSUM(params map[string]any) *CUSUMDetector {
	return &CUSUMDetector{
		common:           ParseCommonParams(params),
		delta:            floatParam(params, "delta", 0),
		threshold:        floatParam(params, "threshold", 0),
		baselineFraction: floatParam(params, "baseline_fraction", cusumBaselineFraction),
	}
}

func (d *CUSUMDetector) Type() models.DetectorType { return models.DetectorTypeCUSUM }

// Detect accumulates sPos/sNeg over the series and scores each point as
// max(sPos, sNeg) normalized by the threshold, so scores share the same
// k-unit scale as the other detectors and a point is anomalous when its
// score exceeds k. The changepoint index is the first crossing of
// k*threshold; -1 when nothing crossed.
func (d *CUSUMDetector) Detect(series []float64) (*Result, error) {
	if err := Validate(series, d.common.MinSupport); err != nil {
		return nil, err
	}

	baselineN := int(d.baselineFraction * float64(len(series)))
	if baselineN < cusumMinBaseline {
		baselineN = cusumMinBaseline
	}
	if baselineN > len(series) {
		baselineN = len(series)
	}
	mean, baselineStddev := meanStddev(series[:baselineN])

	sigma := diffSigma(series)
	if sigma < madEpsilon {
		// Flat or heavily quantized series: more than half the
		// consecutive differences are zero. Fall back to the baseline
		// spread.
		sigma = baselineStddev
	}

	delta := d.delta
	if delta <= 0 {
		delta = cusumSlackFactor * sigma
	}
	threshold := d.threshold
	if threshold <= 0 {
		threshold = cusumThresholdFactor * sigma
	}
	if threshold < madEpsilon {
		threshold = madEpsilon
	}
	limit := d.common.K * threshold

	scores := make([]float64, len(series))
	sPos := make([]float64, len(series))
	sNeg := make([]float64, len(series))
	changepoint := -1

	var pos, neg float64
	for i, x := range series {
		pos = math.Max(0, pos+(x-mean)-delta)
		neg = math.Max(0, neg-(x-mean)-delta)
		sPos[i] = pos
		sNeg[i] = neg

		stat := math.Max(pos, neg)
		scores[i] = stat / threshold
		if changepoint < 0 && stat > limit {
			changepoint = i
		}
	}

	anomalies := FilterAnomalies(scores, d.common.K)

	return &Result{
		Scores:    scores,
		Anomalies: anomalies,
		Evidence: map[string]any{
			"s_pos":             sPos,
			"s_neg":             sNeg,
			"mean":              mean,
			"stddev":            sigma,
			"delta":             delta,
			"threshold":         threshold,
			"baseline_n":        baselineN,
			"changepoint_index": changepoint,
		},
	}, nil
}

// diffSigma estimates the noise standard deviation from the median
// absolute difference of consecutive observations.
func diffSigma(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	diffs := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		diffs[i-1] = math.Abs(series[i] - series[i-1])
	}
	return cusumDiffToSigma * median(diffs)
}

// meanStddev returns the sample mean and population standard deviation.
func meanStddev(series []float64) (float64, float64) {
	n := float64(len(series))
	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range series {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / n)
}
