package detector

import (
	"log/slog"
	"math"
	"sort"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// DefaultSTLPeriod is one week at 15-minute resolution.
const DefaultSTLPeriod = 672

// madEpsilon floors the MAD so a constant residual never divides by zero.
const madEpsilon = 1e-9

// madToSigma rescales MAD to be comparable with a normal-distribution
// standard deviation.
const madToSigma = 1.4826

// STLMADDetector decomposes a series into trend + seasonal + residual and
// scores each point by its residual in robust (MAD) sigma units.
type STLMADDetector struct {
	common CommonParams
	period int
	robust bool
	log    *slog.Logger
}

// NewSTLMAD builds an STL+MAD detector from stored params. Recognized keys
// beyond the common ones: period (default 672), robust (default false).
func NewSTLMAD(params map[string]any, log *slog.Logger) *STLMADDetector {
	if log == nil {
		log = slog.Default()
	}
	return &STLMADDetector{
		common: ParseCommonParams(params),
		period: intParam(params, "period", DefaultSTLPeriod),
		robust: boolParam(params, "robust", false),
		log:    log,
	}
}

func (d *STLMADDetector) Type() models.DetectorType { return models.DetectorTypeSTLMAD }

// Detect validates, decomposes, and scores the series. The input is never
// mutated. When the series is shorter than two full periods the effective
// period shrinks to len/2 (minimum 2); the decomposition degrades with it,
// so the shrink is logged and flagged in the evidence instead of happening
// silently.
func (d *STLMADDetector) Detect(series []float64) (*Result, error) {
	if err := Validate(series, d.common.MinSupport); err != nil {
		return nil, err
	}

	period := d.period
	degraded := false
	if len(series) < 2*period {
		period = len(series) / 2
		if period < 2 {
			period = 2
		}
		degraded = true
		d.log.Warn("stl period shrunk for short series",
			"configured_period", d.period,
			"effective_period", period,
			"series_len", len(series))
	}

	trend := movingAverageTrend(series, period)
	seasonal := seasonalComponent(series, trend, period, d.robust)

	residual := make([]float64, len(series))
	for i := range series {
		residual[i] = series[i] - trend[i] - seasonal[i]
	}

	mad := medianAbsDeviation(residual)
	if mad < madEpsilon {
		mad = madEpsilon
	}

	scores := make([]float64, len(series))
	for i, r := range residual {
		scores[i] = math.Abs(r) / (madToSigma * mad)
	}

	return &Result{
		Scores:    scores,
		Anomalies: FilterAnomalies(scores, d.common.K),
		Evidence: map[string]any{
			"residuals":       residual,
			"trend":           trend,
			"seasonal":        seasonal,
			"mad":             mad,
			"period":          period,
			"period_degraded": degraded,
			"robust":          d.robust,
		},
	}, nil
}

// movingAverageTrend estimates the trend with a centered moving average of
// one period. Edges use the window that fits.
func movingAverageTrend(series []float64, period int) []float64 {
	n := len(series)
	trend := make([]float64, n)
	half := period / 2
	for i := range series {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi >= n {
			hi = n - 1
		}
		var sum float64
		for j := lo; j <= hi; j++ {
			sum += series[j]
		}
		trend[i] = sum / float64(hi-lo+1)
	}
	return trend
}

// seasonalComponent averages the detrended series per phase within the
// period. Robust mode uses per-phase medians instead of means, which keeps
// a single spike from leaking into the seasonal profile. The component is
// centered so it carries no level.
func seasonalComponent(series, trend []float64, period int, robust bool) []float64 {
	n := len(series)
	phase := make([][]float64, period)
	for i := range series {
		p := i % period
		phase[p] = append(phase[p], series[i]-trend[i])
	}

	profile := make([]float64, period)
	for p, vals := range phase {
		if len(vals) == 0 {
			continue
		}
		if robust {
			profile[p] = median(vals)
		} else {
			var sum float64
			for _, v := range vals {
				sum += v
			}
			profile[p] = sum / float64(len(vals))
		}
	}

	var level float64
	for _, v := range profile {
		level += v
	}
	level /= float64(period)

	seasonal := make([]float64, n)
	for i := range seasonal {
		seasonal[i] = profile[i%period] - level
	}
	return seasonal
}

// median returns the median of vals without mutating the input.
func median(vals []float64) float64 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// medianAbsDeviation computes median(|x - median(x)|).
func medianAbsDeviation(vals []float64) float64 {
	m := median(vals)
	dev := make([]float64, len(vals))
	for i, v := range vals {
		dev[i] = math.Abs(v - m)
	}
	return median(dev)
}
