package detector

import (
	"math"
	"math/rand"
	"sort"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// Isolation forest defaults. 100 trees over subsamples of 256 rows is the
// standard configuration from the original algorithm; contamination is the
// expected fraction of anomalous rows.
const (
	defaultEstimators    = 100
	defaultSubsample     = 256
	defaultContamination = 0.01
	defaultIsoSeed       = 1
)

// IsoForestDetector isolates multivariate outliers with an ensemble of
// random partition trees. Rows that isolate in short paths score close to
// 1, inliers close to 0. The forest is rebuilt per detection call; nothing
// is shared between calls, so a detector instance is safe for concurrent
// use.
type IsoForestDetector struct {
	common        CommonParams
	estimators    int
	subsample     int
	contamination float64
	seed          int64
}

// NewIsoForest builds an isolation-forest detector from stored params.
// Recognized keys beyond the common ones: n_estimators, subsample,
// contamination, seed. The seed is fixed by default so repeated runs over
// the same window produce identical scores.
func NewIsoForest(params map[string]any) *IsoForestDetector {
	return &IsoForestDetector{
		common:        ParseCommonParams(params),
		estimators:    intParam(params, "n_estimators", defaultEstimators),
		subsample:     intParam(params, "subsample", defaultSubsample),
		contamination: floatParam(params, "contamination", defaultContamination),
		seed:          int64(intParam(params, "seed", defaultIsoSeed)),
	}
}

func (d *IsoForestDetector) Type() models.DetectorType { return models.DetectorTypeIsoForest }

// Detect treats a univariate series as single-feature rows so the detector
// still satisfies the base contract.
func (d *IsoForestDetector) Detect(series []float64) (*Result, error) {
	rows := make([][]float64, len(series))
	for i, v := range series {
		rows[i] = []float64{v}
	}
	return d.DetectVectors(rows)
}

// DetectVectors fits the forest over all rows and flags those whose
// anomaly score exceeds both the contamination quantile and the absolute
// floor of 0.5 (the score a random point gets in the original paper).
// min_support is validated against the number of rows, not a time period.
func (d *IsoForestDetector) DetectVectors(rows [][]float64) (*Result, error) {
	if err := ValidateVectors(rows, d.common.MinSupport); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(d.seed))
	sample := d.subsample
	if sample > len(rows) {
		sample = len(rows)
	}

	trees := make([]*isoTree, d.estimators)
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))
	for t := range trees {
		idx := rng.Perm(len(rows))[:sample]
		trees[t] = buildIsoTree(rows, idx, 0, maxDepth, rng)
	}

	norm := avgPathLength(sample)
	raw := make([]float64, len(rows))
	for i, row := range rows {
		var depth float64
		for _, tree := range trees {
			depth += tree.pathLength(row, 0)
		}
		depth /= float64(len(trees))
		raw[i] = math.Pow(2, -depth/norm)
	}

	cut := quantile(raw, 1-d.contamination)
	if cut < 0.5 {
		cut = 0.5
	}

	// Normalize so the threshold semantics match the other detectors:
	// score k at the cut, above k past it. Raw scores live in (0,1), so
	// the normalized score stays finite.
	scores := make([]float64, len(raw))
	for i, r := range raw {
		scores[i] = d.common.K * r / cut
	}

	return &Result{
		Scores:    scores,
		Anomalies: FilterAnomalies(scores, d.common.K),
		Evidence: map[string]any{
			"raw_scores":    raw,
			"threshold":     cut,
			"contamination": d.contamination,
			"n_estimators":  d.estimators,
			"subsample":     sample,
			"dimensions":    len(rows[0]),
		},
	}, nil
}

// isoTree is one random partition tree. Leaves record how many sample rows
// they absorbed so truncated paths can be extended by the expected depth of
// an unbuilt subtree.
type isoTree struct {
	splitValue float64
	dim        int
	left       *isoTree
	right      *isoTree
	size       int
	leaf       bool
}

func buildIsoTree(rows [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoTree {
	if len(idx) <= 1 || depth >= maxDepth {
		return &isoTree{leaf: true, size: len(idx)}
	}

	dims := len(rows[idx[0]])
	dim := rng.Intn(dims)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := rows[i][dim]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi <= lo {
		return &isoTree{leaf: true, size: len(idx)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right []int
	for _, i := range idx {
		if rows[i][dim] < split {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &isoTree{
		dim:        dim,
		splitValue: split,
		left:       buildIsoTree(rows, left, depth+1, maxDepth, rng),
		right:      buildIsoTree(rows, right, depth+1, maxDepth, rng),
	}
}

func (t *isoTree) pathLength(row []float64, depth int) float64 {
	if t.leaf {
		return float64(depth) + avgPathLength(t.size)
	}
	if row[t.dim] < t.splitValue {
		return t.left.pathLength(row, depth+1)
	}
	return t.right.pathLength(row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points. Used both to normalize scores and to extend
// truncated paths.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

// quantile returns the q-th quantile of vals without mutating the input.
func quantile(vals []float64, q float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
