package calibration

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

func ptr(f float64) *float64 { return &f }

func tx(label string, risk *float64, ts time.Time) models.Transaction {
	return models.Transaction{Label: label, RiskScore: risk, EventTS: ts}
}

func TestBrierScorePerfectPrediction(t *testing.T) {
	now := time.Now()
	txs := []models.Transaction{
		tx("FRAUD", nil, now),
		tx("fraud", nil, now),
		tx("1", nil, now),
	}
	got := BrierScore(txs, ptr(1.0))
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)
}

func TestBrierScoreMixedLabels(t *testing.T) {
	now := time.Now()
	txs := []models.Transaction{
		tx("FRAUD", nil, now),     // (0.5-1)^2 = 0.25
		tx("NOT_FRAUD", nil, now), // (0.5-0)^2 = 0.25
	}
	got := BrierScore(txs, ptr(0.5))
	require.NotNil(t, got)
	assert.InDelta(t, 0.25, *got, 1e-12)
}

func TestBrierScoreNilSemantics(t *testing.T) {
	now := time.Now()
	assert.Nil(t, BrierScore([]models.Transaction{tx("FRAUD", nil, now)}, nil))
	assert.Nil(t, BrierScore([]models.Transaction{tx("PENDING", nil, now), tx("", nil, now)}, ptr(0.5)))
	assert.Nil(t, BrierScore(nil, ptr(0.5)))
}

func TestLogLossClipsExtremePredictions(t *testing.T) {
	now := time.Now()
	txs := []models.Transaction{tx("FRAUD", nil, now), tx("NOT_FRAUD", nil, now)}

	for _, p := range []float64{0.0, 1.0} {
		got := LogLoss(txs, ptr(p))
		require.NotNil(t, got)
		assert.False(t, math.IsInf(*got, 0), "log loss must stay finite for p=%v", p)
		assert.False(t, math.IsNaN(*got))
	}
}

func TestLogLossMatchesClosedForm(t *testing.T) {
	now := time.Now()
	txs := []models.Transaction{tx("FRAUD", nil, now)}
	got := LogLoss(txs, ptr(0.8))
	require.NotNil(t, got)
	assert.InDelta(t, -math.Log(0.8), *got, 1e-12)
}

func TestLogLossNilSemantics(t *testing.T) {
	now := time.Now()
	assert.Nil(t, LogLoss([]models.Transaction{tx("FRAUD", nil, now)}, nil))
	assert.Nil(t, LogLoss([]models.Transaction{tx("unknown", nil, now)}, ptr(0.5)))
}

func TestDailyConfusionCoversEveryDayInclusive(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 5, 2, 0, 0, 0, time.UTC)

	txs := []models.Transaction{
		tx("FRAUD", ptr(0.9), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),     // TP
		tx("NOT_FRAUD", ptr(0.9), time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)), // FP
		tx("FRAUD", ptr(0.1), time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)),      // FN
		tx("NOT_FRAUD", ptr(0.1), time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)),  // TN
		tx("PENDING", ptr(0.9), time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)),    // unlabeled, counted only
	}

	cells := DailyConfusionTimeseries(txs, start, end, DefaultRiskThreshold)
	require.Len(t, cells, 5, "one entry per calendar day, inclusive")

	assert.Equal(t, "2026-03-01", cells[0].Date)
	assert.Equal(t, 2, cells[0].Count)
	require.NotNil(t, cells[0].TP)
	assert.Equal(t, 1, *cells[0].TP)
	assert.Equal(t, 1, *cells[0].FP)
	assert.Equal(t, 0, *cells[0].TN)
	assert.Equal(t, 0, *cells[0].FN)

	// Day two has no transactions: zero count, nil confusion cells.
	assert.Equal(t, "2026-03-02", cells[1].Date)
	assert.Equal(t, 0, cells[1].Count)
	assert.Nil(t, cells[1].TP)
	assert.Nil(t, cells[1].FP)
	assert.Nil(t, cells[1].TN)
	assert.Nil(t, cells[1].FN)

	assert.Equal(t, "2026-03-03", cells[2].Date)
	require.NotNil(t, cells[2].FN)
	assert.Equal(t, 1, *cells[2].FN)
	assert.Equal(t, 1, *cells[2].TN)

	// Day four has only an unlabeled transaction: counted, but the
	// confusion cells stay nil to distinguish "no data" from zero.
	assert.Equal(t, "2026-03-04", cells[3].Date)
	assert.Equal(t, 1, cells[3].Count)
	assert.Nil(t, cells[3].TP)

	assert.Equal(t, "2026-03-05", cells[4].Date)
	assert.Equal(t, 0, cells[4].Count)
}

func TestDailyConfusionSingleDayWindow(t *testing.T) {
	day := time.Date(2026, 7, 14, 0, 0, 0, 0, time.UTC)
	cells := DailyConfusionTimeseries(nil, day, day, 0.7)
	require.Len(t, cells, 1)
	assert.Equal(t, "2026-07-14", cells[0].Date)
}
