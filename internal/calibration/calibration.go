// Package calibration scores the quality of risk predictions against
// labeled transaction outcomes, independent of any detector. It provides
// the proper scoring rules (Brier score, log loss) and a per-day confusion
// matrix time series used by the investigation review UI.
package calibration

import (
	"math"
	"strings"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// logLossClip keeps log terms finite for predicted risks of exactly 0 or 1.
const logLossClip = 1e-15

// DefaultRiskThreshold classifies a transaction as predicted-fraud for the
// confusion time series when its risk score meets it.
const DefaultRiskThreshold = 0.7

// binarizeLabel maps the upstream label zoo onto {0, 1}. Labels outside
// the recognized set are skipped by every evaluator.
func binarizeLabel(label string) (float64, bool) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "FRAUD", "1", "TRUE":
		return 1.0, true
	case "NOT_FRAUD", "0", "FALSE":
		return 0.0, true
	}
	return 0, false
}

// BrierScore returns the mean squared error between a constant predicted
// risk and each labeled transaction's binarized outcome. Nil when
// predictedRisk is nil or no transaction carries a recognized label.
func BrierScore(txs []models.Transaction, predictedRisk *float64) *float64 {
	if predictedRisk == nil {
		return nil
	}

	var sum float64
	var n int
	for _, tx := range txs {
		outcome, ok := binarizeLabel(tx.Label)
		if !ok {
			continue
		}
		diff := *predictedRisk - outcome
		sum += diff * diff
		n++
	}
	if n == 0 {
		return nil
	}

	score := sum / float64(n)
	return &score
}

// LogLoss returns the cross-entropy between a constant predicted risk and
// each labeled outcome. The prediction is clipped to
// [1e-15, 1-1e-15] before the logs, so 0.0 and 1.0 never produce
// infinities. Same nil semantics as BrierScore.
func LogLoss(txs []models.Transaction, predictedRisk *float64) *float64 {
	if predictedRisk == nil {
		return nil
	}

	p := math.Min(math.Max(*predictedRisk, logLossClip), 1-logLossClip)

	var sum float64
	var n int
	for _, tx := range txs {
		outcome, ok := binarizeLabel(tx.Label)
		if !ok {
			continue
		}
		sum += -(outcome*math.Log(p) + (1-outcome)*math.Log(1-p))
		n++
	}
	if n == 0 {
		return nil
	}

	loss := sum / float64(n)
	return &loss
}

// DayCell is one calendar day of the confusion time series. Count covers
// every transaction that day, labeled or not. The confusion cells are nil
// when that day had no labeled transactions with a risk score, which keeps
// "no data" distinguishable from "zero occurrences".
type DayCell struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
	TP    *int   `json:"tp"`
	FP    *int   `json:"fp"`
	TN    *int   `json:"tn"`
	FN    *int   `json:"fn"`
}

// DailyConfusionTimeseries groups transactions by the calendar date of
// event_ts and classifies each labeled, scored transaction against
// riskThreshold. The result has exactly one entry per day in
// [windowStart, windowEnd] inclusive, in order, including days with no
// transactions at all.
func DailyConfusionTimeseries(txs []models.Transaction, windowStart, windowEnd time.Time, riskThreshold float64) []DayCell {
	type tally struct {
		count          int
		tp, fp, tn, fn int
		labeled        int
	}

	byDay := make(map[string]*tally)
	for _, tx := range txs {
		day := tx.EventTS.UTC().Format(time.DateOnly)
		cell := byDay[day]
		if cell == nil {
			cell = &tally{}
			byDay[day] = cell
		}
		cell.count++

		outcome, ok := binarizeLabel(tx.Label)
		if !ok || tx.RiskScore == nil {
			continue
		}
		cell.labeled++

		predictedFraud := *tx.RiskScore >= riskThreshold
		actualFraud := outcome == 1.0
		switch {
		case predictedFraud && actualFraud:
			cell.tp++
		case predictedFraud && !actualFraud:
			cell.fp++
		case !predictedFraud && !actualFraud:
			cell.tn++
		default:
			cell.fn++
		}
	}

	start := windowStart.UTC().Truncate(24 * time.Hour)
	end := windowEnd.UTC().Truncate(24 * time.Hour)

	var out []DayCell
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format(time.DateOnly)
		cell := DayCell{Date: key}
		if t, ok := byDay[key]; ok {
			cell.Count = t.count
			if t.labeled > 0 {
				tp, fp, tn, fn := t.tp, t.fp, t.tn, t.fn
				cell.TP, cell.FP, cell.TN, cell.FN = &tp, &fp, &tn, &fn
			}
		}
		out = append(out, cell)
	}
	return out
}
