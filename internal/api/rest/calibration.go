package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/calibration"
	"github.com/olorin-ai/fraudlens-backend/internal/models"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/logger"
)

// calibrationRequest is the payload for POST /calibration/report.
// PredictedRisk is the constant model output under evaluation; the
// per-transaction risk_score feeds the confusion matrix.
type calibrationRequest struct {
	Transactions  []models.Transaction `json:"transactions"`
	PredictedRisk *float64             `json:"predicted_risk"`
	RiskThreshold *float64             `json:"risk_threshold"`
	WindowFrom    time.Time            `json:"window_from"`
	WindowTo      time.Time            `json:"window_to"`
}

type calibrationResponse struct {
	BrierScore     *float64              `json:"brier_score"`
	LogLoss        *float64              `json:"log_loss"`
	RiskThreshold  float64               `json:"risk_threshold"`
	DailyConfusion []calibration.DayCell `json:"daily_confusion"`
}

// CalibrationReport handles POST /calibration/report
func (h *Handler) CalibrationReport(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var req calibrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request body", reqID)
		return
	}
	if len(req.Transactions) == 0 {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "transactions must not be empty", reqID)
		return
	}

	threshold := calibration.DefaultRiskThreshold
	if req.RiskThreshold != nil {
		if *req.RiskThreshold <= 0 || *req.RiskThreshold >= 1 {
			respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "risk_threshold must be in (0,1)", reqID)
			return
		}
		threshold = *req.RiskThreshold
	}

	// Default the confusion window to the span of the posted transactions.
	from, to := req.WindowFrom, req.WindowTo
	if from.IsZero() || to.IsZero() {
		from, to = transactionSpan(req.Transactions)
	}
	if from.After(to) {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "window_from must not be after window_to", reqID)
		return
	}

	resp := calibrationResponse{
		BrierScore:     calibration.BrierScore(req.Transactions, req.PredictedRisk),
		LogLoss:        calibration.LogLoss(req.Transactions, req.PredictedRisk),
		RiskThreshold:  threshold,
		DailyConfusion: calibration.DailyConfusionTimeseries(req.Transactions, from, to, threshold),
	}
	respondJSON(w, http.StatusOK, resp)
}

func transactionSpan(txs []models.Transaction) (time.Time, time.Time) {
	from, to := txs[0].EventTS, txs[0].EventTS
	for _, tx := range txs[1:] {
		if tx.EventTS.Before(from) {
			from = tx.EventTS
		}
		if tx.EventTS.After(to) {
			to = tx.EventTS
		}
	}
	return from, to
}
