package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/logger"
	"github.com/olorin-ai/fraudlens-backend/internal/repository"
	"github.com/olorin-ai/fraudlens-backend/internal/service"
)

// detectRequest is the payload for POST /analytics/anomalies/detect
type detectRequest struct {
	DetectorID string    `json:"detector_id"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`
}

// StartDetection handles POST /analytics/anomalies/detect.
// Returns 202 with the run ID; scoring happens asynchronously.
func (h *Handler) StartDetection(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid request body", reqID)
		return
	}
	if req.DetectorID == "" {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "detector_id is required", reqID)
		return
	}
	if req.WindowFrom.IsZero() || req.WindowTo.IsZero() {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "window_from and window_to are required", reqID)
		return
	}

	runID, err := h.detectionService.StartDetection(r.Context(), req.DetectorID, req.WindowFrom, req.WindowTo)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), reqID)
		case errors.Is(err, service.ErrRunConflict):
			respondErrorWithCode(w, http.StatusConflict, ErrCodeRunConflict, err.Error(), reqID)
		case errors.Is(err, service.ErrInvalidWindow), errors.Is(err, service.ErrDetectorDisabled):
			respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, err.Error(), reqID)
		case errors.Is(err, service.ErrQueueFull):
			respondErrorWithCode(w, http.StatusServiceUnavailable, ErrCodeQueueFull, err.Error(), reqID)
		default:
			respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
		}
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// ListAnomalies handles GET /analytics/anomalies?detector_id=&limit=
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	detectorID := r.URL.Query().Get("detector_id")
	if detectorID == "" {
		respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "detector_id query parameter is required", reqID)
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondErrorWithCode(w, http.StatusBadRequest, ErrCodeValidationFailed, "limit must be an integer in [1,1000]", reqID)
			return
		}
		limit = n
	}

	events, err := h.detectionService.ListEvents(r.Context(), detectorID, limit)
	if err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"detector_id": detectorID,
		"count":       len(events),
		"events":      events,
	})
}

// GetRun handles GET /analytics/anomalies/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())
	id := mux.Vars(r)["id"]

	run, err := h.detectionService.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondErrorWithCode(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), reqID)
			return
		}
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// ListDetectors handles GET /detectors
func (h *Handler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	reqID := logger.FromContext(r.Context())

	detectors, err := h.detectionService.ListDetectors(r.Context())
	if err != nil {
		respondErrorWithCode(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), reqID)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(detectors),
		"detectors": detectors,
	})
}
