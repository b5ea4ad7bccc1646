package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
	"github.com/olorin-ai/fraudlens-backend/internal/repository"
	"github.com/olorin-ai/fraudlens-backend/internal/service"
)

// fakeDetectionService stubs the orchestrator so handler tests exercise only
// HTTP concerns: decoding, validation, status mapping.
type fakeDetectionService struct {
	startDetection func(ctx context.Context, detectorID string, from, to time.Time) (string, error)
	getRun         func(ctx context.Context, id string) (*models.DetectionRun, error)
	listEvents     func(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error)
	listDetectors  func(ctx context.Context) ([]*models.DetectorConfig, error)
}

func (f *fakeDetectionService) StartDetection(ctx context.Context, detectorID string, from, to time.Time) (string, error) {
	return f.startDetection(ctx, detectorID, from, to)
}

func (f *fakeDetectionService) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	return f.getRun(ctx, id)
}

func (f *fakeDetectionService) ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
	return f.listEvents(ctx, detectorID, limit)
}

func (f *fakeDetectionService) ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error) {
	return f.listDetectors(ctx)
}

func (f *fakeDetectionService) Start(ctx context.Context) {}
func (f *fakeDetectionService) Stop()                     {}

func newTestRouter(ds service.DetectionService) *mux.Router {
	router := mux.NewRouter()
	SetupRoutes(router, NewHandler(ds))
	return router
}

func postJSON(t *testing.T, router *mux.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeAPIError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	if err := json.NewDecoder(rec.Body).Decode(&apiErr); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return apiErr
}

func TestStartDetection_Accepted(t *testing.T) {
	ds := &fakeDetectionService{
		startDetection: func(ctx context.Context, detectorID string, from, to time.Time) (string, error) {
			if detectorID != "det-1" {
				t.Errorf("Expected detector det-1, got %s", detectorID)
			}
			return "run-42", nil
		},
	}
	router := newTestRouter(ds)

	rec := postJSON(t, router, "/analytics/anomalies/detect", map[string]any{
		"detector_id": "det-1",
		"window_from": "2026-08-01T00:00:00Z",
		"window_to":   "2026-08-08T00:00:00Z",
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["run_id"] != "run-42" {
		t.Errorf("Expected run_id run-42, got %q", resp["run_id"])
	}
}

func TestStartDetection_ValidationErrors(t *testing.T) {
	ds := &fakeDetectionService{
		startDetection: func(ctx context.Context, detectorID string, from, to time.Time) (string, error) {
			t.Fatal("Service must not be called for invalid payloads")
			return "", nil
		},
	}
	router := newTestRouter(ds)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing detector_id", map[string]any{
			"window_from": "2026-08-01T00:00:00Z",
			"window_to":   "2026-08-08T00:00:00Z",
		}},
		{"missing window", map[string]any{"detector_id": "det-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, router, "/analytics/anomalies/detect", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			if apiErr := decodeAPIError(t, rec); apiErr.Code != ErrCodeValidationFailed {
				t.Errorf("Expected VALIDATION_FAILED, got %s", apiErr.Code)
			}
		})
	}
}

func TestStartDetection_MalformedBody(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{})

	req := httptest.NewRequest("POST", "/analytics/anomalies/detect", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	if apiErr := decodeAPIError(t, rec); apiErr.Code != ErrCodeInvalidRequest {
		t.Errorf("Expected INVALID_REQUEST, got %s", apiErr.Code)
	}
}

func TestStartDetection_ServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unknown detector", repository.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"run conflict", fmt.Errorf("%w: detector det-1", service.ErrRunConflict), http.StatusConflict, ErrCodeRunConflict},
		{"disabled detector", fmt.Errorf("%w: det-1", service.ErrDetectorDisabled), http.StatusBadRequest, ErrCodeValidationFailed},
		{"invalid window", service.ErrInvalidWindow, http.StatusBadRequest, ErrCodeValidationFailed},
		{"queue full", service.ErrQueueFull, http.StatusServiceUnavailable, ErrCodeQueueFull},
		{"internal", fmt.Errorf("database exploded"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &fakeDetectionService{
				startDetection: func(ctx context.Context, detectorID string, from, to time.Time) (string, error) {
					return "", tt.err
				},
			}
			rec := postJSON(t, newTestRouter(ds), "/analytics/anomalies/detect", map[string]any{
				"detector_id": "det-1",
				"window_from": "2026-08-01T00:00:00Z",
				"window_to":   "2026-08-08T00:00:00Z",
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if apiErr := decodeAPIError(t, rec); apiErr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, apiErr.Code)
			}
		})
	}
}

func TestListAnomalies_RequiresDetectorID(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{})

	req := httptest.NewRequest("GET", "/analytics/anomalies", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestListAnomalies_LimitValidation(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{
		listEvents: func(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
			return nil, nil
		},
	})

	for _, limit := range []string{"0", "-5", "1001", "abc"} {
		req := httptest.NewRequest("GET", "/analytics/anomalies?detector_id=det-1&limit="+limit, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestListAnomalies_ReturnsEvents(t *testing.T) {
	gotLimit := 0
	router := newTestRouter(&fakeDetectionService{
		listEvents: func(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
			gotLimit = limit
			return []*models.AnomalyEvent{
				{ID: "ev-1", DetectorID: detectorID, Score: 4.2, Severity: models.SeverityWarn},
				{ID: "ev-2", DetectorID: detectorID, Score: 8.1, Severity: models.SeverityCritical},
			}, nil
		},
	})

	req := httptest.NewRequest("GET", "/analytics/anomalies?detector_id=det-1&limit=50", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if gotLimit != 50 {
		t.Errorf("Expected limit 50 passed through, got %d", gotLimit)
	}
	var resp struct {
		DetectorID string                 `json:"detector_id"`
		Count      int                    `json:"count"`
		Events     []*models.AnomalyEvent `json:"events"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Events) != 2 {
		t.Errorf("Expected 2 events, got count=%d len=%d", resp.Count, len(resp.Events))
	}
}

func TestGetRun(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{
		getRun: func(ctx context.Context, id string) (*models.DetectionRun, error) {
			if id != "run-42" {
				return nil, repository.ErrNotFound
			}
			return &models.DetectionRun{ID: id, Status: models.RunStatusCompleted, EventCount: 3}, nil
		},
	})

	req := httptest.NewRequest("GET", "/analytics/anomalies/runs/run-42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var run models.DetectionRun
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	if run.Status != models.RunStatusCompleted || run.EventCount != 3 {
		t.Errorf("Unexpected run payload: %+v", run)
	}

	req = httptest.NewRequest("GET", "/analytics/anomalies/runs/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestListDetectors(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{
		listDetectors: func(ctx context.Context) ([]*models.DetectorConfig, error) {
			return []*models.DetectorConfig{
				{ID: "det-1", Type: models.DetectorTypeCUSUM, Enabled: true},
			}, nil
		},
	})

	req := httptest.NewRequest("GET", "/detectors", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Count     int                      `json:"count"`
		Detectors []*models.DetectorConfig `json:"detectors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 1 || resp.Detectors[0].ID != "det-1" {
		t.Errorf("Unexpected detectors payload: %+v", resp)
	}
}

func TestCalibrationReport(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{})
	risk := 0.8

	score := func(v float64) *float64 { return &v }
	rec := postJSON(t, router, "/calibration/report", calibrationRequest{
		Transactions: []models.Transaction{
			{ID: "t1", EventTS: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), Label: "FRAUD", RiskScore: score(0.9)},
			{ID: "t2", EventTS: time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC), Label: "NOT_FRAUD", RiskScore: score(0.2)},
			{ID: "t3", EventTS: time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC), Label: "FRAUD", RiskScore: score(0.3)},
		},
		PredictedRisk: &risk,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp calibrationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.BrierScore == nil || resp.LogLoss == nil {
		t.Fatal("Expected Brier score and log loss with a predicted risk")
	}
	// Brier: ((0.8-1)^2 + (0.8-0)^2 + (0.8-1)^2) / 3 = 0.24
	if got := *resp.BrierScore; got < 0.2399 || got > 0.2401 {
		t.Errorf("Expected Brier score 0.24, got %f", got)
	}
	if resp.RiskThreshold != 0.7 {
		t.Errorf("Expected default risk threshold 0.7, got %f", resp.RiskThreshold)
	}
	if len(resp.DailyConfusion) != 2 {
		t.Errorf("Expected 2 daily cells, got %d", len(resp.DailyConfusion))
	}
}

func TestCalibrationReport_Validation(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{})

	rec := postJSON(t, router, "/calibration/report", calibrationRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty transactions, got %d", rec.Code)
	}

	bad := 1.5
	rec = postJSON(t, router, "/calibration/report", calibrationRequest{
		Transactions:  []models.Transaction{{ID: "t1", Label: "FRAUD"}},
		RiskThreshold: &bad,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range threshold, got %d", rec.Code)
	}
}

func TestCalibrationReport_NilPredictedRisk(t *testing.T) {
	router := newTestRouter(&fakeDetectionService{})

	rec := postJSON(t, router, "/calibration/report", calibrationRequest{
		Transactions: []models.Transaction{
			{ID: "t1", EventTS: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), Label: "FRAUD"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp calibrationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.BrierScore != nil || resp.LogLoss != nil {
		t.Error("Expected nil scores without a predicted risk")
	}
}
