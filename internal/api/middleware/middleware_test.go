package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/olorin-ai/fraudlens-backend/internal/pkg/logger"
)

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logger.FromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/detectors", nil))

	if captured == "" {
		t.Error("Expected request ID in context")
	}
	if rec.Header().Get(ResponseRequestIDHeader) != captured {
		t.Errorf("Expected response header %q to match context ID %q",
			rec.Header().Get(ResponseRequestIDHeader), captured)
	}
}

func TestRequestID_PreservedWhenPresent(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/api/v1/detectors", nil)
	req.Header.Set(ResponseRequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(ResponseRequestIDHeader); got != "req-abc" {
		t.Errorf("Expected preserved request ID req-abc, got %q", got)
	}
}

func TestRecovery_PanicReturns500(t *testing.T) {
	handler := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/detectors", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 after panic, got %d", rec.Code)
	}
}

func TestMaxBodySize_RejectsOversizedBody(t *testing.T) {
	handler := MaxBodySize(16, DefaultCalibrationMaxBodyBytes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 1024)
		if _, err := r.Body.Read(buf); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	body := strings.NewReader(strings.Repeat("x", 64))
	req := httptest.NewRequest("POST", "/api/v1/analytics/anomalies/detect", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413 for oversized body, got %d", rec.Code)
	}
}

func TestMaxBodySize_CalibrationGetsLargerLimit(t *testing.T) {
	handler := MaxBodySize(16, 1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 128)
		if _, err := r.Body.Read(buf); err != nil && err.Error() == "http: request body too large" {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	body := strings.NewReader(strings.Repeat("x", 64))
	req := httptest.NewRequest("POST", "/api/v1/calibration/report", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected calibration body within 1KB limit to pass, got %d", rec.Code)
	}
}

func TestTierForRequest(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   rateLimitTier
	}{
		{"POST", "/api/v1/analytics/anomalies/detect", tierDetect},
		{"POST", "/api/v1/calibration/report", tierDetect},
		{"GET", "/api/v1/analytics/anomalies", tierGet},
		{"GET", "/api/v1/detectors", tierGet},
		{"POST", "/api/v1/something-else", tierStandard},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(tc.method, tc.path, nil)
		if got := tierForRequest(r); got != tc.want {
			t.Errorf("tierForRequest(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestRateLimit_HealthAndMetricsExempt(t *testing.T) {
	handler := RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/metrics", "/healthz/live", "/healthz/ready"} {
		for i := 0; i < 200; i++ {
			req := httptest.NewRequest("GET", path, nil)
			req.RemoteAddr = "10.1.2.3:4444"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected %s to be exempt from rate limiting, got %d on request %d", path, rec.Code, i)
			}
		}
	}
}

func TestRateLimit_DetectTierEventually429(t *testing.T) {
	handler := RateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	limited := false
	for i := 0; i < rateLimitDetectBurst+5; i++ {
		req := httptest.NewRequest("POST", "/api/v1/analytics/anomalies/detect", nil)
		req.RemoteAddr = "10.9.9.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After header on 429")
			}
			break
		}
	}
	if !limited {
		t.Error("Expected detect tier to rate limit after burst")
	}
}
