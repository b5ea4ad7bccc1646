package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/olorin-ai/fraudlens-backend/internal/service"
)

// Handler manages HTTP request handlers
type Handler struct {
	detectionService service.DetectionService
}

// NewHandler creates a new HTTP handler
func NewHandler(ds service.DetectionService) *Handler {
	return &Handler{
		detectionService: ds,
	}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Anomaly detection routes
	router.HandleFunc("/analytics/anomalies/detect", h.StartDetection).Methods("POST")
	router.HandleFunc("/analytics/anomalies", h.ListAnomalies).Methods("GET")
	router.HandleFunc("/analytics/anomalies/runs/{id}", h.GetRun).Methods("GET")

	// Detector configuration (read-only; CRUD happens out of band)
	router.HandleFunc("/detectors", h.ListDetectors).Methods("GET")

	// Calibration report
	router.HandleFunc("/calibration/report", h.CalibrationReport).Methods("POST")
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
