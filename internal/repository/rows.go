package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// detectorRow is the flat scan shape for the detectors table. Structured
// fields (cohort_by, metrics, params) are stored as JSON text columns.
type detectorRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Tenant    string    `db:"tenant"`
	Type      string    `db:"type"`
	CohortBy  string    `db:"cohort_by"`
	Metrics   string    `db:"metrics"`
	Params    string    `db:"params"`
	Enabled   bool      `db:"enabled"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func toDetectorRow(cfg *models.DetectorConfig) (*detectorRow, error) {
	cohortBy, err := json.Marshal(cfg.CohortBy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cohort_by: %w", err)
	}
	metrics, err := json.Marshal(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	params, err := json.Marshal(cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode params: %w", err)
	}
	return &detectorRow{
		ID:        cfg.ID,
		Name:      cfg.Name,
		Tenant:    cfg.Tenant,
		Type:      string(cfg.Type),
		CohortBy:  string(cohortBy),
		Metrics:   string(metrics),
		Params:    string(params),
		Enabled:   cfg.Enabled,
		CreatedAt: cfg.CreatedAt,
		UpdatedAt: cfg.UpdatedAt,
	}, nil
}

func fromDetectorRow(row *detectorRow) (*models.DetectorConfig, error) {
	cfg := &models.DetectorConfig{
		ID:        row.ID,
		Name:      row.Name,
		Tenant:    row.Tenant,
		Type:      models.DetectorType(row.Type),
		Enabled:   row.Enabled,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if row.CohortBy != "" {
		if err := json.Unmarshal([]byte(row.CohortBy), &cfg.CohortBy); err != nil {
			return nil, fmt.Errorf("failed to decode cohort_by for detector %s: %w", row.ID, err)
		}
	}
	if row.Metrics != "" {
		if err := json.Unmarshal([]byte(row.Metrics), &cfg.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics for detector %s: %w", row.ID, err)
		}
	}
	if row.Params != "" {
		if err := json.Unmarshal([]byte(row.Params), &cfg.Params); err != nil {
			return nil, fmt.Errorf("failed to decode params for detector %s: %w", row.ID, err)
		}
	}
	return cfg, nil
}

// eventRow is the flat scan shape for the anomaly_events table.
type eventRow struct {
	ID           string    `db:"id"`
	RunID        string    `db:"run_id"`
	DetectorID   string    `db:"detector_id"`
	CohortValues string    `db:"cohort_values"`
	Metric       string    `db:"metric"`
	TS           time.Time `db:"ts"`
	Score        float64   `db:"score"`
	Severity     string    `db:"severity"`
	PersistedN   int       `db:"persisted_n"`
	Evidence     string    `db:"evidence"`
	PolicyAction string    `db:"policy_action"`
	PolicyReason string    `db:"policy_reason"`
	CreatedAt    time.Time `db:"created_at"`
}

func toEventRow(ev *models.AnomalyEvent) (*eventRow, error) {
	cohortValues, err := json.Marshal(ev.CohortValues)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cohort_values: %w", err)
	}
	evidence, err := json.Marshal(ev.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	return &eventRow{
		ID:           ev.ID,
		RunID:        ev.RunID,
		DetectorID:   ev.DetectorID,
		CohortValues: string(cohortValues),
		Metric:       ev.Metric,
		TS:           ev.Timestamp,
		Score:        ev.Score,
		Severity:     string(ev.Severity),
		PersistedN:   ev.PersistedN,
		Evidence:     string(evidence),
		PolicyAction: string(ev.PolicyAction),
		PolicyReason: ev.PolicyReason,
		CreatedAt:    ev.CreatedAt,
	}, nil
}

func fromEventRow(row *eventRow) (*models.AnomalyEvent, error) {
	ev := &models.AnomalyEvent{
		ID:           row.ID,
		RunID:        row.RunID,
		DetectorID:   row.DetectorID,
		Metric:       row.Metric,
		Timestamp:    row.TS,
		Score:        row.Score,
		Severity:     models.Severity(row.Severity),
		PersistedN:   row.PersistedN,
		PolicyAction: models.PolicyAction(row.PolicyAction),
		PolicyReason: row.PolicyReason,
		CreatedAt:    row.CreatedAt,
	}
	if row.CohortValues != "" {
		if err := json.Unmarshal([]byte(row.CohortValues), &ev.CohortValues); err != nil {
			return nil, fmt.Errorf("failed to decode cohort_values for event %s: %w", row.ID, err)
		}
	}
	if row.Evidence != "" {
		if err := json.Unmarshal([]byte(row.Evidence), &ev.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence for event %s: %w", row.ID, err)
		}
	}
	return ev, nil
}
