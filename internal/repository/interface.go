package repository

import (
	"context"
	"errors"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// ErrNotFound is wrapped by Get* methods when no row matches.
var ErrNotFound = errors.New("not found")

// DetectorRepository defines detector configuration data access methods
type DetectorRepository interface {
	CreateDetector(ctx context.Context, cfg *models.DetectorConfig) error
	GetDetector(ctx context.Context, id string) (*models.DetectorConfig, error)
	ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error)
	UpdateDetector(ctx context.Context, cfg *models.DetectorConfig) error
	DeleteDetector(ctx context.Context, id string) error
}

// RunRepository defines detection run data access methods
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.DetectionRun) error
	GetRun(ctx context.Context, id string) (*models.DetectionRun, error)
	ListRuns(ctx context.Context, detectorID string, limit int) ([]*models.DetectionRun, error)

	// HasActiveRun reports whether a PENDING or RUNNING run already exists
	// for the exact (detector, window) pair.
	HasActiveRun(ctx context.Context, detectorID string, from, to time.Time) (bool, error)

	// MarkRunning, MarkCompleted and MarkFailed refuse to move a run out of
	// a terminal status; the update is a no-op in that case.
	MarkRunning(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, eventCount int) error
	MarkFailed(ctx context.Context, id string, runErr string) error

	// FailStaleRuns marks PENDING and RUNNING runs started before the
	// cutoff as FAILED and returns how many rows were affected.
	FailStaleRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventRepository defines anomaly event data access methods
type EventRepository interface {
	// InsertEventBatch writes all events in a single transaction. Either
	// every event of a run is persisted or none are.
	InsertEventBatch(ctx context.Context, events []*models.AnomalyEvent) error
	ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error)
	ListEventsByRun(ctx context.Context, runID string) ([]*models.AnomalyEvent, error)
}

// Store aggregates all repositories behind one connection
type Store interface {
	DetectorRepository
	RunRepository
	EventRepository
	Ping(ctx context.Context) error
	Close() error
}
