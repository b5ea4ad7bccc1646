package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/olorin-ai/fraudlens-backend/internal/models"
)

// PostgresRepository implements the Store interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies all embedded *.sql migration files in name order
func (r *PostgresRepository) RunMigrations(fsys fs.FS) error {
	return applyMigrations(r.db, fsys)
}

// DetectorRepository implementation

func (r *PostgresRepository) CreateDetector(ctx context.Context, cfg *models.DetectorConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	row, err := toDetectorRow(cfg)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO detectors (id, name, tenant, type, cohort_by, metrics, params, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	return instrumentQueryContext(ctx, "create_detector", func() error {
		_, err := r.db.ExecContext(ctx, query,
			row.ID,
			row.Name,
			row.Tenant,
			row.Type,
			row.CohortBy,
			row.Metrics,
			row.Params,
			row.Enabled,
			row.CreatedAt,
			row.UpdatedAt,
		)
		return err
	})
}

func (r *PostgresRepository) GetDetector(ctx context.Context, id string) (*models.DetectorConfig, error) {
	var row detectorRow
	query := `SELECT * FROM detectors WHERE id = $1`

	err := instrumentQueryContext(ctx, "get_detector", func() error {
		return r.db.GetContext(ctx, &row, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("detector %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	return fromDetectorRow(&row)
}

func (r *PostgresRepository) ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error) {
	var rows []*detectorRow
	query := `SELECT * FROM detectors ORDER BY created_at DESC`

	err := instrumentQueryContext(ctx, "list_detectors", func() error {
		return r.db.SelectContext(ctx, &rows, query)
	})
	if err != nil {
		return nil, err
	}

	configs := make([]*models.DetectorConfig, 0, len(rows))
	for _, row := range rows {
		cfg, err := fromDetectorRow(row)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (r *PostgresRepository) UpdateDetector(ctx context.Context, cfg *models.DetectorConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	row, err := toDetectorRow(cfg)
	if err != nil {
		return err
	}

	query := `
		UPDATE detectors
		SET name = $1, tenant = $2, type = $3, cohort_by = $4, metrics = $5,
		    params = $6, enabled = $7, updated_at = $8
		WHERE id = $9
	`

	return instrumentQueryContext(ctx, "update_detector", func() error {
		_, err := r.db.ExecContext(ctx, query,
			row.Name,
			row.Tenant,
			row.Type,
			row.CohortBy,
			row.Metrics,
			row.Params,
			row.Enabled,
			row.UpdatedAt,
			row.ID,
		)
		return err
	})
}

func (r *PostgresRepository) DeleteDetector(ctx context.Context, id string) error {
	query := `DELETE FROM detectors WHERE id = $1`
	return instrumentQueryContext(ctx, "delete_detector", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

// RunRepository implementation

func (r *PostgresRepository) CreateRun(ctx context.Context, run *models.DetectionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = models.RunStatusPending
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO detection_runs (id, detector_id, window_from, window_to, status, error, started_at, completed_at, event_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	return instrumentQueryContext(ctx, "create_run", func() error {
		_, err := r.db.ExecContext(ctx, query,
			run.ID,
			run.DetectorID,
			run.WindowFrom,
			run.WindowTo,
			run.Status,
			run.Error,
			run.StartedAt,
			run.CompletedAt,
			run.EventCount,
		)
		return err
	})
}

func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	var run models.DetectionRun
	query := `SELECT * FROM detection_runs WHERE id = $1`

	err := instrumentQueryContext(ctx, "get_run", func() error {
		return r.db.GetContext(ctx, &run, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return &run, err
}

func (r *PostgresRepository) ListRuns(ctx context.Context, detectorID string, limit int) ([]*models.DetectionRun, error) {
	var runs []*models.DetectionRun
	query := `
		SELECT * FROM detection_runs
		WHERE detector_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	err := instrumentQueryContext(ctx, "list_runs", func() error {
		return r.db.SelectContext(ctx, &runs, query, detectorID, limit)
	})
	return runs, err
}

func (r *PostgresRepository) HasActiveRun(ctx context.Context, detectorID string, from, to time.Time) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM detection_runs
		WHERE detector_id = $1 AND window_from = $2 AND window_to = $3
		  AND status IN ($4, $5)
	`

	err := instrumentQueryContext(ctx, "has_active_run", func() error {
		return r.db.GetContext(ctx, &count, query, detectorID, from, to,
			models.RunStatusPending, models.RunStatusRunning)
	})
	return count > 0, err
}

func (r *PostgresRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE detection_runs SET status = $1
		WHERE id = $2 AND status NOT IN ($3, $4)
	`
	return instrumentQueryContext(ctx, "mark_running", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusRunning, id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id string, eventCount int) error {
	query := `
		UPDATE detection_runs SET status = $1, completed_at = $2, event_count = $3
		WHERE id = $4 AND status NOT IN ($5, $6)
	`
	return instrumentQueryContext(ctx, "mark_completed", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusCompleted, time.Now().UTC(), eventCount, id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id string, runErr string) error {
	query := `
		UPDATE detection_runs SET status = $1, error = $2, completed_at = $3
		WHERE id = $4 AND status NOT IN ($5, $6)
	`
	return instrumentQueryContext(ctx, "mark_failed", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusFailed, runErr, time.Now().UTC(), id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *PostgresRepository) FailStaleRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	// PENDING is swept too: a crash between CreateRun and MarkRunning
	// would otherwise leave the row active forever and block the
	// (detector, window) pair.
	query := `
		UPDATE detection_runs SET status = $1, error = $2, completed_at = $3
		WHERE status IN ($4, $5) AND started_at < $6
	`
	var affected int64
	err := instrumentQueryContext(ctx, "fail_stale_runs", func() error {
		res, err := r.db.ExecContext(ctx, query,
			models.RunStatusFailed, "run exceeded stale timeout", time.Now().UTC(),
			models.RunStatusPending, models.RunStatusRunning, olderThan)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// EventRepository implementation

func (r *PostgresRepository) InsertEventBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO anomaly_events (id, run_id, detector_id, cohort_values, metric, ts, score, severity, persisted_n, evidence, policy_action, policy_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	return instrumentQueryContext(ctx, "insert_event_batch", func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for _, ev := range events {
			if ev.ID == "" {
				ev.ID = uuid.New().String()
			}
			if ev.CreatedAt.IsZero() {
				ev.CreatedAt = time.Now().UTC()
			}
			row, err := toEventRow(ev)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query,
				row.ID,
				row.RunID,
				row.DetectorID,
				row.CohortValues,
				row.Metric,
				row.TS,
				row.Score,
				row.Severity,
				row.PersistedN,
				row.Evidence,
				row.PolicyAction,
				row.PolicyReason,
				row.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert event %s: %w", row.ID, err)
			}
		}

		return tx.Commit()
	})
}

func (r *PostgresRepository) ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
	var rows []*eventRow
	query := `
		SELECT * FROM anomaly_events
		WHERE detector_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`

	err := instrumentQueryContext(ctx, "list_events", func() error {
		return r.db.SelectContext(ctx, &rows, query, detectorID, limit)
	})
	if err != nil {
		return nil, err
	}

	return eventsFromRows(rows)
}

func (r *PostgresRepository) ListEventsByRun(ctx context.Context, runID string) ([]*models.AnomalyEvent, error) {
	var rows []*eventRow
	query := `
		SELECT * FROM anomaly_events
		WHERE run_id = $1
		ORDER BY ts ASC
	`

	err := instrumentQueryContext(ctx, "list_events_by_run", func() error {
		return r.db.SelectContext(ctx, &rows, query, runID)
	})
	if err != nil {
		return nil, err
	}

	return eventsFromRows(rows)
}
