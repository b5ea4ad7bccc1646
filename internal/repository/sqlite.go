package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/olorin-ai/fraudlens-backend/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements the Store interface using SQLite
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	// Pragmas go in the DSN so every connection in the pool gets them;
	// a plain Exec would configure only whichever connection it was
	// handed. WAL lets readers proceed while a detection run batch
	// commits.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping verifies the database connection
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies all embedded *.sql migration files in name order
func (r *SQLiteRepository) RunMigrations(fsys fs.FS) error {
	return applyMigrations(r.db, fsys)
}

func applyMigrations(db *sqlx.DB, fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		migrationSQL, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// DetectorRepository implementation

func (r *SQLiteRepository) CreateDetector(ctx context.Context, cfg *models.DetectorConfig) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (r *SQLiteRepository) GetDetector(ctx context.Context, id string) (*models.DetectorConfig, error) {
	var row detectorRow
	query := `SELECT * FROM detectors WHERE id = ?`

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

func (r *SQLiteRepository) ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error) {
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

func (r *SQLiteRepository) UpdateDetector(ctx context.Context, cfg *models.DetectorConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	row, err := toDetectorRow(cfg)
	if err != nil {
		return err
	}

	query := `
		UPDATE detectors
		SET name = ?, tenant = ?, type = ?, cohort_by = ?, metrics = ?,
		    params = ?, enabled = ?, updated_at = ?
		WHERE id = ?
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

func (r *SQLiteRepository) DeleteDetector(ctx context.Context, id string) error {
	query := `DELETE FROM detectors WHERE id = ?`
	return instrumentQueryContext(ctx, "delete_detector", func() error {
		_, err := r.db.ExecContext(ctx, query, id)
		return err
	})
}

// RunRepository implementation

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *models.DetectionRun) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	var run models.DetectionRun
	query := `SELECT * FROM detection_runs WHERE id = ?`

	err := instrumentQueryContext(ctx, "get_run", func() error {
		return r.db.GetContext(ctx, &run, query, id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return &run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, detectorID string, limit int) ([]*models.DetectionRun, error) {
	var runs []*models.DetectionRun
	query := `
		SELECT * FROM detection_runs
		WHERE detector_id = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	err := instrumentQueryContext(ctx, "list_runs", func() error {
		return r.db.SelectContext(ctx, &runs, query, detectorID, limit)
	})
	return runs, err
}

func (r *SQLiteRepository) HasActiveRun(ctx context.Context, detectorID string, from, to time.Time) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM detection_runs
		WHERE detector_id = ? AND window_from = ? AND window_to = ?
		  AND status IN (?, ?)
	`

	err := instrumentQueryContext(ctx, "has_active_run", func() error {
		return r.db.GetContext(ctx, &count, query, detectorID, from, to,
			models.RunStatusPending, models.RunStatusRunning)
	})
	return count > 0, err
}

func (r *SQLiteRepository) MarkRunning(ctx context.Context, id string) error {
	query := `
		UPDATE detection_runs SET status = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	return instrumentQueryContext(ctx, "mark_running", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusRunning, id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *SQLiteRepository) MarkCompleted(ctx context.Context, id string, eventCount int) error {
	query := `
		UPDATE detection_runs SET status = ?, completed_at = ?, event_count = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	return instrumentQueryContext(ctx, "mark_completed", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusCompleted, time.Now().UTC(), eventCount, id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, runErr string) error {
	query := `
		UPDATE detection_runs SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`
	return instrumentQueryContext(ctx, "mark_failed", func() error {
		_, err := r.db.ExecContext(ctx, query, models.RunStatusFailed, runErr, time.Now().UTC(), id,
			models.RunStatusCompleted, models.RunStatusFailed)
		return err
	})
}

func (r *SQLiteRepository) FailStaleRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	// PENDING is swept too: a crash between CreateRun and MarkRunning
	// would otherwise leave the row active forever and block the
	// (detector, window) pair.
	query := `
		UPDATE detection_runs SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?) AND started_at < ?
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

func (r *SQLiteRepository) InsertEventBatch(ctx context.Context, events []*models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO anomaly_events (id, run_id, detector_id, cohort_values, metric, ts, score, severity, persisted_n, evidence, policy_action, policy_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

func (r *SQLiteRepository) ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
	var rows []*eventRow
	query := `
		SELECT * FROM anomaly_events
		WHERE detector_id = ?
		ORDER BY ts DESC
		LIMIT ?
	`

	err := instrumentQueryContext(ctx, "list_events", func() error {
		return r.db.SelectContext(ctx, &rows, query, detectorID, limit)
	})
	if err != nil {
		return nil, err
	}

	return eventsFromRows(rows)
}

func (r *SQLiteRepository) ListEventsByRun(ctx context.Context, runID string) ([]*models.AnomalyEvent, error) {
	var rows []*eventRow
	query := `
		SELECT * FROM anomaly_events
		WHERE run_id = ?
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

func eventsFromRows(rows []*eventRow) ([]*models.AnomalyEvent, error) {
	events := make([]*models.AnomalyEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := fromEventRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
