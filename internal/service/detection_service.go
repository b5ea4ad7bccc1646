package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/olorin-ai/fraudlens-backend/internal/api/websocket"
	"github.com/olorin-ai/fraudlens-backend/internal/config"
	"github.com/olorin-ai/fraudlens-backend/internal/detector"
	"github.com/olorin-ai/fraudlens-backend/internal/models"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/metrics"
	"github.com/olorin-ai/fraudlens-backend/internal/pkg/tracing"
	"github.com/olorin-ai/fraudlens-backend/internal/policy"
	"github.com/olorin-ai/fraudlens-backend/internal/repository"
	"github.com/olorin-ai/fraudlens-backend/internal/warehouse"
)

var (
	// ErrDetectorDisabled rejects detection requests against disabled configs.
	ErrDetectorDisabled = errors.New("detector is disabled")
	// ErrRunConflict rejects a second request for a (detector, window) pair
	// that already has a run in flight.
	ErrRunConflict = errors.New("detection run already in flight for this window")
	// ErrQueueFull signals backpressure; the caller should retry later.
	ErrQueueFull = errors.New("detection queue is full")
	// ErrInvalidWindow rejects windows where from is not strictly before to.
	ErrInvalidWindow = errors.New("window start must be before window end")
)

// DetectionService orchestrates asynchronous detection runs
type DetectionService interface {
	// StartDetection validates the request, records a PENDING run and
	// enqueues it. It returns the run ID immediately; scoring happens on
	// the worker pool.
	StartDetection(ctx context.Context, detectorID string, from, to time.Time) (string, error)
	GetRun(ctx context.Context, id string) (*models.DetectionRun, error)
	ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error)
	ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error)

	// Start launches the worker pool and the stale-run sweeper.
	Start(ctx context.Context)
	Stop()
}

type detectionJob struct {
	run     *models.DetectionRun
	cfg     *models.DetectorConfig
	release func()
}

type detectionService struct {
	repo     repository.Store
	registry *detector.Registry
	fetcher  warehouse.Fetcher
	hub      *websocket.Hub // optional; nil disables broadcasts
	log      *slog.Logger

	workers      int
	queue        chan detectionJob
	staleTimeout time.Duration
	sweepEvery   time.Duration

	// inflight is the fast-path overlap guard; the repository check is the
	// durable one that also covers restarts.
	inflightMu sync.Mutex
	inflight   map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func runKey(detectorID string, from, to time.Time) string {
	return fmt.Sprintf("%s|%d|%d", detectorID, from.UnixNano(), to.UnixNano())
}

// NewDetectionService creates the detection orchestrator
func NewDetectionService(repo repository.Store, registry *detector.Registry, fetcher warehouse.Fetcher, hub *websocket.Hub, cfg *config.Config, log *slog.Logger) DetectionService {
	workers := 4
	queueSize := 64
	staleTimeout := 30 * time.Minute
	sweepEvery := 5 * time.Minute
	if cfg != nil {
		if cfg.DetectionWorkers > 0 {
			workers = cfg.DetectionWorkers
		}
		if cfg.DetectionQueueSize > 0 {
			queueSize = cfg.DetectionQueueSize
		}
		if cfg.StaleRunTimeoutSec > 0 {
			staleTimeout = time.Duration(cfg.StaleRunTimeoutSec) * time.Second
		}
		if cfg.SweepIntervalSec > 0 {
			sweepEvery = time.Duration(cfg.SweepIntervalSec) * time.Second
		}
	}
	return &detectionService{
		repo:         repo,
		registry:     registry,
		fetcher:      fetcher,
		hub:          hub,
		log:          log,
		workers:      workers,
		queue:        make(chan detectionJob, queueSize),
		staleTimeout: staleTimeout,
		sweepEvery:   sweepEvery,
		inflight:     make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the worker pool and the stale-run sweeper
func (s *detectionService) Start(ctx context.Context) {
	s.log.Info("Starting detection service", "workers", s.workers, "queue_size", cap(s.queue))

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			for {
				select {
				case job := <-s.queue:
					metrics.DetectionQueueDepth.Set(float64(len(s.queue)))
					s.executeRun(ctx, job)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweepStaleRuns(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the workers and waits for in-flight runs to finish
func (s *detectionService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *detectionService) StartDetection(ctx context.Context, detectorID string, from, to time.Time) (string, error) {
	if !from.Before(to) {
		return "", ErrInvalidWindow
	}

	cfg, err := s.repo.GetDetector(ctx, detectorID)
	if err != nil {
		return "", err
	}
	if !cfg.Enabled {
		return "", fmt.Errorf("%w: %s", ErrDetectorDisabled, detectorID)
	}

	key := runKey(detectorID, from.UTC(), to.UTC())
	s.inflightMu.Lock()
	if s.inflight[key] {
		s.inflightMu.Unlock()
		return "", fmt.Errorf("%w: detector %s", ErrRunConflict, detectorID)
	}
	s.inflight[key] = true
	s.inflightMu.Unlock()

	release := func() {
		s.inflightMu.Lock()
		delete(s.inflight, key)
		s.inflightMu.Unlock()
	}

	active, err := s.repo.HasActiveRun(ctx, detectorID, from, to)
	if err != nil {
		release()
		return "", fmt.Errorf("failed to check for active runs: %w", err)
	}
	if active {
		release()
		return "", fmt.Errorf("%w: detector %s", ErrRunConflict, detectorID)
	}

	run := &models.DetectionRun{
		DetectorID: detectorID,
		WindowFrom: from.UTC(),
		WindowTo:   to.UTC(),
		Status:     models.RunStatusPending,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		release()
		return "", fmt.Errorf("failed to persist run: %w", err)
	}

	select {
	case s.queue <- detectionJob{run: run, cfg: cfg, release: release}:
		metrics.DetectionQueueDepth.Set(float64(len(s.queue)))
	default:
		// Queue saturated: the run must not stay PENDING forever.
		_ = s.repo.MarkFailed(ctx, run.ID, "detection queue full")
		release()
		return "", ErrQueueFull
	}

	s.log.Info("Detection run queued",
		"run_id", run.ID,
		"detector_id", detectorID,
		"window_from", run.WindowFrom,
		"window_to", run.WindowTo,
	)
	return run.ID, nil
}

func (s *detectionService) GetRun(ctx context.Context, id string) (*models.DetectionRun, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *detectionService) ListEvents(ctx context.Context, detectorID string, limit int) ([]*models.AnomalyEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListEvents(ctx, detectorID, limit)
}

func (s *detectionService) ListDetectors(ctx context.Context) ([]*models.DetectorConfig, error) {
	return s.repo.ListDetectors(ctx)
}

// executeRun performs one full detection run: fetch, score, classify,
// decide, persist. Any failure marks the run FAILED with the error message;
// the worker never crashes.
func (s *detectionService) executeRun(ctx context.Context, job detectionJob) {
	run, cfg := job.run, job.cfg
	if job.release != nil {
		defer job.release()
	}
	ctx, span := tracing.StartRunSpan(ctx, "run", cfg.ID, run.ID)
	defer span.End()

	start := time.Now()
	detectorType := string(cfg.Type)

	if err := s.repo.MarkRunning(ctx, run.ID); err != nil {
		s.log.Error("Failed to mark run RUNNING", "run_id", run.ID, "error", err)
		return
	}
	run.Status = models.RunStatusRunning
	s.broadcastRun(run)

	events, err := s.scoreRun(ctx, run, cfg)
	duration := time.Since(start)
	metrics.DetectionDurationSeconds.WithLabelValues(detectorType).Observe(duration.Seconds())

	if err != nil {
		// Shutdown cancellation must still leave the run terminal, so the
		// status write runs on a detached context.
		if ctx.Err() != nil {
			err = fmt.Errorf("canceled: %w", err)
			ctx = context.WithoutCancel(ctx)
		}
		metrics.DetectionRunsTotal.WithLabelValues(detectorType, "failed").Inc()
		s.log.Error("Detection run failed",
			"run_id", run.ID,
			"detector_id", cfg.ID,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		if markErr := s.repo.MarkFailed(ctx, run.ID, err.Error()); markErr != nil {
			s.log.Error("Failed to mark run FAILED", "run_id", run.ID, "error", markErr)
		}
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
		s.broadcastRun(run)
		return
	}

	if err := s.repo.InsertEventBatch(ctx, events); err != nil {
		metrics.DetectionRunsTotal.WithLabelValues(detectorType, "failed").Inc()
		s.log.Error("Failed to persist anomaly events", "run_id", run.ID, "error", err)
		if markErr := s.repo.MarkFailed(ctx, run.ID, fmt.Sprintf("failed to persist events: %v", err)); markErr != nil {
			s.log.Error("Failed to mark run FAILED", "run_id", run.ID, "error", markErr)
		}
		run.Status = models.RunStatusFailed
		s.broadcastRun(run)
		return
	}

	if err := s.repo.MarkCompleted(ctx, run.ID, len(events)); err != nil {
		s.log.Error("Failed to mark run COMPLETED", "run_id", run.ID, "error", err)
		return
	}

	metrics.DetectionRunsTotal.WithLabelValues(detectorType, "completed").Inc()
	for _, ev := range events {
		metrics.AnomalyEventsTotal.WithLabelValues(detectorType, string(ev.PolicyAction)).Inc()
	}

	s.log.Info("Detection run completed",
		"run_id", run.ID,
		"detector_id", cfg.ID,
		"events", len(events),
		"duration_ms", duration.Milliseconds(),
	)

	run.Status = models.RunStatusCompleted
	run.EventCount = len(events)
	s.broadcastRun(run)
	if s.hub != nil {
		if err := s.hub.BroadcastAnomalyEvents(events); err != nil {
			s.log.Warn("Failed to broadcast anomaly events", "run_id", run.ID, "error", err)
		}
	}
}

// scoreRun fetches the window, runs the detector, and turns flagged indices
// into anomaly events with severity, persistence and a policy decision.
func (s *detectionService) scoreRun(ctx context.Context, run *models.DetectionRun, cfg *models.DetectorConfig) ([]*models.AnomalyEvent, error) {
	det, err := s.registry.Create(cfg.Type, cfg.Params)
	if err != nil {
		return nil, err
	}

	q := warehouse.Query{
		CohortBy: cfg.CohortBy,
		Metrics:  cfg.Metrics.AllMetrics(),
		From:     run.WindowFrom,
		To:       run.WindowTo,
	}
	rows, err := s.fetcher.FetchWindows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("warehouse fetch failed: %w", err)
	}

	cp := detector.ParseCommonParams(cfg.Params)

	var result *detector.Result
	var rowIdx []int // maps result index -> rows index
	metric := cfg.Metrics.Primary

	if mv, ok := det.(detector.MultivariateDetector); ok && len(cfg.Metrics.Secondary) > 0 {
		vectors, kept := warehouse.Vectors(rows, cfg.Metrics.AllMetrics())
		result, err = mv.DetectVectors(vectors)
		rowIdx = kept
	} else {
		series, kept := warehouse.Series(rows, metric)
		result, err = det.Detect(series)
		rowIdx = kept
	}
	if err != nil {
		return nil, err
	}

	anomalySet := make(map[int]bool, len(result.Anomalies))
	for _, idx := range result.Anomalies {
		anomalySet[idx] = true
	}

	events := make([]*models.AnomalyEvent, 0, len(result.Anomalies))
	for _, idx := range result.Anomalies {
		row := rows[rowIdx[idx]]
		score := result.Scores[idx]
		severity := severityForScore(score, cp.K)
		persisted := runLength(anomalySet, idx)

		decision := policy.Decide(policy.Input{
			Score:      score,
			Severity:   severity,
			PersistedN: persisted,
			Params:     cfg.Params,
		})

		events = append(events, &models.AnomalyEvent{
			RunID:        run.ID,
			DetectorID:   cfg.ID,
			CohortValues: row.Cohort,
			Metric:       metric,
			Timestamp:    row.WindowStart,
			Score:        score,
			Severity:     severity,
			PersistedN:   persisted,
			Evidence:     result.Evidence,
			PolicyAction: decision.Action,
			PolicyReason: decision.Reason,
		})
	}
	return events, nil
}

func (s *detectionService) broadcastRun(run *models.DetectionRun) {
	if s.hub == nil {
		return
	}
	if err := s.hub.BroadcastRunUpdate(run); err != nil {
		s.log.Warn("Failed to broadcast run update", "run_id", run.ID, "error", err)
	}
}

func (s *detectionService) sweepStaleRuns(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.staleTimeout)
	failed, err := s.repo.FailStaleRuns(ctx, cutoff)
	if err != nil {
		s.log.Error("Stale run sweep failed", "error", err)
		return
	}
	if failed > 0 {
		s.log.Warn("Failed stale detection runs", "count", failed, "older_than", cutoff)
	}
}

// severityForScore maps a normalized score to a severity band relative to
// the detector threshold k: at or above 2k is critical, above k is warn.
func severityForScore(score, k float64) models.Severity {
	switch {
	case score >= 2*k:
		return models.SeverityCritical
	case score > k:
		return models.SeverityWarn
	default:
		return models.SeverityInfo
	}
}

// runLength counts how many consecutive indices ending at idx are all
// anomalous. A lone anomaly has run length 1.
func runLength(anomalySet map[int]bool, idx int) int {
	n := 0
	for i := idx; i >= 0 && anomalySet[i]; i-- {
		n++
	}
	return n
}
