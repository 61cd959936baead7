package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

const statsLookback = 24 * time.Hour

// SchedulerDeps wires the tick driver with the pipeline phases.
type SchedulerDeps struct {
	Driver     ports.Scheduler
	Gate       *Gate
	Clustering *Clustering
	Store      ports.ArticleStore
	Embedder   ports.Embedder
	Logger     *slog.Logger

	RunTimeout time.Duration
}

// Scheduler drives the classification gate and the clustering engine on
// a fixed cadence. Each tick runs both phases under a shared wall-clock
// budget and records one job-run row per phase.
type Scheduler struct {
	driver     ports.Scheduler
	gate       *Gate
	clustering *Clustering
	store      ports.ArticleStore
	embedder   ports.Embedder
	logger     *slog.Logger
	runTimeout time.Duration
	now        func() time.Time
}

// NewScheduler constructs the pipeline scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	timeout := deps.RunTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		driver:     deps.Driver,
		gate:       deps.Gate,
		clustering: deps.Clustering,
		store:      deps.Store,
		embedder:   deps.Embedder,
		logger:     logger.With("component", "scheduler"),
		runTimeout: timeout,
		now:        time.Now,
	}
}

// Start registers the pipeline with the tick driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return errors.New("scheduler: no driver configured")
	}
	return s.driver.Start(ctx, func(trigger time.Time) {
		s.RunOnce(ctx, trigger)
	})
}

// Stop gracefully tears down the tick driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// RunOnce executes one tick: classify, then cluster. A failed
// classification phase does not block clustering; articles it missed
// are simply not ready yet and get picked up on a later tick.
func (s *Scheduler) RunOnce(ctx context.Context, trigger time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	s.logger.Info("tick started", "trigger", trigger.UTC().Format(time.RFC3339))

	if err := s.runClassify(runCtx); err != nil {
		s.logger.Error("classification phase failed", "error", err)
	}

	s.warnEmbedderDrift(runCtx)

	if err := s.runCluster(runCtx); err != nil {
		s.logger.Error("clustering phase failed", "error", err)
	}

	s.logStats(runCtx)
}

func (s *Scheduler) runClassify(ctx context.Context) error {
	run := domain.JobRun{
		ID:        uuid.New(),
		Kind:      domain.RunKindClassify,
		StartedAt: s.now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	if err := s.store.RecordJobRun(ctx, run); err != nil {
		return fmt.Errorf("record classify run: %w", err)
	}

	report, err := s.gate.Run(ctx)

	status := domain.RunStatusOK
	detail := fmt.Sprintf("selected=%d classified=%d failed=%d model=%s",
		report.Selected, report.Classified, report.Failed, report.ModelVersion)
	if err != nil {
		status = domain.RunStatusFailed
		detail = err.Error()
	}
	if finishErr := s.store.FinishJobRun(ctx, run.ID, status, detail, s.now().UTC()); finishErr != nil {
		s.logger.Warn("finish classify run failed", "error", finishErr)
	}
	return err
}

func (s *Scheduler) runCluster(ctx context.Context) error {
	run := domain.JobRun{
		ID:        uuid.New(),
		Kind:      domain.RunKindCluster,
		Model:     s.embedder.Model(),
		StartedAt: s.now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	if err := s.store.RecordJobRun(ctx, run); err != nil {
		return fmt.Errorf("record cluster run: %w", err)
	}

	report, err := s.clustering.Run(ctx)

	status := domain.RunStatusOK
	detail := fmt.Sprintf("buckets=%d matched=%d new_clusters=%d noise=%d failed_buckets=%d",
		report.Buckets, report.Matched, report.NewClusters, report.Noise, report.FailedBuckets)
	if err != nil {
		status = domain.RunStatusFailed
		detail = err.Error()
	} else if report.FailedBuckets > 0 {
		status = domain.RunStatusFailed
	}
	if finishErr := s.store.FinishJobRun(ctx, run.ID, status, detail, s.now().UTC()); finishErr != nil {
		s.logger.Warn("finish cluster run failed", "error", finishErr)
	}
	return err
}

// warnEmbedderDrift compares the configured embedding model against the
// one recorded by the previous clustering run. A silent model change
// breaks comparisons with stored centroids until a full reprocess, so
// the check runs before runCluster writes this tick's record.
func (s *Scheduler) warnEmbedderDrift(ctx context.Context) {
	last, err := s.store.LastJobRun(ctx, domain.RunKindCluster)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("embedding model check failed", "error", err)
		return
	}
	if last.Model != "" && last.Model != s.embedder.Model() {
		s.logger.Warn("embedding model changed since last run, full reprocess recommended",
			"previous", last.Model, "current", s.embedder.Model())
	}
}

func (s *Scheduler) logStats(ctx context.Context) {
	stats, err := s.store.Stats(ctx, s.now().Add(-statsLookback))
	if err != nil {
		s.logger.Warn("stats query failed", "error", err)
		return
	}
	s.logger.Info("processing stats",
		"window", statsLookback.String(),
		"total", stats.Total,
		"classified", stats.Classified,
		"factual", stats.Factual,
		"opinion", stats.Opinion,
		"slop", stats.Slop,
		"ready", stats.Ready,
		"clustered", stats.Clustered,
		"centroids", stats.Centroids,
		"noise", stats.Noise)
}
