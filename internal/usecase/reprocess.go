package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

// ReprocessDeps wires the full rebuild operation.
type ReprocessDeps struct {
	Store      ports.ArticleStore
	Gate       *Gate
	Clustering *Clustering
	Embedder   ports.Embedder
	Logger     *slog.Logger
	Notifier   ports.Notifier
}

// Reprocess wipes every clustering decision and rebuilds the clusters
// from scratch under the current parameters. Classification verdicts
// are kept so downstream cursors stay stable; only articles still
// lacking a label get classified. Runs only when an operator asks.
type Reprocess struct {
	store      ports.ArticleStore
	gate       *Gate
	clustering *Clustering
	embedder   ports.Embedder
	logger     *slog.Logger
	notifier   ports.Notifier
	now        func() time.Time
}

// ReprocessReport summarizes one full rebuild.
type ReprocessReport struct {
	Gate       GateReport
	Clustering ClusteringReport
}

func NewReprocess(deps ReprocessDeps) *Reprocess {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reprocess{
		store:      deps.Store,
		gate:       deps.Gate,
		clustering: deps.Clustering,
		embedder:   deps.Embedder,
		logger:     logger.With("component", "reprocess"),
		notifier:   deps.Notifier,
		now:        time.Now,
	}
}

// Run executes the rebuild: wipe all cluster state, classify the
// unclassified backlog, recluster every bucket oldest first, then
// verify the rewritten status columns against the audit log.
func (r *Reprocess) Run(ctx context.Context) (ReprocessReport, error) {
	run := domain.JobRun{
		ID:        uuid.New(),
		Kind:      domain.RunKindReprocess,
		Model:     r.embedder.Model(),
		StartedAt: r.now().UTC(),
		Status:    domain.RunStatusRunning,
	}
	if err := r.store.RecordJobRun(ctx, run); err != nil {
		return ReprocessReport{}, fmt.Errorf("record reprocess run: %w", err)
	}

	report, err := r.rebuild(ctx)

	status := domain.RunStatusOK
	detail := fmt.Sprintf("classified=%d buckets=%d clusters=%d noise=%d",
		report.Gate.Classified, report.Clustering.Buckets,
		report.Clustering.NewClusters, report.Clustering.Noise)
	if err != nil {
		status = domain.RunStatusFailed
		detail = err.Error()
	}
	if finishErr := r.store.FinishJobRun(ctx, run.ID, status, detail, r.now().UTC()); finishErr != nil {
		r.logger.Warn("finish reprocess run failed", "error", finishErr)
	}
	if err != nil {
		return report, err
	}

	r.logger.Info("reprocess complete",
		"classified", report.Gate.Classified,
		"buckets", report.Clustering.Buckets,
		"clusters", report.Clustering.NewClusters,
		"noise", report.Clustering.Noise)

	if r.notifier != nil {
		message := fmt.Sprintf("reprocess complete: %d buckets rebuilt, %d clusters, %d noise articles",
			report.Clustering.Buckets, report.Clustering.NewClusters, report.Clustering.Noise)
		if notifyErr := r.notifier.Notify(ctx, message); notifyErr != nil {
			r.logger.Warn("operator alert failed", "error", notifyErr)
		}
	}

	return report, nil
}

func (r *Reprocess) rebuild(ctx context.Context) (ReprocessReport, error) {
	var report ReprocessReport

	r.logger.Info("wiping cluster annotations and audit rows")
	if err := r.store.WipeClustering(ctx); err != nil {
		return report, fmt.Errorf("wipe clustering: %w", err)
	}

	gateReport, err := r.gate.RunSince(ctx, time.Time{})
	if err != nil {
		return report, fmt.Errorf("classify backlog: %w", err)
	}
	report.Gate = gateReport

	clusterReport, err := r.clustering.RunSince(ctx, time.Time{})
	report.Clustering = clusterReport
	if err != nil {
		return report, fmt.Errorf("rebuild clusters: %w", err)
	}
	if clusterReport.FailedBuckets > 0 {
		return report, fmt.Errorf("rebuild clusters: %d buckets failed", clusterReport.FailedBuckets)
	}

	// The status columns were rewritten wholesale, cross-check them
	// against the audit log before reporting success.
	mismatched, err := r.store.VerifyProjection(ctx)
	if err != nil {
		return report, fmt.Errorf("verify projection: %w", err)
	}
	if len(mismatched) > 0 {
		return report, fmt.Errorf("%w: %d articles diverge from the audit log", domain.ErrInvariant, len(mismatched))
	}

	return report, nil
}
