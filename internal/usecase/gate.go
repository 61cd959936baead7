package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

// GateDeps wires the classification gate's collaborators and tuning.
type GateDeps struct {
	Store      ports.ArticleStore
	Classifier ports.Classifier
	Logger     *slog.Logger

	Lookback        time.Duration
	ExcludedSources []string
	CheckpointSize  int
}

// Gate selects unclassified articles by fetch time, grades them through
// the classifier, and persists the verdicts. Only FACTUAL articles
// become ready for clustering and downstream consumption.
type Gate struct {
	store      ports.ArticleStore
	classifier ports.Classifier
	logger     *slog.Logger

	lookback   time.Duration
	excluded   []string
	checkpoint int
	now        func() time.Time
}

// GateReport summarizes one gate pass.
type GateReport struct {
	Selected     int
	Classified   int
	Failed       int
	Factual      int
	Opinion      int
	Slop         int
	ModelVersion string
}

// NewGate constructs the gate, applying defaults for zero tuning values.
func NewGate(deps GateDeps) *Gate {
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 3 * time.Hour
	}
	checkpoint := deps.CheckpointSize
	if checkpoint <= 0 {
		checkpoint = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		store:      deps.Store,
		classifier: deps.Classifier,
		logger:     logger.With("component", "gate"),
		lookback:   lookback,
		excluded:   deps.ExcludedSources,
		checkpoint: checkpoint,
		now:        time.Now,
	}
}

// Run classifies articles fetched within the lookback window.
func (g *Gate) Run(ctx context.Context) (GateReport, error) {
	return g.RunSince(ctx, g.now().Add(-g.lookback))
}

// RunSince classifies unclassified articles fetched at or after since.
// A zero since classifies the whole backlog. Verdicts are flushed in
// checkpoints so an interrupted pass keeps its completed work; articles
// whose classification fails stay unclassified and are retried on the
// next pass.
func (g *Gate) RunSince(ctx context.Context, since time.Time) (GateReport, error) {
	articles, err := g.store.SelectPendingClassification(ctx, since, g.excluded)
	if err != nil {
		return GateReport{}, fmt.Errorf("select pending articles: %w", err)
	}

	report := GateReport{Selected: len(articles)}
	if len(articles) == 0 {
		return report, nil
	}

	pending := make([]domain.ClassificationUpdate, 0, g.checkpoint)
	for _, article := range articles {
		pred, err := g.classifier.Classify(ctx, article.Title, article.Summary)
		if err != nil {
			if ctx.Err() != nil {
				if flushErr := g.flush(context.WithoutCancel(ctx), pending); flushErr != nil {
					g.logger.Warn("flush on interrupt failed", "error", flushErr)
				}
				return report, fmt.Errorf("classification interrupted: %w", ctx.Err())
			}
			report.Failed++
			g.logger.Warn("classification failed, deferring article to next run",
				"article", article.ID, "error", err)
			continue
		}

		pending = append(pending, domain.ClassificationUpdate{
			ArticleID:    article.ID,
			Label:        pred.Label,
			Confidence:   roundConfidence(pred.Confidence),
			ModelVersion: pred.ModelVersion,
			ClassifiedAt: g.now().UTC(),
			Ready:        pred.Label == domain.LabelFactual,
		})
		report.Classified++
		report.ModelVersion = pred.ModelVersion
		switch pred.Label {
		case domain.LabelFactual:
			report.Factual++
		case domain.LabelOpinion:
			report.Opinion++
		case domain.LabelSlop:
			report.Slop++
		}

		if len(pending) >= g.checkpoint {
			if err := g.flush(ctx, pending); err != nil {
				return report, fmt.Errorf("save checkpoint: %w", err)
			}
			pending = pending[:0]
		}
	}

	if err := g.flush(ctx, pending); err != nil {
		return report, fmt.Errorf("save classifications: %w", err)
	}

	g.warnVersionDrift(ctx, since, report.ModelVersion)

	g.logger.Info("classification pass complete",
		"selected", report.Selected,
		"classified", report.Classified,
		"failed", report.Failed,
		"factual", report.Factual,
		"opinion", report.Opinion,
		"slop", report.Slop)

	return report, nil
}

func (g *Gate) flush(ctx context.Context, updates []domain.ClassificationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return g.store.SaveClassifications(ctx, updates)
}

// warnVersionDrift logs when the window contains verdicts from other
// classifier versions than the one answering now. Drift is surfaced for
// the operator, never auto-corrected.
func (g *Gate) warnVersionDrift(ctx context.Context, since time.Time, current string) {
	if current == "" {
		return
	}

	versions, err := g.store.DistinctModelVersions(ctx, since)
	if err != nil {
		g.logger.Warn("model version check failed", "error", err)
		return
	}
	for _, v := range versions {
		if v != current {
			g.logger.Warn("mixed classifier model versions in window",
				"current", current, "stored", versions)
			return
		}
	}
}

func roundConfidence(c float64) float64 {
	return math.Round(c*10000) / 10000
}
