package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsRefinery/internal/cluster"
	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

// ClusteringMethod tags audit rows written by the embedding engine.
const ClusteringMethod = "embeddings"

// ClusteringDeps wires the incremental clustering engine.
type ClusteringDeps struct {
	Store    ports.ArticleStore
	Embedder ports.Embedder
	Logger   *slog.Logger
	Notifier ports.Notifier

	Threshold        float64
	CentroidWindow   time.Duration
	Lookback         time.Duration
	ExcludedSources  []string
	FailureAlertRuns int
}

// Clustering groups ready articles into duplicate-coverage clusters one
// calendar-day bucket at a time, matching each bucket against recent
// prior centroids before forming new clusters from the remainder.
type Clustering struct {
	store    ports.ArticleStore
	embedder ports.Embedder
	logger   *slog.Logger
	notifier ports.Notifier

	threshold float64
	window    time.Duration
	lookback  time.Duration
	excluded  []string
	alertRuns int

	// Consecutive failures per bucket day, reset on success.
	failures map[time.Time]int
	now      func() time.Time
}

// ClusteringReport summarizes one clustering pass.
type ClusteringReport struct {
	Buckets       int
	FailedBuckets int
	Matched       int
	NewClusters   int
	Clustered     int
	Noise         int
}

// NewClustering constructs the engine, applying defaults for zero
// tuning values.
func NewClustering(deps ClusteringDeps) *Clustering {
	threshold := deps.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}
	window := deps.CentroidWindow
	if window <= 0 {
		window = 48 * time.Hour
	}
	lookback := deps.Lookback
	if lookback <= 0 {
		lookback = 3 * time.Hour
	}
	alertRuns := deps.FailureAlertRuns
	if alertRuns <= 0 {
		alertRuns = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Clustering{
		store:     deps.Store,
		embedder:  deps.Embedder,
		logger:    logger.With("component", "clustering"),
		notifier:  deps.Notifier,
		threshold: threshold,
		window:    window,
		lookback:  lookback,
		excluded:  deps.ExcludedSources,
		alertRuns: alertRuns,
		failures:  make(map[time.Time]int),
		now:       time.Now,
	}
}

// Run clusters articles classified within the lookback window.
func (c *Clustering) Run(ctx context.Context) (ClusteringReport, error) {
	return c.RunSince(ctx, c.now().Add(-c.lookback))
}

// RunSince clusters unassigned ready articles classified at or after
// since. A zero since covers the whole backlog. Buckets run oldest
// first so later days match against centroids established by earlier
// ones, and each bucket commits independently: one failed day defers
// only that day's articles.
func (c *Clustering) RunSince(ctx context.Context, since time.Time) (ClusteringReport, error) {
	articles, err := c.store.SelectUnclustered(ctx, since, c.excluded)
	if err != nil {
		return ClusteringReport{}, fmt.Errorf("select unclustered articles: %w", err)
	}

	var report ClusteringReport
	if len(articles) == 0 {
		return report, nil
	}

	// Every noise demotion in this pass shares one batch id.
	noiseBatch := uuid.New()

	buckets := PartitionBuckets(articles)
	report.Buckets = len(buckets)

	for _, bucket := range buckets {
		if ctx.Err() != nil {
			return report, fmt.Errorf("clustering interrupted: %w", ctx.Err())
		}

		outcome, err := c.processBucket(ctx, bucket, noiseBatch)
		if err != nil {
			report.FailedBuckets++
			c.noteBucketFailure(ctx, bucket.Day, err)
			continue
		}

		delete(c.failures, bucket.Day)
		report.Matched += outcome.matched
		report.NewClusters += outcome.newClusters
		report.Clustered += outcome.clustered
		report.Noise += outcome.noise
	}

	c.logger.Info("clustering pass complete",
		"buckets", report.Buckets,
		"failed_buckets", report.FailedBuckets,
		"matched", report.Matched,
		"new_clusters", report.NewClusters,
		"clustered", report.Clustered,
		"noise", report.Noise)

	return report, nil
}

type bucketOutcome struct {
	matched     int
	newClusters int
	clustered   int
	noise       int
}

// processBucket matches one day's articles against eligible prior
// centroids, groups the remainder, and commits every decision in a
// single transaction.
func (c *Clustering) processBucket(ctx context.Context, bucket Bucket, noiseBatch uuid.UUID) (bucketOutcome, error) {
	from, to := CentroidRange(bucket.Day, c.window)
	prior, err := c.store.SelectCentroids(ctx, from, to)
	if err != nil {
		return bucketOutcome{}, fmt.Errorf("select centroids: %w", err)
	}

	members, err := c.embedArticles(ctx, bucket.Articles)
	if err != nil {
		return bucketOutcome{}, err
	}
	centroids, err := c.embedCentroids(ctx, prior)
	if err != nil {
		return bucketOutcome{}, err
	}

	matches, unmatched := cluster.MatchCentroids(members, centroids, c.threshold)
	groups, noiseIDs := cluster.Cluster(unmatched, c.threshold)

	assignments := buildAssignments(matches, groups, noiseIDs, uuid.New(), noiseBatch)
	if err := c.store.ApplyAssignments(ctx, assignments, ClusteringMethod); err != nil {
		return bucketOutcome{}, fmt.Errorf("apply bucket %s: %w", bucket.Day.Format("2006-01-02"), err)
	}

	outcome := bucketOutcome{
		matched:     len(matches),
		newClusters: len(groups),
		noise:       len(noiseIDs),
	}
	for _, g := range groups {
		outcome.clustered += len(g.Members)
	}

	c.logger.Info("bucket clustered",
		"day", bucket.Day.Format("2006-01-02"),
		"articles", len(bucket.Articles),
		"prior_centroids", len(centroids),
		"matched", outcome.matched,
		"new_clusters", outcome.newClusters,
		"noise", outcome.noise)

	return outcome, nil
}

// embedArticles computes title-only vectors for the bucket's articles.
func (c *Clustering) embedArticles(ctx context.Context, articles []domain.Article) ([]cluster.Member, error) {
	texts := make([]string, len(articles))
	for i, a := range articles {
		texts[i] = cluster.TitleText(a)
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed articles: %w", err)
	}

	members := make([]cluster.Member, len(articles))
	for i, a := range articles {
		members[i] = cluster.Member{ArticleID: a.ID, Vector: vectors[i]}
	}
	return members, nil
}

// embedCentroids computes vectors for prior centroids through the same
// title-only projection as embedArticles. Comparing a title vector to
// anything else would make match decisions irreproducible.
func (c *Clustering) embedCentroids(ctx context.Context, prior []domain.Article) ([]cluster.Centroid, error) {
	if len(prior) == 0 {
		return nil, nil
	}

	texts := make([]string, len(prior))
	for i, a := range prior {
		texts[i] = cluster.TitleText(a)
	}

	vectors, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed centroids: %w", err)
	}

	centroids := make([]cluster.Centroid, 0, len(prior))
	for i, a := range prior {
		if a.Cluster == nil {
			return nil, fmt.Errorf("%w: centroid article %d has no cluster status", domain.ErrInvariant, a.ID)
		}
		centroids = append(centroids, cluster.Centroid{
			ArticleID: a.ID,
			BatchID:   a.Cluster.BatchID,
			Label:     a.Cluster.Label,
			Vector:    vectors[i],
		})
	}
	return centroids, nil
}

// buildAssignments flattens one bucket's decisions into store writes.
// Matched articles adopt the centroid's historical batch and label, new
// groups share a fresh bucket batch, noise rows carry the run-wide
// noise batch and no distance.
func buildAssignments(matches []cluster.Match, groups []cluster.Group, noiseIDs []int64, batchID, noiseBatch uuid.UUID) []domain.Assignment {
	assignments := make([]domain.Assignment, 0, len(matches)+len(noiseIDs))

	for _, m := range matches {
		d := m.Distance
		assignments = append(assignments, domain.Assignment{
			ArticleID: m.ArticleID,
			BatchID:   m.BatchID,
			Label:     m.Label,
			Distance:  &d,
		})
	}

	for _, g := range groups {
		for _, p := range g.Members {
			d := p.Distance
			assignments = append(assignments, domain.Assignment{
				ArticleID:  p.ArticleID,
				BatchID:    batchID,
				Label:      g.Label,
				IsCentroid: p.ArticleID == g.CentroidID,
				Distance:   &d,
			})
		}
	}

	for _, id := range noiseIDs {
		assignments = append(assignments, domain.Assignment{
			ArticleID: id,
			BatchID:   noiseBatch,
			Label:     domain.NoiseLabel,
		})
	}

	return assignments
}

// noteBucketFailure tracks consecutive failures per bucket day and
// escalates to the operator once the alert threshold is crossed.
func (c *Clustering) noteBucketFailure(ctx context.Context, day time.Time, err error) {
	c.failures[day]++
	count := c.failures[day]

	if count < c.alertRuns {
		c.logger.Error("bucket failed, will retry next run",
			"day", day.Format("2006-01-02"), "consecutive", count, "error", err)
		return
	}

	c.logger.Error("bucket keeps failing, needs operator attention",
		"day", day.Format("2006-01-02"), "consecutive", count, "error", err)

	if c.notifier == nil {
		return
	}
	message := fmt.Sprintf("clustering: bucket %s failed %d runs in a row: %v",
		day.Format("2006-01-02"), count, err)
	if notifyErr := c.notifier.Notify(ctx, message); notifyErr != nil {
		c.logger.Warn("operator alert failed", "error", notifyErr)
	}
}
