package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"NewsRefinery/internal/domain"
)

// Classifier grades an article's epistemic quality. Implementations
// must be deterministic for identical input under a fixed model version.
type Classifier interface {
	Classify(ctx context.Context, title, summary string) (domain.Prediction, error)
}

// Embedder turns text into fixed-length vectors comparable by cosine
// similarity. Model names the embedding model in use; changing it
// invalidates stored centroid comparisons until a full reprocess.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// ArticleStore persists articles, their annotations, the clustering
// audit log, and job-run records. Article rows are append-only.
type ArticleStore interface {
	// InsertArticle stores a new article. A duplicate URL returns the
	// existing row's id together with domain.ErrDuplicateURL; the stored
	// row is never overwritten.
	InsertArticle(ctx context.Context, article domain.NewArticle) (int64, error)

	// SelectPendingClassification returns unclassified articles fetched
	// at or after since, skipping excluded source prefixes, ascending id.
	// A zero since imposes no lower bound.
	SelectPendingClassification(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error)

	// SaveClassifications persists gate decisions. Rows that already
	// carry a label are left untouched.
	SaveClassifications(ctx context.Context, updates []domain.ClassificationUpdate) error

	// DistinctModelVersions lists classifier model versions stored on
	// articles classified at or after since.
	DistinctModelVersions(ctx context.Context, since time.Time) ([]string, error)

	// SelectUnclustered returns ready articles classified at or after
	// since that have no cluster assignment yet, skipping excluded
	// source prefixes, ascending id. A zero since imposes no lower bound.
	SelectUnclustered(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error)

	// SelectCentroids returns established cluster centroids whose
	// effective timestamp falls within [from, to), ascending id.
	SelectCentroids(ctx context.Context, from, to time.Time) ([]domain.Article, error)

	// ApplyAssignments writes one bucket's audit rows and denormalized
	// status columns atomically. Either every assignment commits or none.
	ApplyAssignments(ctx context.Context, assignments []domain.Assignment, method string) error

	// SelectKnowledgeFeed returns ready centroid or noise articles past
	// the cursor, ordered by (classified-at, id) ascending.
	SelectKnowledgeFeed(ctx context.Context, cursor domain.FeedCursor, limit int) ([]domain.Article, error)

	// WipeClustering deletes every audit row and clears the clustering
	// columns on every article. Classification annotations survive.
	WipeClustering(ctx context.Context) error

	// VerifyProjection compares the denormalized status columns against
	// the latest audit row per article and returns mismatched ids.
	VerifyProjection(ctx context.Context) ([]int64, error)

	// Stats summarizes annotations on articles fetched at or after since.
	Stats(ctx context.Context, since time.Time) (domain.ProcessingStats, error)

	RecordJobRun(ctx context.Context, run domain.JobRun) error
	FinishJobRun(ctx context.Context, id uuid.UUID, status, detail string, finishedAt time.Time) error

	// LastJobRun returns the most recent run of the given kind, or
	// domain.ErrNotFound when none exists.
	LastJobRun(ctx context.Context, kind string) (domain.JobRun, error)
}

// Notifier pushes short operator alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Scheduler controls when the processing pipeline executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
