package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Label grades the epistemic quality of an article.
type Label string

const (
	LabelFactual Label = "FACTUAL"
	LabelOpinion Label = "OPINION"
	LabelSlop    Label = "SLOP"
)

// Valid reports whether the label is one of the known grades.
func (l Label) Valid() bool {
	switch l {
	case LabelFactual, LabelOpinion, LabelSlop:
		return true
	}
	return false
}

// ClassificationSourceModel marks annotations written by the classifier
// service rather than a human reviewer.
const ClassificationSourceModel = "model"

// Article is one ingested news item. Content columns never change after
// insert; classification and clustering annotations are filled in later.
type Article struct {
	ID          int64
	URL         string
	Title       string
	Summary     string
	Source      string
	PublishedAt *time.Time
	FetchedAt   time.Time

	Classification *Classification
	Cluster        *ClusterStatus
}

// EffectiveTime is the publication timestamp when present, otherwise the
// fetch timestamp. Feeds frequently omit or misreport publication dates.
func (a Article) EffectiveTime() time.Time {
	if a.PublishedAt != nil && !a.PublishedAt.IsZero() {
		return *a.PublishedAt
	}
	return a.FetchedAt
}

// Classification holds the model verdict for one article.
type Classification struct {
	Label        Label
	Confidence   float64
	Source       string
	ModelVersion string
	ClassifiedAt time.Time
	Ready        bool
}

// ClusterStatus is the denormalized clustering outcome kept on the
// article row for fast querying. The audit log is the source of truth;
// these columns are a rebuildable projection of it.
type ClusterStatus struct {
	BatchID    uuid.UUID
	Label      int
	IsCentroid bool
	Distance   *float64
}

// Prediction is one classifier verdict before persistence.
type Prediction struct {
	Label        Label
	Confidence   float64
	ModelVersion string
}

// NewArticle carries the fields an upstream feed supplies at ingestion.
type NewArticle struct {
	URL         string
	Title       string
	Summary     string
	Source      string
	PublishedAt *time.Time
	FetchedAt   time.Time
}

// ClassificationUpdate is one gate decision ready to persist.
type ClassificationUpdate struct {
	ArticleID    int64
	Label        Label
	Confidence   float64
	ModelVersion string
	ClassifiedAt time.Time
	Ready        bool
}

// FeedCursor is a resumable position in the downstream feed, ordered by
// (classified-at, id). The zero cursor reads from the beginning.
type FeedCursor struct {
	ClassifiedAt time.Time
	ID           int64
}

// JobRun records one scheduler tick phase or reprocess invocation.
type JobRun struct {
	ID         uuid.UUID
	Kind       string
	Model      string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Detail     string
}

const (
	RunKindClassify  = "classify"
	RunKindCluster   = "cluster"
	RunKindReprocess = "reprocess"

	RunStatusRunning = "running"
	RunStatusOK      = "ok"
	RunStatusFailed  = "failed"
)

// ProcessingStats summarizes stored annotations for operator logs.
type ProcessingStats struct {
	Total      int64
	Classified int64
	Factual    int64
	Opinion    int64
	Slop       int64
	Ready      int64
	Clustered  int64
	Centroids  int64
	Noise      int64
}

var (
	// ErrDuplicateURL reports that an ingested URL already exists; the
	// first writer wins and the stored row is left untouched.
	ErrDuplicateURL = errors.New("duplicate article url")

	// ErrMissingField reports an ingest row lacking a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrInvariant reports a clustering outcome that breaks structural
	// guarantees; nothing is persisted for the offending bucket.
	ErrInvariant = errors.New("cluster invariant violation")

	// ErrNotFound reports an absent row where one was requested.
	ErrNotFound = errors.New("not found")
)
