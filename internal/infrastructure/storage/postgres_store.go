package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

// articleColumns lists every articles column in scan order.
var articleColumns = []string{
	"id", "url", "title", "summary", "source", "published_at", "fetched_at",
	"classification_label", "classification_confidence", "classification_source",
	"classification_model_version", "classified_at", "ready_for_kg",
	"cluster_batch_id", "cluster_label", "is_cluster_centroid", "distance_to_centroid",
}

// PostgresStore persists articles, the clustering audit log, and job
// runs in Postgres.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.ArticleStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// InsertArticle stores a new article; the first writer for a URL wins.
// A duplicate returns the stored row's id with domain.ErrDuplicateURL.
func (s *PostgresStore) InsertArticle(ctx context.Context, article domain.NewArticle) (int64, error) {
	if err := validateNewArticle(article); err != nil {
		return 0, err
	}

	query, args, err := s.builder.
		Insert("articles").
		Columns("url", "title", "summary", "source", "published_at", "fetched_at").
		Values(article.URL, strings.TrimSpace(article.Title), article.Summary, article.Source,
			nullableTime(article.PublishedAt), article.FetchedAt.UTC()).
		Suffix("ON CONFLICT (url) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build article insert: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("insert article: %w", err)
	}

	// Conflict path: the URL already exists, report the stored row.
	query, args, err = s.builder.
		Select("id").
		From("articles").
		Where(sq.Eq{"url": article.URL}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build duplicate lookup: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup duplicate url: %w", err)
	}

	return id, domain.ErrDuplicateURL
}

func validateNewArticle(article domain.NewArticle) error {
	switch {
	case strings.TrimSpace(article.URL) == "":
		return fmt.Errorf("%w: url", domain.ErrMissingField)
	case strings.TrimSpace(article.Title) == "":
		return fmt.Errorf("%w: title", domain.ErrMissingField)
	case strings.TrimSpace(article.Source) == "":
		return fmt.Errorf("%w: source", domain.ErrMissingField)
	case article.FetchedAt.IsZero():
		return fmt.Errorf("%w: fetched_at", domain.ErrMissingField)
	}
	return nil
}

// SelectPendingClassification returns unclassified articles fetched at
// or after since, skipping excluded source prefixes, ascending id.
func (s *PostgresStore) SelectPendingClassification(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error) {
	query, args, err := s.pendingClassificationQuery(since, excluded).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}
	return s.queryArticles(ctx, query, args)
}

func (s *PostgresStore) pendingClassificationQuery(since time.Time, excluded []string) sq.SelectBuilder {
	q := s.builder.
		Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"classification_label": nil}).
		OrderBy("id ASC")
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"fetched_at": since.UTC()})
	}
	return withSourceExclusions(q, excluded)
}

// withSourceExclusions filters out sources matching any excluded prefix.
func withSourceExclusions(q sq.SelectBuilder, excluded []string) sq.SelectBuilder {
	if len(excluded) == 0 {
		return q
	}

	patterns := make([]string, len(excluded))
	for i, prefix := range excluded {
		patterns[i] = prefix + "%"
	}

	return q.Where(sq.Expr("NOT (source LIKE ANY(?))", pq.Array(patterns)))
}

// SaveClassifications persists gate decisions in one transaction. Rows
// that already carry a label are left untouched.
func (s *PostgresStore) SaveClassifications(ctx context.Context, updates []domain.ClassificationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin classifications tx: %w", err)
	}

	for _, u := range updates {
		query, args, err := s.builder.
			Update("articles").
			Set("classification_label", string(u.Label)).
			Set("classification_confidence", u.Confidence).
			Set("classification_source", domain.ClassificationSourceModel).
			Set("classification_model_version", u.ModelVersion).
			Set("classified_at", u.ClassifiedAt.UTC()).
			Set("ready_for_kg", u.Ready).
			Where(sq.Eq{"id": u.ArticleID}).
			Where(sq.Eq{"classification_label": nil}).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build classification update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("classify article %d: %w", u.ArticleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit classifications: %w", err)
	}

	return nil
}

// DistinctModelVersions lists classifier model versions stored on
// articles classified at or after since.
func (s *PostgresStore) DistinctModelVersions(ctx context.Context, since time.Time) ([]string, error) {
	q := s.builder.
		Select("classification_model_version").
		Distinct().
		From("articles").
		Where(sq.NotEq{"classification_model_version": nil}).
		OrderBy("classification_model_version ASC")
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"classified_at": since.UTC()})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build versions query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query model versions: %w", err)
	}

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan model version: %w", err)
		}
		versions = append(versions, v)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return versions, nil
}

// SelectUnclustered returns ready articles classified at or after since
// with no cluster assignment yet, skipping excluded source prefixes.
func (s *PostgresStore) SelectUnclustered(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error) {
	query, args, err := s.unclusteredQuery(since, excluded).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unclustered query: %w", err)
	}
	return s.queryArticles(ctx, query, args)
}

func (s *PostgresStore) unclusteredQuery(since time.Time, excluded []string) sq.SelectBuilder {
	q := s.builder.
		Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"ready_for_kg": true}).
		Where(sq.Eq{"cluster_batch_id": nil}).
		OrderBy("id ASC")
	if !since.IsZero() {
		q = q.Where(sq.GtOrEq{"classified_at": since.UTC()})
	}
	return withSourceExclusions(q, excluded)
}

// SelectCentroids returns established cluster centroids whose effective
// timestamp falls within [from, to), ascending id.
func (s *PostgresStore) SelectCentroids(ctx context.Context, from, to time.Time) ([]domain.Article, error) {
	query, args, err := s.centroidsQuery(from, to).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build centroids query: %w", err)
	}
	return s.queryArticles(ctx, query, args)
}

func (s *PostgresStore) centroidsQuery(from, to time.Time) sq.SelectBuilder {
	return s.builder.
		Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"is_cluster_centroid": true}).
		Where(sq.NotEq{"cluster_label": domain.NoiseLabel}).
		Where(sq.Expr("COALESCE(published_at, fetched_at) >= ?", from.UTC())).
		Where(sq.Expr("COALESCE(published_at, fetched_at) < ?", to.UTC())).
		OrderBy("id ASC")
}

// ApplyAssignments writes one bucket's audit rows and denormalized
// status columns in a single transaction. The assignments are validated
// first; an invariant violation leaves the store untouched.
func (s *PostgresStore) ApplyAssignments(ctx context.Context, assignments []domain.Assignment, method string) error {
	if len(assignments) == 0 {
		return nil
	}
	if err := domain.ValidateAssignments(assignments); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin assignments tx: %w", err)
	}

	for _, a := range assignments {
		if err := s.applyAssignment(ctx, tx, a, method); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit assignments: %w", err)
	}

	return nil
}

func (s *PostgresStore) applyAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment, method string) error {
	query, args, err := s.builder.
		Update("articles").
		Set("cluster_batch_id", a.BatchID).
		Set("cluster_label", a.Label).
		Set("is_cluster_centroid", a.IsCentroid).
		Set("distance_to_centroid", nullableFloat(a.Distance)).
		Where(sq.Eq{"id": a.ArticleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update cluster status %d: %w", a.ArticleID, err)
	}

	query, args, err = s.builder.
		Insert("article_clusters").
		Columns("cluster_batch_id", "article_id", "cluster_label", "is_centroid",
			"distance_to_centroid", "clustering_method").
		Values(a.BatchID, a.ArticleID, a.Label, a.IsCentroid, nullableFloat(a.Distance), method).
		Suffix(`ON CONFLICT (cluster_batch_id, article_id) DO UPDATE
			SET cluster_label = EXCLUDED.cluster_label,
			    is_centroid = EXCLUDED.is_centroid,
			    distance_to_centroid = EXCLUDED.distance_to_centroid,
			    clustering_method = EXCLUDED.clustering_method,
			    recorded_at = NOW()`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record audit row %d: %w", a.ArticleID, err)
	}

	return nil
}

// SelectKnowledgeFeed returns ready centroid or noise articles past the
// cursor, ordered by (classified-at, id) ascending.
func (s *PostgresStore) SelectKnowledgeFeed(ctx context.Context, cursor domain.FeedCursor, limit int) ([]domain.Article, error) {
	query, args, err := s.knowledgeFeedQuery(cursor, limit).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build feed query: %w", err)
	}
	return s.queryArticles(ctx, query, args)
}

func (s *PostgresStore) knowledgeFeedQuery(cursor domain.FeedCursor, limit int) sq.SelectBuilder {
	q := s.builder.
		Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"ready_for_kg": true}).
		Where(sq.Or{
			sq.Eq{"is_cluster_centroid": true},
			sq.Eq{"cluster_label": domain.NoiseLabel},
		}).
		OrderBy("classified_at ASC", "id ASC")
	if !cursor.ClassifiedAt.IsZero() || cursor.ID > 0 {
		q = q.Where(sq.Expr("(classified_at, id) > (?, ?)", cursor.ClassifiedAt.UTC(), cursor.ID))
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

// WipeClustering deletes every audit row and clears the clustering
// columns on every article. Classification annotations survive so the
// downstream cursor stays stable.
func (s *PostgresStore) WipeClustering(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wipe tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `TRUNCATE article_clusters`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("truncate audit log: %w", err)
	}

	query, args, err := s.builder.
		Update("articles").
		Set("cluster_batch_id", nil).
		Set("cluster_label", nil).
		Set("is_cluster_centroid", nil).
		Set("distance_to_centroid", nil).
		ToSql()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("build wipe update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear cluster columns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wipe: %w", err)
	}

	return nil
}

const verifyProjectionQuery = `
SELECT a.id
FROM articles a
JOIN (
	SELECT DISTINCT ON (article_id)
		article_id, cluster_batch_id, cluster_label, is_centroid, distance_to_centroid
	FROM article_clusters
	ORDER BY article_id, id DESC
) latest ON latest.article_id = a.id
WHERE a.cluster_batch_id IS DISTINCT FROM latest.cluster_batch_id
   OR a.cluster_label IS DISTINCT FROM latest.cluster_label
   OR COALESCE(a.is_cluster_centroid, FALSE) IS DISTINCT FROM latest.is_centroid
   OR a.distance_to_centroid IS DISTINCT FROM latest.distance_to_centroid
ORDER BY a.id`

// VerifyProjection compares denormalized article status against the
// latest audit row per article and returns mismatched article ids.
func (s *PostgresStore) VerifyProjection(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, verifyProjectionQuery)
	if err != nil {
		return nil, fmt.Errorf("query projection mismatches: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan mismatch id: %w", err)
		}
		ids = append(ids, id)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return ids, nil
}

const statsQuery = `
SELECT
	COUNT(*),
	COUNT(classification_label),
	COUNT(*) FILTER (WHERE classification_label = 'FACTUAL'),
	COUNT(*) FILTER (WHERE classification_label = 'OPINION'),
	COUNT(*) FILTER (WHERE classification_label = 'SLOP'),
	COUNT(*) FILTER (WHERE ready_for_kg),
	COUNT(cluster_batch_id),
	COUNT(*) FILTER (WHERE is_cluster_centroid),
	COUNT(*) FILTER (WHERE cluster_label = -1)
FROM articles
WHERE fetched_at >= $1`

// Stats summarizes annotations on articles fetched at or after since.
func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (domain.ProcessingStats, error) {
	var stats domain.ProcessingStats
	err := s.db.QueryRowContext(ctx, statsQuery, since.UTC()).Scan(
		&stats.Total, &stats.Classified, &stats.Factual, &stats.Opinion, &stats.Slop,
		&stats.Ready, &stats.Clustered, &stats.Centroids, &stats.Noise)
	if err != nil {
		return domain.ProcessingStats{}, fmt.Errorf("query stats: %w", err)
	}
	return stats, nil
}

// RecordJobRun inserts the starting row for one pipeline phase.
func (s *PostgresStore) RecordJobRun(ctx context.Context, run domain.JobRun) error {
	query, args, err := s.builder.
		Insert("job_runs").
		Columns("id", "kind", "model", "started_at", "status", "detail").
		Values(run.ID, run.Kind, run.Model, run.StartedAt.UTC(), run.Status, run.Detail).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job run insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

// FinishJobRun closes a run row with its outcome.
func (s *PostgresStore) FinishJobRun(ctx context.Context, id uuid.UUID, status, detail string, finishedAt time.Time) error {
	query, args, err := s.builder.
		Update("job_runs").
		Set("status", status).
		Set("detail", detail).
		Set("finished_at", finishedAt.UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build job run update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return nil
}

// LastJobRun returns the most recent run of the given kind.
func (s *PostgresStore) LastJobRun(ctx context.Context, kind string) (domain.JobRun, error) {
	query, args, err := s.builder.
		Select("id", "kind", "model", "started_at", "finished_at", "status", "detail").
		From("job_runs").
		Where(sq.Eq{"kind": kind}).
		OrderBy("started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("build last run query: %w", err)
	}

	var run domain.JobRun
	var finished sql.NullTime
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.Kind, &run.Model, &run.StartedAt, &finished, &run.Status, &run.Detail)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobRun{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.JobRun{}, fmt.Errorf("query last run: %w", err)
	}

	run.StartedAt = run.StartedAt.UTC()
	if finished.Valid {
		t := finished.Time.UTC()
		run.FinishedAt = &t
	}

	return run, nil
}

func (s *PostgresStore) queryArticles(ctx context.Context, query string, args []any) ([]domain.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		articles = append(articles, article)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return articles, nil
}

func scanArticle(rows *sql.Rows) (domain.Article, error) {
	var (
		a            domain.Article
		summary      sql.NullString
		publishedAt  sql.NullTime
		label        sql.NullString
		confidence   sql.NullFloat64
		clsSource    sql.NullString
		modelVersion sql.NullString
		classifiedAt sql.NullTime
		ready        sql.NullBool
		batchID      uuid.NullUUID
		clusterLabel sql.NullInt64
		isCentroid   sql.NullBool
		distance     sql.NullFloat64
	)

	err := rows.Scan(&a.ID, &a.URL, &a.Title, &summary, &a.Source, &publishedAt, &a.FetchedAt,
		&label, &confidence, &clsSource, &modelVersion, &classifiedAt, &ready,
		&batchID, &clusterLabel, &isCentroid, &distance)
	if err != nil {
		return domain.Article{}, fmt.Errorf("scan article: %w", err)
	}

	a.Summary = summary.String
	a.FetchedAt = a.FetchedAt.UTC()
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		a.PublishedAt = &t
	}

	if label.Valid {
		a.Classification = &domain.Classification{
			Label:        domain.Label(label.String),
			Confidence:   confidence.Float64,
			Source:       clsSource.String,
			ModelVersion: modelVersion.String,
			Ready:        ready.Bool,
		}
		if classifiedAt.Valid {
			a.Classification.ClassifiedAt = classifiedAt.Time.UTC()
		}
	}

	if batchID.Valid {
		status := &domain.ClusterStatus{
			BatchID:    batchID.UUID,
			Label:      int(clusterLabel.Int64),
			IsCentroid: isCentroid.Bool,
		}
		if distance.Valid {
			d := distance.Float64
			status.Distance = &d
		}
		a.Cluster = status
	}

	return a, nil
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
