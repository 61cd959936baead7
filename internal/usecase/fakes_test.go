package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"NewsRefinery/internal/domain"
	"NewsRefinery/internal/ports"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory ports.ArticleStore mirroring the Postgres
// adapter's semantics closely enough for pipeline tests.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	articles map[int64]*domain.Article
	audit    []auditRow
	runs     []domain.JobRun

	saveCalls   int
	applyCalls  int
	failPending bool
}

type auditRow struct {
	assignment domain.Assignment
	method     string
}

var _ ports.ArticleStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{nextID: 1, articles: make(map[int64]*domain.Article)}
}

// add seeds one article, assigning the next id when none is set.
func (m *memStore) add(a domain.Article) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		a.ID = m.nextID
	}
	if a.ID >= m.nextID {
		m.nextID = a.ID + 1
	}
	stored := a
	m.articles[a.ID] = &stored
	return a.ID
}

func (m *memStore) get(id int64) domain.Article {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyArticle(m.articles[id])
}

func (m *memStore) InsertArticle(ctx context.Context, article domain.NewArticle) (int64, error) {
	if strings.TrimSpace(article.URL) == "" || strings.TrimSpace(article.Title) == "" ||
		strings.TrimSpace(article.Source) == "" || article.FetchedAt.IsZero() {
		return 0, domain.ErrMissingField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.articles {
		if a.URL == article.URL {
			return a.ID, domain.ErrDuplicateURL
		}
	}

	id := m.nextID
	m.nextID++
	m.articles[id] = &domain.Article{
		ID:          id,
		URL:         article.URL,
		Title:       article.Title,
		Summary:     article.Summary,
		Source:      article.Source,
		PublishedAt: article.PublishedAt,
		FetchedAt:   article.FetchedAt,
	}
	return id, nil
}

func (m *memStore) SelectPendingClassification(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failPending {
		return nil, fmt.Errorf("pending query failed")
	}

	var out []domain.Article
	for _, a := range m.articles {
		if a.Classification != nil {
			continue
		}
		if !since.IsZero() && a.FetchedAt.Before(since) {
			continue
		}
		if sourceExcluded(a.Source, excluded) {
			continue
		}
		out = append(out, copyArticle(a))
	}
	sortByID(out)
	return out, nil
}

func (m *memStore) SaveClassifications(ctx context.Context, updates []domain.ClassificationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saveCalls++
	for _, u := range updates {
		a, ok := m.articles[u.ArticleID]
		if !ok || a.Classification != nil {
			continue
		}
		a.Classification = &domain.Classification{
			Label:        u.Label,
			Confidence:   u.Confidence,
			Source:       domain.ClassificationSourceModel,
			ModelVersion: u.ModelVersion,
			ClassifiedAt: u.ClassifiedAt,
			Ready:        u.Ready,
		}
	}
	return nil
}

func (m *memStore) DistinctModelVersions(ctx context.Context, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, a := range m.articles {
		if a.Classification == nil {
			continue
		}
		if !since.IsZero() && a.Classification.ClassifiedAt.Before(since) {
			continue
		}
		seen[a.Classification.ModelVersion] = true
	}

	versions := make([]string, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (m *memStore) SelectUnclustered(ctx context.Context, since time.Time, excluded []string) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Article
	for _, a := range m.articles {
		if a.Classification == nil || !a.Classification.Ready || a.Cluster != nil {
			continue
		}
		if !since.IsZero() && a.Classification.ClassifiedAt.Before(since) {
			continue
		}
		if sourceExcluded(a.Source, excluded) {
			continue
		}
		out = append(out, copyArticle(a))
	}
	sortByID(out)
	return out, nil
}

func (m *memStore) SelectCentroids(ctx context.Context, from, to time.Time) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Article
	for _, a := range m.articles {
		if a.Cluster == nil || !a.Cluster.IsCentroid || a.Cluster.Label == domain.NoiseLabel {
			continue
		}
		eff := a.EffectiveTime()
		if eff.Before(from) || !eff.Before(to) {
			continue
		}
		out = append(out, copyArticle(a))
	}
	sortByID(out)
	return out, nil
}

func (m *memStore) ApplyAssignments(ctx context.Context, assignments []domain.Assignment, method string) error {
	if len(assignments) == 0 {
		return nil
	}
	if err := domain.ValidateAssignments(assignments); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyCalls++
	for _, a := range assignments {
		article, ok := m.articles[a.ArticleID]
		if !ok {
			return fmt.Errorf("article %d not found", a.ArticleID)
		}
		status := &domain.ClusterStatus{
			BatchID:    a.BatchID,
			Label:      a.Label,
			IsCentroid: a.IsCentroid,
		}
		if a.Distance != nil {
			d := *a.Distance
			status.Distance = &d
		}
		article.Cluster = status
		m.audit = append(m.audit, auditRow{assignment: a, method: method})
	}
	return nil
}

func (m *memStore) SelectKnowledgeFeed(ctx context.Context, cursor domain.FeedCursor, limit int) ([]domain.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Article
	for _, a := range m.articles {
		if a.Classification == nil || !a.Classification.Ready || a.Cluster == nil {
			continue
		}
		if !a.Cluster.IsCentroid && a.Cluster.Label != domain.NoiseLabel {
			continue
		}
		at := a.Classification.ClassifiedAt
		if at.Before(cursor.ClassifiedAt) {
			continue
		}
		if at.Equal(cursor.ClassifiedAt) && a.ID <= cursor.ID {
			continue
		}
		out = append(out, copyArticle(a))
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Classification.ClassifiedAt, out[j].Classification.ClassifiedAt
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) WipeClustering(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.articles {
		a.Cluster = nil
	}
	m.audit = nil
	return nil
}

func (m *memStore) VerifyProjection(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest := make(map[int64]domain.Assignment)
	for _, row := range m.audit {
		latest[row.assignment.ArticleID] = row.assignment
	}

	var mismatched []int64
	for id, want := range latest {
		a, ok := m.articles[id]
		if !ok || a.Cluster == nil {
			mismatched = append(mismatched, id)
			continue
		}
		got := a.Cluster
		same := got.BatchID == want.BatchID && got.Label == want.Label && got.IsCentroid == want.IsCentroid
		switch {
		case got.Distance == nil && want.Distance != nil,
			got.Distance != nil && want.Distance == nil:
			same = false
		case got.Distance != nil && want.Distance != nil && *got.Distance != *want.Distance:
			same = false
		}
		if !same {
			mismatched = append(mismatched, id)
		}
	}

	sort.Slice(mismatched, func(i, j int) bool { return mismatched[i] < mismatched[j] })
	return mismatched, nil
}

func (m *memStore) Stats(ctx context.Context, since time.Time) (domain.ProcessingStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats domain.ProcessingStats
	for _, a := range m.articles {
		if a.FetchedAt.Before(since) {
			continue
		}
		stats.Total++
		if c := a.Classification; c != nil {
			stats.Classified++
			switch c.Label {
			case domain.LabelFactual:
				stats.Factual++
			case domain.LabelOpinion:
				stats.Opinion++
			case domain.LabelSlop:
				stats.Slop++
			}
			if c.Ready {
				stats.Ready++
			}
		}
		if cl := a.Cluster; cl != nil {
			stats.Clustered++
			if cl.IsCentroid {
				stats.Centroids++
			}
			if cl.Label == domain.NoiseLabel {
				stats.Noise++
			}
		}
	}
	return stats, nil
}

func (m *memStore) RecordJobRun(ctx context.Context, run domain.JobRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) FinishJobRun(ctx context.Context, id uuid.UUID, status, detail string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == id {
			t := finishedAt
			m.runs[i].Status = status
			m.runs[i].Detail = detail
			m.runs[i].FinishedAt = &t
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) LastJobRun(ctx context.Context, kind string) (domain.JobRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Kind == kind {
			return m.runs[i], nil
		}
	}
	return domain.JobRun{}, domain.ErrNotFound
}

func (m *memStore) auditRows() []auditRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]auditRow(nil), m.audit...)
}

func (m *memStore) jobRuns() []domain.JobRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobRun(nil), m.runs...)
}

func sourceExcluded(source string, excluded []string) bool {
	for _, prefix := range excluded {
		if strings.HasPrefix(source, prefix) {
			return true
		}
	}
	return false
}

func sortByID(articles []domain.Article) {
	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
}

func copyArticle(a *domain.Article) domain.Article {
	if a == nil {
		return domain.Article{}
	}
	out := *a
	if a.Classification != nil {
		c := *a.Classification
		out.Classification = &c
	}
	if a.Cluster != nil {
		cl := *a.Cluster
		if a.Cluster.Distance != nil {
			d := *a.Cluster.Distance
			cl.Distance = &d
		}
		out.Cluster = &cl
	}
	return out
}

// stubClassifier answers by title. Unknown titles get a factual verdict.
type stubClassifier struct {
	mu       sync.Mutex
	verdicts map[string]domain.Prediction
	failing  map[string]bool
	calls    []string
}

var _ ports.Classifier = (*stubClassifier)(nil)

func newStubClassifier() *stubClassifier {
	return &stubClassifier{
		verdicts: make(map[string]domain.Prediction),
		failing:  make(map[string]bool),
	}
}

func (s *stubClassifier) Classify(ctx context.Context, title, summary string) (domain.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, title)
	if s.failing[title] {
		return domain.Prediction{}, fmt.Errorf("classifier unavailable")
	}
	if p, ok := s.verdicts[title]; ok {
		return p, nil
	}
	return domain.Prediction{Label: domain.LabelFactual, Confidence: 0.9, ModelVersion: "clf-v1"}, nil
}

// stubEmbedder returns seeded vectors by exact input text and records
// every input it receives.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failing map[string]bool
	inputs  []string
	model   string
}

var _ ports.Embedder = (*stubEmbedder)(nil)

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors: make(map[string][]float32),
		failing: make(map[string]bool),
		model:   "stub-model",
	}
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		s.inputs = append(s.inputs, text)
		if s.failing[text] {
			return nil, fmt.Errorf("embedder unavailable")
		}
		v, ok := s.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector seeded for %q", text)
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEmbedder) Model() string {
	return s.model
}

func (s *stubEmbedder) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inputs...)
}

// stubNotifier records alerts.
type stubNotifier struct {
	mu       sync.Mutex
	messages []string
}

var _ ports.Notifier = (*stubNotifier)(nil)

func (s *stubNotifier) Notify(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return nil
}

func (s *stubNotifier) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}
