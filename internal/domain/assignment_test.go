package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestValidateAssignmentsAcceptsMixedBucket(t *testing.T) {
	t.Parallel()

	batch := uuid.New()
	noiseBatch := uuid.New()

	assignments := []Assignment{
		{ArticleID: 1, BatchID: batch, Label: 0, IsCentroid: true, Distance: floatPtr(0)},
		{ArticleID: 2, BatchID: batch, Label: 0, Distance: floatPtr(0.12)},
		{ArticleID: 3, BatchID: batch, Label: 1, IsCentroid: true, Distance: floatPtr(0)},
		{ArticleID: 4, BatchID: batch, Label: 1, Distance: floatPtr(0.3)},
		{ArticleID: 5, BatchID: noiseBatch, Label: NoiseLabel},
	}

	if err := ValidateAssignments(assignments); err != nil {
		t.Fatalf("valid bucket rejected: %v", err)
	}
}

func TestValidateAssignmentsRejectsDuplicateArticle(t *testing.T) {
	t.Parallel()

	batch := uuid.New()
	assignments := []Assignment{
		{ArticleID: 7, BatchID: batch, Label: 0, IsCentroid: true, Distance: floatPtr(0)},
		{ArticleID: 7, BatchID: batch, Label: 0, Distance: floatPtr(0.2)},
	}

	err := ValidateAssignments(assignments)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestValidateAssignmentsRejectsMissingBatch(t *testing.T) {
	t.Parallel()

	assignments := []Assignment{
		{ArticleID: 1, Label: 0, IsCentroid: true, Distance: floatPtr(0)},
	}

	if err := ValidateAssignments(assignments); !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestValidateAssignmentsNoiseRules(t *testing.T) {
	t.Parallel()

	batch := uuid.New()

	withFlag := []Assignment{{ArticleID: 1, BatchID: batch, Label: NoiseLabel, IsCentroid: true}}
	if err := ValidateAssignments(withFlag); !errors.Is(err, ErrInvariant) {
		t.Fatalf("noise with centroid flag accepted: %v", err)
	}

	withDistance := []Assignment{{ArticleID: 1, BatchID: batch, Label: NoiseLabel, Distance: floatPtr(0.4)}}
	if err := ValidateAssignments(withDistance); !errors.Is(err, ErrInvariant) {
		t.Fatalf("noise with distance accepted: %v", err)
	}
}

func TestValidateAssignmentsRejectsInvalidLabel(t *testing.T) {
	t.Parallel()

	assignments := []Assignment{
		{ArticleID: 1, BatchID: uuid.New(), Label: -2, Distance: floatPtr(0.1)},
	}

	if err := ValidateAssignments(assignments); !errors.Is(err, ErrInvariant) {
		t.Fatalf("negative non-noise label accepted: %v", err)
	}
}

func TestValidateAssignmentsRejectsMemberWithoutDistance(t *testing.T) {
	t.Parallel()

	assignments := []Assignment{
		{ArticleID: 1, BatchID: uuid.New(), Label: 0},
	}

	if err := ValidateAssignments(assignments); !errors.Is(err, ErrInvariant) {
		t.Fatalf("cluster member without distance accepted: %v", err)
	}
}

func TestValidateAssignmentsCentroidRules(t *testing.T) {
	t.Parallel()

	batch := uuid.New()

	nonzero := []Assignment{
		{ArticleID: 1, BatchID: batch, Label: 0, IsCentroid: true, Distance: floatPtr(0.01)},
	}
	if err := ValidateAssignments(nonzero); !errors.Is(err, ErrInvariant) {
		t.Fatalf("centroid with nonzero distance accepted: %v", err)
	}

	twoCentroids := []Assignment{
		{ArticleID: 1, BatchID: batch, Label: 0, IsCentroid: true, Distance: floatPtr(0)},
		{ArticleID: 2, BatchID: batch, Label: 0, IsCentroid: true, Distance: floatPtr(0)},
	}
	if err := ValidateAssignments(twoCentroids); !errors.Is(err, ErrInvariant) {
		t.Fatalf("two centroids in one cluster accepted: %v", err)
	}
}
