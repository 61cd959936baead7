package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// NoiseLabel is the reserved cluster label for articles that did not
// group with any other article in their batch.
const NoiseLabel = -1

// Assignment is one clustering decision for one article. An article
// matched into a previously established cluster carries that cluster's
// historical batch id; members of a new cluster share the batch id
// minted for their bucket; noise demotions share the batch id minted
// once per run.
type Assignment struct {
	ArticleID  int64
	BatchID    uuid.UUID
	Label      int
	IsCentroid bool
	Distance   *float64
}

// ValidateAssignments checks the structural guarantees one bucket's
// decisions must satisfy before anything is written: each article
// appears at most once, batch ids are set, noise rows carry neither a
// centroid flag nor a distance, and any (batch, label) pair has at most
// one centroid with distance exactly zero. A violation is a programming
// error and the whole bucket must be abandoned.
func ValidateAssignments(assignments []Assignment) error {
	type clusterKey struct {
		batch uuid.UUID
		label int
	}

	seen := make(map[int64]bool, len(assignments))
	centroids := make(map[clusterKey]int64)

	for _, a := range assignments {
		if seen[a.ArticleID] {
			return fmt.Errorf("%w: article %d assigned twice", ErrInvariant, a.ArticleID)
		}
		seen[a.ArticleID] = true

		if a.BatchID == uuid.Nil {
			return fmt.Errorf("%w: article %d has no batch id", ErrInvariant, a.ArticleID)
		}

		if a.Label == NoiseLabel {
			if a.IsCentroid {
				return fmt.Errorf("%w: noise article %d flagged as centroid", ErrInvariant, a.ArticleID)
			}
			if a.Distance != nil {
				return fmt.Errorf("%w: noise article %d has a distance", ErrInvariant, a.ArticleID)
			}
			continue
		}

		if a.Label < 0 {
			return fmt.Errorf("%w: article %d has invalid label %d", ErrInvariant, a.ArticleID, a.Label)
		}
		if a.Distance == nil {
			return fmt.Errorf("%w: article %d in cluster %d has no distance", ErrInvariant, a.ArticleID, a.Label)
		}

		if a.IsCentroid {
			if *a.Distance != 0 {
				return fmt.Errorf("%w: centroid %d has distance %g", ErrInvariant, a.ArticleID, *a.Distance)
			}
			key := clusterKey{batch: a.BatchID, label: a.Label}
			if prev, ok := centroids[key]; ok {
				return fmt.Errorf("%w: articles %d and %d both centroid for batch %s label %d",
					ErrInvariant, prev, a.ArticleID, a.BatchID, a.Label)
			}
			centroids[key] = a.ArticleID
		}
	}

	return nil
}
