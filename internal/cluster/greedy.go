package cluster

import (
	"sort"

	"github.com/google/uuid"
)

// Member is one article prepared for clustering: its id and the vector
// of its title.
type Member struct {
	ArticleID int64
	Vector    []float32
}

// Centroid is an established cluster representative loaded from storage.
type Centroid struct {
	ArticleID int64
	BatchID   uuid.UUID
	Label     int
	Vector    []float32
}

// Match places one member into a previously established cluster. The
// member adopts the centroid's batch id and label.
type Match struct {
	ArticleID int64
	BatchID   uuid.UUID
	Label     int
	Distance  float64
}

// Placement is one member of a newly formed cluster.
type Placement struct {
	ArticleID int64
	Distance  float64
}

// Group is one newly formed cluster: its sequential label, its fixed
// centroid, and every member including the centroid itself.
type Group struct {
	Label      int
	CentroidID int64
	Members    []Placement
}

// MatchCentroids assigns members to the nearest eligible centroid when
// cosine similarity reaches the threshold (inclusive). Both slices are
// sorted in place by ascending article id; between equally similar
// centroids the one with the lowest article id wins. Returns the
// matches and the members left unmatched, both ascending by article id.
func MatchCentroids(members []Member, centroids []Centroid, threshold float64) ([]Match, []Member) {
	sortMembers(members)
	sort.Slice(centroids, func(i, j int) bool { return centroids[i].ArticleID < centroids[j].ArticleID })

	var matches []Match
	var unmatched []Member

	for _, m := range members {
		best := -1
		bestSim := 0.0
		for i := range centroids {
			sim := float64(CosineSimilarity(m.Vector, centroids[i].Vector))
			if sim < threshold {
				continue
			}
			// Strict comparison over ascending ids keeps the lowest id on ties.
			if best == -1 || sim > bestSim {
				best = i
				bestSim = sim
			}
		}

		if best == -1 {
			unmatched = append(unmatched, m)
			continue
		}

		matches = append(matches, Match{
			ArticleID: m.ArticleID,
			BatchID:   centroids[best].BatchID,
			Label:     centroids[best].Label,
			Distance:  1 - bestSim,
		})
	}

	return matches, unmatched
}

// Cluster groups members by greedy title similarity. Members are sorted
// in place and processed in ascending article id order; the first
// member of each cluster is its permanent centroid. A member joins the
// existing cluster whose centroid is most similar at or above the
// threshold (ties by lowest centroid article id), otherwise it founds a
// new cluster with the next sequential label. Clusters left with a
// single member are demoted: their article ids come back as noise.
// Output is identical across runs for identical input.
func Cluster(members []Member, threshold float64) ([]Group, []int64) {
	sortMembers(members)

	type candidate struct {
		group    Group
		centroid []float32
	}
	var formed []candidate

	for _, m := range members {
		best := -1
		bestSim := 0.0
		for i := range formed {
			sim := float64(CosineSimilarity(m.Vector, formed[i].centroid))
			if sim < threshold {
				continue
			}
			if best == -1 || sim > bestSim {
				best = i
				bestSim = sim
			}
		}

		if best == -1 {
			formed = append(formed, candidate{
				group: Group{
					Label:      len(formed),
					CentroidID: m.ArticleID,
					Members:    []Placement{{ArticleID: m.ArticleID, Distance: 0}},
				},
				centroid: m.Vector,
			})
			continue
		}

		formed[best].group.Members = append(formed[best].group.Members, Placement{
			ArticleID: m.ArticleID,
			Distance:  1 - bestSim,
		})
	}

	var groups []Group
	var noise []int64
	for _, c := range formed {
		if len(c.group.Members) < 2 {
			noise = append(noise, c.group.CentroidID)
			continue
		}
		groups = append(groups, c.group)
	}

	return groups, noise
}

func sortMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].ArticleID < members[j].ArticleID })
}
