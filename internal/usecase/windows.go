package usecase

import (
	"sort"
	"time"

	"NewsRefinery/internal/domain"
)

// Bucket is one UTC calendar day of ready articles, processed as an
// isolated unit.
type Bucket struct {
	Day      time.Time
	Articles []domain.Article
}

// BucketDay returns the UTC midnight of the day containing the
// article's effective timestamp.
func BucketDay(a domain.Article) time.Time {
	t := a.EffectiveTime().UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PartitionBuckets groups articles into calendar-day buckets, days
// ascending, articles within a bucket ascending by id.
func PartitionBuckets(articles []domain.Article) []Bucket {
	byDay := make(map[time.Time][]domain.Article)
	for _, a := range articles {
		day := BucketDay(a)
		byDay[day] = append(byDay[day], a)
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	buckets := make([]Bucket, 0, len(days))
	for _, day := range days {
		arts := byDay[day]
		sort.Slice(arts, func(i, j int) bool { return arts[i].ID < arts[j].ID })
		buckets = append(buckets, Bucket{Day: day, Articles: arts})
	}

	return buckets
}

// CentroidRange bounds the effective timestamps of centroids eligible
// to match a bucket's articles. Only centroids from buckets strictly
// closer than the window qualify, which with day-aligned buckets caps
// the real publication gap of any matched pair below the window size.
func CentroidRange(day time.Time, window time.Duration) (time.Time, time.Time) {
	days := int(window / (24 * time.Hour))
	if days < 1 {
		days = 1
	}

	from := day.Add(-time.Duration(days-1) * 24 * time.Hour)
	to := day.Add(time.Duration(days) * 24 * time.Hour)
	return from, to
}
