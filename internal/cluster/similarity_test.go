package cluster

import (
	"math"
	"testing"

	"NewsRefinery/internal/domain"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "scaled", a: []float32{1, 2, 3}, b: []float32{2, 4, 6}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "halfway", a: []float32{1, 0, 0, 0}, b: []float32{1, 1, 1, 1}, want: 0.5},
		{name: "length mismatch", a: []float32{1, 0}, b: []float32{1, 0, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tc := range cases {
		got := CosineSimilarity(tc.a, tc.b)
		if math.Abs(float64(got-tc.want)) > 1e-6 {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestTitleTextTrimsWhitespace(t *testing.T) {
	t.Parallel()

	a := domain.Article{Title: "  Fed Holds Rates Steady \n", Summary: "never embedded"}
	if got := TitleText(a); got != "Fed Holds Rates Steady" {
		t.Fatalf("unexpected projection: %q", got)
	}
}
