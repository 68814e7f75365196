// Package matching counts unambiguous descriptor correspondences between two
// images and turns that count into a similarity score.
package matching

import (
	"math"

	"github.com/steakknife/hamming"

	"github.com/example/lostfound/internal/features"
)

// DefaultRatio is Lowe's distance-ratio constant.
const DefaultRatio = 0.75

// Matcher performs brute-force 2-nearest-neighbour matching with a ratio test.
type Matcher struct {
	Ratio float64
}

// NewMatcher returns a matcher using ratio, or DefaultRatio when ratio is not in (0, 1].
func NewMatcher(ratio float64) Matcher {
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultRatio
	}
	return Matcher{Ratio: ratio}
}

// GoodMatches returns how many query descriptors have a nearest candidate
// neighbour strictly closer than Ratio times the second-nearest. Sets that are
// empty, of different families, or of different widths yield zero.
func (m Matcher) GoodMatches(query, candidate features.DescriptorSet) int {
	if query.Empty() || candidate.Empty() {
		return 0
	}
	if query.Family != candidate.Family || query.Dim() != candidate.Dim() {
		return 0
	}
	// A single candidate descriptor has no runner-up to compare against.
	if candidate.Len() < 2 {
		return 0
	}

	good := 0
	switch query.Family {
	case features.FamilyFloat:
		for _, q := range query.Float {
			if d1, d2 := nearestTwo(len(candidate.Float), func(j int) float64 { return euclidean(q, candidate.Float[j]) }); d1 < m.Ratio*d2 {
				good++
			}
		}
	case features.FamilyBinary:
		for _, q := range query.Binary {
			if d1, d2 := nearestTwo(len(candidate.Binary), func(j int) float64 { return float64(hamming.Bytes(q, candidate.Binary[j])) }); d1 < m.Ratio*d2 {
				good++
			}
		}
	}
	return good
}

// nearestTwo returns the smallest and second-smallest of dist(0..n-1).
func nearestTwo(n int, dist func(int) float64) (float64, float64) {
	d1, d2 := math.Inf(1), math.Inf(1)
	for j := 0; j < n; j++ {
		d := dist(j)
		switch {
		case d < d1:
			d1, d2 = d, d1
		case d < d2:
			d2 = d
		}
	}
	return d1, d2
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
