package kmeans

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/distance"
)

// ErrTooFewPoints is returned by SampleInitial when there are fewer points than clusters.
var ErrTooFewPoints = errors.New("kmeans: fewer points than clusters")

// StepResult is the outcome of one update.
type StepResult struct {
	Codebook *codebook.Codebook
	// LastDiff is the largest Euclidean distance any centroid moved.
	LastDiff float64
	// Empty lists the clusters that received no point; they keep their previous centroid.
	Empty []uint32
}

// Step computes the next codebook from prev and the statistics of a full pass.
func Step(prev *codebook.Codebook, s *Stats) (*StepResult, error) {
	k, dim := prev.K(), prev.Dim()
	if s.K != k || s.Dim != dim {
		return nil, fmt.Errorf("%w: codebook %dx%d vs stats %dx%d", ErrShapeMismatch, k, dim, s.K, s.Dim)
	}

	next := make([]float32, k*dim)
	res := &StepResult{}

	for c := 0; c < k; c++ {
		old := prev.Centroid(c)
		row := next[c*dim : (c+1)*dim]

		n := s.Counts[c]
		if n == 0 {
			copy(row, old)
			res.Empty = append(res.Empty, uint32(c))
			continue
		}

		sums := s.Sums[c*dim : (c+1)*dim]
		inv := 1 / float64(n)
		for i, v := range sums {
			row[i] = float32(v * inv)
		}

		if d := float64(distance.Euclidean(old, row)); d > res.LastDiff {
			res.LastDiff = d
		}
	}

	cb, err := codebook.FromData(k, dim, next)
	if err != nil {
		return nil, err
	}
	res.Codebook = cb
	return res, nil
}

// SampleInitial draws k distinct points uniformly with rng and returns them as a codebook.
func SampleInitial(points []float32, dim, k int, rng *rand.Rand) (*codebook.Codebook, error) {
	n := len(points) / dim
	if n < k {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrTooFewPoints, n, k)
	}

	perm := rng.Perm(n)
	data := make([]float32, 0, k*dim)
	for _, idx := range perm[:k] {
		data = append(data, points[idx*dim:(idx+1)*dim]...)
	}
	return codebook.FromData(k, dim, data)
}
