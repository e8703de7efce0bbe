package kmeans

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when statistics of different shapes are combined.
var ErrShapeMismatch = errors.New("kmeans: stats shape mismatch")

// Stats holds per-cluster sufficient statistics: vector sums and point counts.
// Sums are float64 so that long passes do not lose precision.
type Stats struct {
	K      int
	Dim    int
	Sums   []float64 // K*Dim, row-major
	Counts []int64   // K
}

// NewStats returns zeroed statistics for k clusters of dimension dim.
func NewStats(k, dim int) *Stats {
	return &Stats{
		K:      k,
		Dim:    dim,
		Sums:   make([]float64, k*dim),
		Counts: make([]int64, k),
	}
}

// Reset zeroes the statistics in place.
func (s *Stats) Reset() {
	clear(s.Sums)
	clear(s.Counts)
}

// Add folds one point into cluster c.
func (s *Stats) Add(point []float32, c int) {
	row := s.Sums[c*s.Dim : (c+1)*s.Dim]
	for i, v := range point {
		row[i] += float64(v)
	}
	s.Counts[c]++
}

// Accumulate folds consecutive points with their cluster assignments.
func (s *Stats) Accumulate(points []float32, assign []int32) {
	for i, c := range assign {
		s.Add(points[i*s.Dim:(i+1)*s.Dim], int(c))
	}
}

// Merge adds o into s.
func (s *Stats) Merge(o *Stats) error {
	if s.K != o.K || s.Dim != o.Dim {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, s.K, s.Dim, o.K, o.Dim)
	}
	for i, v := range o.Sums {
		s.Sums[i] += v
	}
	for i, n := range o.Counts {
		s.Counts[i] += n
	}
	return nil
}

// Total returns the number of points folded in.
func (s *Stats) Total() int64 {
	var n int64
	for _, c := range s.Counts {
		n += c
	}
	return n
}
