package testutil

import (
	"math"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with values in [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// UniformPoints returns num points of dimension dim with values in [0, 1),
// stored row-major in one slice.
func (r *RNG) UniformPoints(num, dim int) []float32 {
	data := make([]float32, num*dim)
	r.FillUniform(data)
	return data
}

// GaussianPoints returns num standard-normal points of dimension dim, row-major.
func (r *RNG) GaussianPoints(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range data {
		data[i] = float32(r.rand.NormFloat64())
	}
	return data
}

// Centers returns clusters well separated centers of dimension dim.
// Center c sits at distance 10*(c+1) from the origin along a random direction.
func (r *RNG) Centers(clusters, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, clusters*dim)
	for c := range clusters {
		row := data[c*dim : (c+1)*dim]
		var norm float64
		for j := range row {
			v := r.rand.NormFloat64()
			row[j] = float32(v)
			norm += v * v
		}
		if norm == 0 {
			norm = 1
		}
		scale := float32(10 * float64(c+1) / math.Sqrt(norm))
		for j := range row {
			row[j] *= scale
		}
	}
	return data
}

// ClusteredPoints generates num points around clusters random centers with
// Gaussian noise of the given spread. Point i belongs to cluster i%clusters,
// which is returned in labels.
func (r *RNG) ClusteredPoints(num, dim, clusters int, spread float32) (points []float32, labels []int) {
	centers := r.Centers(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	points = make([]float32, num*dim)
	labels = make([]int, num)
	for i := range num {
		c := i % clusters
		labels[i] = c
		center := centers[c*dim : (c+1)*dim]
		row := points[i*dim : (i+1)*dim]
		for j := range row {
			row[j] = center[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return points, labels
}

// Samples returns n samples of a sine tone mixed with noise, in [-1, 1].
// Useful as synthetic audio.
func (r *RNG) Samples(n int, freq, sampleRate float64) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float32, n)
	for i := range out {
		v := 0.6*math.Sin(2*math.Pi*freq*float64(i)/sampleRate) + 0.1*(r.rand.Float64()*2-1)
		out[i] = float32(v)
	}
	return out
}

// BruteForceAssign returns the index of the nearest centroid for every point,
// with the lowest index winning ties.
func BruteForceAssign(points, centroids []float32, dim int) []int32 {
	n := len(points) / dim
	k := len(centroids) / dim

	out := make([]int32, n)
	for i := range n {
		p := points[i*dim : (i+1)*dim]
		best, bestDist := 0, math.Inf(1)
		for c := range k {
			var d float64
			for j, v := range centroids[c*dim : (c+1)*dim] {
				diff := float64(p[j]) - float64(v)
				d += diff * diff
			}
			if d < bestDist {
				best, bestDist = c, d
			}
		}
		out[i] = int32(best)
	}
	return out
}

// Purity returns the fraction of points whose predicted cluster agrees with the
// majority label of that cluster.
func Purity(labels []int, assign []int32) float64 {
	if len(labels) == 0 {
		return 1
	}
	counts := make(map[int32]map[int]int)
	for i, a := range assign {
		if counts[a] == nil {
			counts[a] = make(map[int]int)
		}
		counts[a][labels[i]]++
	}

	hits := 0
	for _, byLabel := range counts {
		best := 0
		for _, n := range byLabel {
			best = max(best, n)
		}
		hits += best
	}
	return float64(hits) / float64(len(labels))
}
