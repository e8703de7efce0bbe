package codebook

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hupe1980/speechunit/distance"
	"github.com/hupe1980/speechunit/internal/mem"
)

// Backend selects how nearest-centroid assignment is computed.
type Backend int

const (
	// Accelerated computes distances with chunked BLAS matrix products.
	Accelerated Backend = iota
	// Host computes distances point by point with bounded memory.
	Host
)

func (b Backend) String() string {
	switch b {
	case Accelerated:
		return "accelerated"
	case Host:
		return "host"
	default:
		return fmt.Sprintf("Backend(%d)", int(b))
	}
}

// DefaultChunkRows bounds the rows of one GEMM call in the accelerated backend.
const DefaultChunkRows = 4096

// Assigner maps points to their nearest centroid. It is safe for concurrent use.
type Assigner struct {
	cb *Codebook
	// mean is the centroid mean. The accelerated backend works on points and
	// centroids translated by -mean, which keeps ||c||² - 2·x·c well
	// conditioned for data far from the origin.
	mean      []float32
	centered  []float32 // k*dim centroids minus mean
	norms     []float32 // squared L2 norm per centered centroid
	chunkRows int
}

// NewAssigner precomputes the centered centroids and their norms for cb.
func NewAssigner(cb *Codebook) *Assigner {
	k, dim := cb.k, cb.dim
	sum := make([]float64, dim)
	for j := 0; j < k; j++ {
		for d, v := range cb.Centroid(j) {
			sum[d] += float64(v)
		}
	}
	mean := make([]float32, dim)
	for d := range mean {
		mean[d] = float32(sum[d] / float64(k))
	}

	centered := mem.AllocFloat32(k * dim)
	norms := make([]float32, k)
	for j := 0; j < k; j++ {
		c := centered[j*dim : (j+1)*dim]
		subInto(c, cb.Centroid(j), mean)
		norms[j] = distance.Dot(c, c)
	}
	return &Assigner{cb: cb, mean: mean, centered: centered, norms: norms, chunkRows: DefaultChunkRows}
}

func subInto(dst, x, y []float32) {
	for i := range dst {
		dst[i] = x[i] - y[i]
	}
}

// Codebook returns the codebook the assigner was built from.
func (a *Assigner) Codebook() *Codebook { return a.cb }

// ScratchBytes estimates the extra memory the accelerated backend needs to
// assign n points: one chunk of dot products and one chunk of centered rows.
func (a *Assigner) ScratchBytes(n int) int64 {
	rows := min(n, a.chunkRows)
	return int64(rows) * int64(a.cb.k+a.cb.dim) * 4
}

// Nearest returns the index of the centroid closest to v.
func (a *Assigner) Nearest(v []float32) int {
	best := 0
	bestDist := float32(math.MaxFloat32)
	for j := 0; j < a.cb.k; j++ {
		d := distance.SquaredL2(v, a.cb.Centroid(j))
		if d < bestDist {
			bestDist = d
			best = j
		}
	}
	return best
}

// Assign writes the nearest centroid index of every point into dst and returns it.
// points holds len(points)/Dim consecutive vectors. dst is grown when too small.
func (a *Assigner) Assign(points []float32, dst []int32, backend Backend) ([]int32, error) {
	dim := a.cb.dim
	if len(points)%dim != 0 {
		return nil, &DimensionMismatchError{Expected: dim, Actual: len(points)}
	}
	n := len(points) / dim
	if cap(dst) < n {
		dst = make([]int32, n)
	}
	dst = dst[:n]

	switch backend {
	case Host:
		for i := 0; i < n; i++ {
			dst[i] = int32(a.Nearest(points[i*dim : (i+1)*dim]))
		}
	case Accelerated:
		a.assignGemm(points, dst)
	default:
		return nil, fmt.Errorf("codebook: unknown backend %v", backend)
	}
	return dst, nil
}

// assignGemm ranks centroids by ||c||² - 2·x·c on mean-centered data, which
// orders them like the squared L2 distance because ||x||² is constant per
// row. The two best candidates are re-ranked with the exact distance used by
// Host, so both backends agree unless the GEMM ranking misses the winner
// entirely.
func (a *Assigner) assignGemm(points []float32, dst []int32) {
	dim, k := a.cb.dim, a.cb.k
	n := len(dst)
	rowsPerChunk := min(n, a.chunkRows)
	dots := mem.AllocFloat32(rowsPerChunk * k)
	xs := mem.AllocFloat32(rowsPerChunk * dim)

	for start := 0; start < n; start += rowsPerChunk {
		rows := min(rowsPerChunk, n-start)
		src := points[start*dim : (start+rows)*dim]
		for i := 0; i < rows; i++ {
			subInto(xs[i*dim:(i+1)*dim], src[i*dim:(i+1)*dim], a.mean)
		}
		blas32.Gemm(
			blas.NoTrans, blas.Trans,
			1,
			blas32.General{Rows: rows, Cols: dim, Stride: dim, Data: xs[:rows*dim]},
			blas32.General{Rows: k, Cols: dim, Stride: dim, Data: a.centered},
			0,
			blas32.General{Rows: rows, Cols: k, Stride: k, Data: dots[:rows*k]},
		)

		for i := 0; i < rows; i++ {
			best, second := top2(dots[i*k:(i+1)*k], a.norms)
			if second >= 0 {
				x := src[i*dim : (i+1)*dim]
				d1 := distance.SquaredL2(x, a.cb.Centroid(best))
				d2 := distance.SquaredL2(x, a.cb.Centroid(second))
				if d2 < d1 || (d2 == d1 && second < best) {
					best = second
				}
			}
			dst[start+i] = int32(best)
		}
	}
}

// top2 returns the indexes of the two lowest norms[j] - 2*dots[j] scores.
// second is -1 when there is only one centroid.
func top2(dots, norms []float32) (best, second int) {
	best, second = 0, -1
	bestScore := norms[0] - 2*dots[0]
	secondScore := float32(math.MaxFloat32)
	for j := 1; j < len(dots); j++ {
		score := norms[j] - 2*dots[j]
		switch {
		case score < bestScore:
			second, secondScore = best, bestScore
			best, bestScore = j, score
		case second < 0 || score < secondScore:
			second, secondScore = j, score
		}
	}
	return best, second
}

// DefaultHostThreshold is the point count above which Choose always picks Host.
const DefaultHostThreshold = 50000

// Reserver reserves scratch memory for the accelerated backend.
// *resource.Controller satisfies it.
type Reserver interface {
	TryAcquireMemory(bytes int64) bool
	ReleaseMemory(bytes int64)
}

// Choose picks the backend for assigning n points split over shards workers.
// More than hostThreshold points (when hostThreshold > 0) go to Host; otherwise
// Accelerated is used if r can reserve its scratch memory, else Host. The
// returned release func must be called once assignment is done.
func (a *Assigner) Choose(n, shards, hostThreshold int, r Reserver) (Backend, func()) {
	noop := func() {}
	if hostThreshold > 0 && n > hostThreshold {
		return Host, noop
	}
	if r == nil {
		return Accelerated, noop
	}
	shards = max(shards, 1)
	per := (n + shards - 1) / shards
	bytes := int64(shards) * a.ScratchBytes(per)
	if !r.TryAcquireMemory(bytes) {
		return Host, noop
	}
	return Accelerated, func() { r.ReleaseMemory(bytes) }
}
