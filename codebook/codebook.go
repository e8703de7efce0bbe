package codebook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/speechunit/internal/mem"
)

var (
	// ErrInvalidShape is returned when k or dim is not positive or the data
	// length does not equal k*dim.
	ErrInvalidShape = errors.New("codebook: invalid shape")
)

// DimensionMismatchError indicates that an embedding dimension is incompatible
// with the centroid dimension.
type DimensionMismatchError struct {
	Expected int // centroid dimension
	Actual   int // embedding dimension
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: embedding dimension %d is not a positive multiple of centroid dimension %d", e.Actual, e.Expected)
}

// Codebook is an ordered set of k centroids in R^dim.
type Codebook struct {
	k    int
	dim  int
	data []float32
}

// New returns a zero-valued codebook with k centroids of dimension dim.
func New(k, dim int) (*Codebook, error) {
	if k < 1 || dim < 1 {
		return nil, fmt.Errorf("%w: k=%d dim=%d", ErrInvalidShape, k, dim)
	}
	return &Codebook{k: k, dim: dim, data: mem.AllocFloat32(k * dim)}, nil
}

// FromData returns a codebook holding a copy of data, laid out as k rows of dim.
func FromData(k, dim int, data []float32) (*Codebook, error) {
	if k < 1 || dim < 1 || len(data) != k*dim {
		return nil, fmt.Errorf("%w: k=%d dim=%d len=%d", ErrInvalidShape, k, dim, len(data))
	}
	return &Codebook{k: k, dim: dim, data: slices.Clone(data)}, nil
}

// FromRows builds a codebook from equally sized centroid rows.
func FromRows(rows [][]float32) (*Codebook, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%w: empty rows", ErrInvalidShape)
	}
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d", ErrInvalidShape, i, len(r), dim)
		}
		data = append(data, r...)
	}
	return &Codebook{k: len(rows), dim: dim, data: data}, nil
}

// K returns the number of centroids.
func (c *Codebook) K() int { return c.k }

// Dim returns the centroid dimension.
func (c *Codebook) Dim() int { return c.dim }

// Centroid returns a view of centroid i. The slice must not be modified.
func (c *Codebook) Centroid(i int) []float32 {
	return c.data[i*c.dim : (i+1)*c.dim]
}

// Data returns the flat row-major centroid data. The slice must not be modified.
func (c *Codebook) Data() []float32 { return c.data }

// Clone returns a deep copy.
func (c *Codebook) Clone() *Codebook {
	return &Codebook{k: c.k, dim: c.dim, data: slices.Clone(c.data)}
}

// Groups returns how many centroid-sized sub-vectors an embedding of embDim holds.
func (c *Codebook) Groups(embDim int) (int, error) {
	if embDim < c.dim || embDim%c.dim != 0 {
		return 0, &DimensionMismatchError{Expected: c.dim, Actual: embDim}
	}
	return embDim / c.dim, nil
}
