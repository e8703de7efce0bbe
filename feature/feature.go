package feature

import (
	"context"
	"errors"
	"fmt"
)

// Batch is an ordered group of audio files handed to a Source.
type Batch struct {
	IDs   []string
	Paths []string
}

// Len returns the number of items in the batch.
func (b Batch) Len() int { return len(b.Paths) }

// Slice returns items [i, j) as a new Batch sharing the underlying arrays.
func (b Batch) Slice(i, j int) Batch {
	return Batch{IDs: b.IDs[i:j], Paths: b.Paths[i:j]}
}

// Tensor is a ragged batch × frames × Dim embedding block.
// Item i owns Lengths[i] consecutive rows of Data.
type Tensor struct {
	Dim     int
	Lengths []int
	Data    []float32
}

// NewTensor returns an empty tensor of row dimension dim.
func NewTensor(dim int) *Tensor {
	return &Tensor{Dim: dim}
}

// Append adds one item of len(frames)/Dim rows.
func (t *Tensor) Append(frames []float32) error {
	if t.Dim < 1 || len(frames)%t.Dim != 0 {
		return fmt.Errorf("feature: %d values do not form rows of dimension %d", len(frames), t.Dim)
	}
	t.Lengths = append(t.Lengths, len(frames)/t.Dim)
	t.Data = append(t.Data, frames...)
	return nil
}

// Items returns the number of items.
func (t *Tensor) Items() int { return len(t.Lengths) }

// Frames returns the total number of rows.
func (t *Tensor) Frames() int {
	n := 0
	for _, l := range t.Lengths {
		n += l
	}
	return n
}

// Item returns the rows of item i.
func (t *Tensor) Item(i int) []float32 {
	off := 0
	for _, l := range t.Lengths[:i] {
		off += l
	}
	return t.Data[off*t.Dim : (off+t.Lengths[i])*t.Dim]
}

// ErrNoTensor is returned when a source reports success without a tensor.
var ErrNoTensor = errors.New("feature: source returned no tensor")

// Validate checks that Data matches Lengths and Dim. A nil tensor is invalid.
func (t *Tensor) Validate() error {
	if t == nil {
		return ErrNoTensor
	}
	if t.Dim < 1 {
		return fmt.Errorf("feature: invalid tensor dimension %d", t.Dim)
	}
	if want := t.Frames() * t.Dim; len(t.Data) != want {
		return fmt.Errorf("feature: tensor holds %d values, lengths imply %d", len(t.Data), want)
	}
	return nil
}

// Points reinterprets every row as nGroup contiguous points of dimension
// Dim/nGroup. The returned slice aliases Data.
func (t *Tensor) Points(nGroup int) (points []float32, dim int, err error) {
	if nGroup < 1 || t.Dim%nGroup != 0 {
		return nil, 0, fmt.Errorf("feature: dimension %d is not divisible into %d groups", t.Dim, nGroup)
	}
	return t.Data, t.Dim / nGroup, nil
}

// Source produces per-frame embeddings for a batch of audio files.
type Source interface {
	Embed(ctx context.Context, b Batch) (*Tensor, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, b Batch) (*Tensor, error)

// Embed calls f(ctx, b).
func (f SourceFunc) Embed(ctx context.Context, b Batch) (*Tensor, error) {
	return f(ctx, b)
}

// ExtractionError reports an encoder failure on an input.
type ExtractionError struct {
	ID   string
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("feature extraction failed: %v", e.Err)
	}
	return fmt.Sprintf("feature extraction failed for %s (%s): %v", e.ID, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbedFile embeds a single file and returns its rows and dimension.
func EmbedFile(ctx context.Context, src Source, id, path string) ([]float32, int, error) {
	t, err := src.Embed(ctx, Batch{IDs: []string{id}, Paths: []string{path}})
	if err != nil {
		return nil, 0, wrapExtraction(id, path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, 0, &ExtractionError{ID: id, Path: path, Err: err}
	}
	if t.Items() != 1 {
		return nil, 0, &ExtractionError{ID: id, Path: path, Err: fmt.Errorf("source returned %d items for one file", t.Items())}
	}
	return t.Data, t.Dim, nil
}

// BatchError attributes err to the single file of b, or to the whole batch.
func BatchError(b Batch, err error) *ExtractionError {
	if b.Len() == 1 && len(b.IDs) == 1 {
		return &ExtractionError{ID: b.IDs[0], Path: b.Paths[0], Err: err}
	}
	return &ExtractionError{Err: err}
}

func wrapExtraction(id, path string, err error) error {
	var ee *ExtractionError
	if errors.As(err, &ee) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ExtractionError{ID: id, Path: path, Err: err}
}
