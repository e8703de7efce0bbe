package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// ErrUnknownPath is returned by MemorySource for paths it does not hold.
var ErrUnknownPath = errors.New("feature: unknown path")

// MemorySource serves precomputed embeddings keyed by path.
// It is safe for concurrent use.
type MemorySource struct {
	dim   int
	mu    sync.RWMutex
	items map[string][]float32
	calls atomic.Int64
}

// NewMemorySource returns an empty source of row dimension dim.
func NewMemorySource(dim int) *MemorySource {
	return &MemorySource{dim: dim, items: make(map[string][]float32)}
}

// Add stores the rows for path.
func (m *MemorySource) Add(path string, rows []float32) error {
	if len(rows)%m.dim != 0 {
		return fmt.Errorf("feature: %d values do not form rows of dimension %d", len(rows), m.dim)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[path] = slices.Clone(rows)
	return nil
}

// Files returns every stored path as a File, sorted by path.
func (m *MemorySource) Files() []File {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := make([]File, 0, len(m.items))
	for p := range m.items {
		files = append(files, File{ID: FileID(p), Path: p, Rel: p})
	}
	slices.SortFunc(files, func(a, b File) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return files
}

// Calls returns the number of Embed calls.
func (m *MemorySource) Calls() int64 { return m.calls.Load() }

// Embed implements Source.
func (m *MemorySource) Embed(ctx context.Context, b Batch) (*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	t := NewTensor(m.dim)
	for i, p := range b.Paths {
		rows, ok := m.items[p]
		if !ok {
			return nil, &ExtractionError{ID: b.IDs[i], Path: p, Err: ErrUnknownPath}
		}
		if err := t.Append(rows); err != nil {
			return nil, err
		}
	}
	return t, nil
}
