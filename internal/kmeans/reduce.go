package kmeans

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/speechunit/codebook"
)

// Reduce assigns points to their nearest centroid and folds them into dst.
//
// The points are split into at most shards contiguous ranges that run
// concurrently, each into private statistics. Partials are merged into dst in
// shard order, so the result does not depend on scheduling.
func Reduce(ctx context.Context, a *codebook.Assigner, points []float32, backend codebook.Backend, shards int, dst *Stats) error {
	dim := dst.Dim
	if cb := a.Codebook(); cb.K() != dst.K || cb.Dim() != dim {
		return fmt.Errorf("%w: codebook %dx%d vs stats %dx%d", ErrShapeMismatch, cb.K(), cb.Dim(), dst.K, dim)
	}
	if len(points)%dim != 0 {
		return &codebook.DimensionMismatchError{Expected: dim, Actual: len(points)}
	}

	n := len(points) / dim
	if n == 0 {
		return nil
	}
	if shards < 1 {
		shards = 1
	}
	shards = min(shards, n)

	if shards == 1 {
		assign, err := a.Assign(points, nil, backend)
		if err != nil {
			return err
		}
		dst.Accumulate(points, assign)
		return nil
	}

	partials := make([]*Stats, shards)
	per := (n + shards - 1) / shards

	g, ctx := errgroup.WithContext(ctx)
	for s := 0; s < shards; s++ {
		lo := s * per
		hi := min(lo+per, n)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			chunk := points[lo*dim : hi*dim]
			assign, err := a.Assign(chunk, nil, backend)
			if err != nil {
				return err
			}
			p := NewStats(dst.K, dim)
			p.Accumulate(chunk, assign)
			partials[s] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range partials {
		if p == nil {
			continue
		}
		if err := dst.Merge(p); err != nil {
			return err
		}
	}
	return nil
}
