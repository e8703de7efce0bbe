package clustering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/hupe1980/speechunit/checkpoint"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/codec"
	"github.com/hupe1980/speechunit/feature"
	ifs "github.com/hupe1980/speechunit/internal/fs"
	"github.com/hupe1980/speechunit/internal/kmeans"
	"github.com/hupe1980/speechunit/metrics"
)

// Result is the outcome of a training run.
type Result struct {
	Codebook *codebook.Codebook
	// Iterations is the iteration counter at exit, including resumed ones.
	Iterations int
	LastDiff   float64
	Converged  bool
	// NumItems is the number of points assigned in the final pass.
	NumItems int64
	// EmptyClusters holds the clusters that received no point in the final pass.
	EmptyClusters *roaring.Bitmap
	// Resumed reports whether the run started from a checkpoint.
	Resumed bool
}

// Trainer drives k-means training. A Trainer is not safe for concurrent use;
// Run may be called again to continue from the last checkpoint.
type Trainer struct {
	cfg    Config
	src    feature.Source
	loader feature.Loader
	opts   options
}

// NewTrainer validates cfg and returns a trainer that embeds the batches of
// loader with src.
func NewTrainer(cfg Config, src feature.Source, loader feature.Loader, optFns ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || loader == nil {
		return nil, fmt.Errorf("%w: source and loader are required", ErrInvalidConfig)
	}

	opts := options{
		metrics: metrics.Noop{},
		fs:      ifs.Default,
		codec:   codec.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.start != nil && opts.start.K() != cfg.K {
		return nil, fmt.Errorf("%w: start codebook has %d centroids, k is %d", ErrInvalidConfig, opts.start.K(), cfg.K)
	}
	if opts.runID == "" {
		opts.runID = uuid.NewString()
	}
	if opts.args == nil {
		opts.args = cfg
	}

	return &Trainer{cfg: cfg, src: src, loader: loader, opts: opts}, nil
}

// Checkpoints returns the checkpoint manager for the save directory.
func (t *Trainer) Checkpoints() *checkpoint.Manager {
	return checkpoint.NewManager(t.cfg.SaveDir, func(o *checkpoint.Options) {
		o.FileSystem = t.opts.fs
		o.Codec = t.opts.codec
		o.Compression = t.cfg.Compression
		o.SaveLast = t.cfg.SaveLast
		o.Mirror = t.opts.mirror
		o.MirrorPrefix = t.opts.mirrorPrefix
		o.Logger = t.opts.logger
	})
}

func (t *Trainer) log() *slog.Logger {
	if t.opts.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t.opts.logger
}

// state is the centroid set and convergence bookkeeping between iterations.
type state struct {
	cb       *codebook.Codebook
	iter     int
	lastDiff float64
	resumed  bool
}

// Run trains until lastDiff < Epsilon or the iteration counter reaches MaxIter.
// Cancellation is checked between batches.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	logger := t.log()

	var (
		mgr *checkpoint.Manager
		rl  *runLog
	)
	if t.cfg.SaveDir != "" {
		mgr = t.Checkpoints()
	}
	if t.cfg.Save {
		lock, err := ifs.LockDir(t.cfg.SaveDir)
		if err != nil {
			return nil, err
		}
		defer func() { _ = lock.Unlock() }()

		if err := t.writeArgs(); err != nil {
			return nil, err
		}
	}
	if t.cfg.SaveDir != "" {
		var err error
		if rl, err = openRunLog(t.opts.fs, t.cfg.SaveDir); err != nil {
			return nil, err
		}
		defer func() { _ = rl.Close() }()
	}

	st, err := t.init(ctx, mgr)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Codebook:      st.cb,
		Iterations:    st.iter,
		LastDiff:      st.lastDiff,
		EmptyClusters: roaring.New(),
		Resumed:       st.resumed,
	}
	if st.resumed && st.lastDiff < t.cfg.Epsilon {
		logger.Info("checkpoint already converged", "iteration", st.iter, "last_diff", st.lastDiff)
		res.Converged = true
		return res, nil
	}

	for st.iter < t.cfg.MaxIter {
		start := time.Now()

		stats, err := t.pass(ctx, st.cb)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", st.iter+1, err)
		}
		step, err := kmeans.Step(st.cb, stats)
		if err != nil {
			return nil, err
		}

		st.iter++
		elapsed := time.Since(start)
		items := stats.Total()

		if err := rl.iteration(st.iter, elapsed, items, step.LastDiff); err != nil {
			return nil, fmt.Errorf("clustering: write run log: %w", err)
		}
		logger.Info("iteration done",
			"iteration", st.iter,
			"seconds", elapsed.Seconds(),
			"items", items,
			"last_diff", step.LastDiff,
			"empty_clusters", len(step.Empty),
		)
		t.opts.metrics.RecordIteration(st.iter, elapsed, items, step.LastDiff, len(step.Empty))

		if t.cfg.Save {
			if err := t.save(ctx, mgr, rl, step, st.iter); err != nil {
				return nil, err
			}
		}

		st.cb = step.Codebook
		st.lastDiff = step.LastDiff

		res.Codebook = st.cb
		res.Iterations = st.iter
		res.LastDiff = st.lastDiff
		res.NumItems = items
		res.EmptyClusters = roaring.BitmapOf(step.Empty...)

		if st.lastDiff < t.cfg.Epsilon {
			res.Converged = true
			break
		}
	}

	if t.opts.start != nil {
		logger.Info("clusters with zero assigned points", "count", res.EmptyClusters.GetCardinality())
	}
	return res, nil
}

// pass embeds every batch once and accumulates assignment statistics.
func (t *Trainer) pass(ctx context.Context, cb *codebook.Codebook) (*kmeans.Stats, error) {
	stats := kmeans.NewStats(cb.K(), cb.Dim())
	assigner := codebook.NewAssigner(cb)

	for i := range t.loader.Len() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		points, _, err := t.embed(ctx, t.loader.Batch(i), cb.Dim())
		if err != nil {
			return nil, err
		}

		backend, release := t.backend(assigner, len(points)/cb.Dim())
		err = kmeans.Reduce(ctx, assigner, points, backend, t.cfg.Devices, stats)
		release()
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (t *Trainer) backend(a *codebook.Assigner, n int) (codebook.Backend, func()) {
	if t.opts.backend != nil {
		return *t.opts.backend, func() {}
	}
	return a.Choose(n, t.cfg.Devices, 0, t.opts.resources)
}

// embed returns the points of batch b and their dimension. dim is the
// expected point dimension, or 0 when it is not known yet.
func (t *Trainer) embed(ctx context.Context, b feature.Batch, dim int) ([]float32, int, error) {
	start := time.Now()
	tensor, err := t.src.Embed(ctx, b)
	if err != nil {
		t.opts.metrics.RecordExtraction(time.Since(start), 0, err)
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		var ee *feature.ExtractionError
		if !errors.As(err, &ee) {
			err = feature.BatchError(b, err)
		}
		return nil, 0, err
	}
	if err := tensor.Validate(); err != nil {
		t.opts.metrics.RecordExtraction(time.Since(start), 0, err)
		return nil, 0, feature.BatchError(b, err)
	}
	t.opts.metrics.RecordExtraction(time.Since(start), tensor.Frames(), nil)

	points, d, err := tensor.Points(t.cfg.NGroup)
	if err != nil {
		return nil, 0, err
	}
	if dim != 0 && d != dim {
		return nil, 0, &codebook.DimensionMismatchError{Expected: dim, Actual: d}
	}
	return points, d, nil
}

// init resolves the starting state by precedence: explicit codebook, last
// checkpoint, sampled points.
func (t *Trainer) init(ctx context.Context, mgr *checkpoint.Manager) (*state, error) {
	logger := t.log()

	if t.opts.start != nil {
		logger.Info("starting from explicit codebook", "k", t.opts.start.K(), "dim", t.opts.start.Dim())
		return &state{cb: t.opts.start.Clone(), lastDiff: math.Inf(1)}, nil
	}

	if t.cfg.Load && mgr != nil {
		ck, path, err := mgr.LoadLast(ctx)
		switch {
		case err == nil:
			if ck.Codebook.K() != t.cfg.K {
				return nil, fmt.Errorf("%w: checkpoint %s has %d centroids, k is %d", ErrInvalidConfig, path, ck.Codebook.K(), t.cfg.K)
			}
			logger.Info("resuming from checkpoint",
				"path", path,
				"iteration", ck.Iteration,
				"last_diff", ck.LastDiff,
			)
			return &state{cb: ck.Codebook, iter: ck.Iteration, lastDiff: ck.LastDiff, resumed: true}, nil
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			logger.Info("no checkpoint to resume, sampling initial centroids", "dir", t.cfg.SaveDir)
		default:
			return nil, err
		}
	}

	cb, err := t.sample(ctx)
	if err != nil {
		return nil, err
	}
	return &state{cb: cb, lastDiff: math.Inf(1)}, nil
}

// sample draws K initial centroids from the points of the first K+1 batches.
func (t *Trainer) sample(ctx context.Context) (*codebook.Codebook, error) {
	var (
		points []float32
		dim    int
	)
	nb := min(t.cfg.K+1, t.loader.Len())
	for i := range nb {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, d, err := t.embed(ctx, t.loader.Batch(i), dim)
		if err != nil {
			return nil, err
		}
		dim = d
		points = append(points, p...)
	}

	have := 0
	if dim > 0 {
		have = len(points) / dim
	}
	if have < t.cfg.K {
		return nil, &InsufficientDataError{Want: t.cfg.K, Have: have}
	}

	rng := rand.New(rand.NewSource(t.cfg.Seed))
	cb, err := kmeans.SampleInitial(points, dim, t.cfg.K, rng)
	if errors.Is(err, kmeans.ErrTooFewPoints) {
		return nil, &InsufficientDataError{Want: t.cfg.K, Have: have}
	}
	if err != nil {
		return nil, err
	}
	t.log().Info("sampled initial centroids", "k", t.cfg.K, "dim", dim, "points", have, "batches", nb)
	return cb, nil
}

func (t *Trainer) save(ctx context.Context, mgr *checkpoint.Manager, rl *runLog, step *kmeans.StepResult, iter int) error {
	ck := &checkpoint.Checkpoint{
		Codebook:  step.Codebook,
		Iteration: iter,
		LastDiff:  step.LastDiff,
		NGroup:    t.cfg.NGroup,
		Meta: checkpoint.Meta{
			RunID:     t.opts.runID,
			Seed:      t.cfg.Seed,
			CreatedAt: time.Now().UTC(),
			Source:    t.opts.source,
			Layer:     t.cfg.Layer,
		},
	}

	start := time.Now()
	sr, err := mgr.Save(ctx, ck)
	if err != nil {
		t.opts.metrics.RecordCheckpoint(time.Since(start), 0, err)
		return fmt.Errorf("clustering: save checkpoint %d: %w", iter, err)
	}
	t.opts.metrics.RecordCheckpoint(time.Since(start), sr.Bytes, nil)

	if err := rl.saving(sr.LastPath); err != nil {
		return fmt.Errorf("clustering: write run log: %w", err)
	}
	t.log().Debug("checkpoint saved",
		"path", sr.LastPath,
		"bytes", sr.Bytes,
		"removed", sr.Removed,
	)
	return nil
}

func (t *Trainer) writeArgs() error {
	data, err := codec.MarshalIndent(t.opts.codec, t.opts.args)
	if err != nil {
		return fmt.Errorf("clustering: encode args: %w", err)
	}
	path := filepath.Join(t.cfg.SaveDir, checkpoint.ArgsName)
	return ifs.WriteFileAtomic(t.opts.fs, path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
