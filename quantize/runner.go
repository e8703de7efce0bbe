package quantize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/speechunit/codec"
	"github.com/hupe1980/speechunit/feature"
	ifs "github.com/hupe1980/speechunit/internal/fs"
)

const (
	// InfoArgsName is the run configuration snapshot written to the output directory.
	InfoArgsName = "_info_args.json"
	// DebugFiles is the number of files quantized in debug mode.
	DebugFiles = 20
)

// ErrNoFiles is returned when nothing is left to quantize.
var ErrNoFiles = errors.New("quantize: no file to be quantized")

// RunConfig configures a Runner.
type RunConfig struct {
	Checkpoint string `json:"checkpoint,omitempty"`
	OutputDir  string `json:"output_dir"`
	Split      string `json:"split,omitempty"`
	Resume     bool   `json:"resume"`
	Debug      bool   `json:"debug"`
	Workers    int    `json:"workers"`
}

// RunResult summarizes a run.
type RunResult struct {
	Output string
	// Selected is the number of files after split and debug selection.
	Selected int
	// Skipped files were already present in the output.
	Skipped int
	Written int
	// Failed holds indexes into the pending file list (selected minus skipped).
	Failed    *roaring.Bitmap
	FailedIDs []string
	Duration  time.Duration
}

// Runner quantizes file lists into an output file.
type Runner struct {
	q      *Quantizer
	cfg    RunConfig
	split  Split
	fs     ifs.FileSystem
	codec  codec.Codec
	args   any
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithInfoArgs sets the value written to _info_args.json. Defaults to the RunConfig.
func WithInfoArgs(v any) RunnerOption {
	return func(r *Runner) { r.args = v }
}

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithFileSystem overrides the file system used for the output.
func WithFileSystem(fsys ifs.FileSystem) RunnerOption {
	return func(r *Runner) {
		if fsys != nil {
			r.fs = fsys
		}
	}
}

// NewRunner validates cfg and returns a runner for q.
func NewRunner(q *Quantizer, cfg RunConfig, opts ...RunnerOption) (*Runner, error) {
	split, err := ParseSplit(cfg.Split)
	if err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("quantize: output directory is required")
	}
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	r := &Runner{
		q:     q,
		cfg:   cfg,
		split: split,
		fs:    ifs.Default,
		codec: codec.Default,
		args:  cfg,
	}
	for _, fn := range opts {
		fn(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r, nil
}

// OutputPath returns the output file path.
func (r *Runner) OutputPath() string {
	return filepath.Join(r.cfg.OutputDir, OutputName(r.split))
}

// Run quantizes files. Per-file failures are logged and reported in the
// result; I/O failures on the output abort the run.
func (r *Runner) Run(ctx context.Context, files []feature.File) (*RunResult, error) {
	start := time.Now()

	if err := r.fs.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return nil, err
	}
	if err := r.writeInfoArgs(); err != nil {
		return nil, err
	}

	files = r.split.Select(files)
	if r.split.Enabled() {
		r.logger.Info("quantizing split", "split", r.split.String(), "files", len(files))
	}
	if r.cfg.Debug {
		files = files[:min(len(files), DebugFiles)]
		r.logger.Info("debug mode, limiting files", "files", len(files))
	}

	out, err := OpenOutput(r.fs, r.OutputPath(), r.cfg.Resume)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	res := &RunResult{Output: out.Path(), Selected: len(files), Failed: roaring.New()}

	pending := files[:0:0]
	for _, f := range files {
		if out.Has(f.ID) {
			res.Skipped++
			continue
		}
		pending = append(pending, f)
	}
	if res.Skipped > 0 {
		r.logger.Info("found existing output, resuming", "skipped", res.Skipped, "left", len(pending))
	}
	if len(pending) == 0 {
		return nil, ErrNoFiles
	}

	if err := r.process(ctx, pending, out, res); err != nil {
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	r.logger.Info("quantization done",
		"files", res.Written,
		"failed", res.Failed.GetCardinality(),
		"seconds", res.Duration.Seconds(),
		"output", res.Output,
	)
	return res, nil
}

type fileResult struct {
	idx  int
	line string
	err  error
}

// process quantizes files on Workers goroutines and writes results in input
// order. At most 4*Workers results are in flight.
func (r *Runner) process(ctx context.Context, files []feature.File, out *Output, res *RunResult) error {
	workers := r.cfg.Workers
	window := semaphore.NewWeighted(int64(4 * workers))
	jobs := make(chan int)
	results := make(chan fileResult, workers)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range files {
			if err := window.Acquire(gctx, 1); err != nil {
				return err
			}
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			rc := r.q.opts.resources
			for i := range jobs {
				if err := rc.AcquireWorker(gctx); err != nil {
					return err
				}
				line, err := r.q.QuantizeFile(gctx, files[i].Path)
				rc.ReleaseWorker()
				select {
				case results <- fileResult{idx: i, line: line, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		held := make(map[int]fileResult)
		next := 0
		for fr := range results {
			held[fr.idx] = fr
			for {
				cur, ok := held[next]
				if !ok {
					break
				}
				delete(held, next)
				if err := r.record(gctx, files[next], cur, out, res); err != nil {
					return err
				}
				window.Release(1)
				next++
			}
		}
		return nil
	})

	return g.Wait()
}

func (r *Runner) record(ctx context.Context, f feature.File, fr fileResult, out *Output, res *RunResult) error {
	if fr.err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("quantization failed", "id", f.ID, "path", f.Path, "error", fr.err)
		res.Failed.Add(uint32(fr.idx))
		res.FailedIDs = append(res.FailedIDs, f.ID)
		return nil
	}
	if err := out.Write(f.ID, fr.line); err != nil {
		return fmt.Errorf("quantize: write %s: %w", out.Path(), err)
	}
	res.Written++
	return nil
}

func (r *Runner) writeInfoArgs() error {
	data, err := codec.MarshalIndent(r.codec, r.args)
	if err != nil {
		return err
	}
	return ifs.WriteFileAtomic(r.fs, filepath.Join(r.cfg.OutputDir, InfoArgsName), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
