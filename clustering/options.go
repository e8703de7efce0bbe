package clustering

import (
	"log/slog"

	"github.com/hupe1980/speechunit/blobstore"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/codec"
	ifs "github.com/hupe1980/speechunit/internal/fs"
	"github.com/hupe1980/speechunit/metrics"
	"github.com/hupe1980/speechunit/resource"
)

type options struct {
	start        *codebook.Codebook
	logger       *slog.Logger
	metrics      metrics.Collector
	resources    *resource.Controller
	mirror       blobstore.Store
	mirrorPrefix string
	fs           ifs.FileSystem
	codec        codec.Codec
	backend      *codebook.Backend
	args         any
	runID        string
	source       string
}

// Option configures a Trainer.
type Option func(*options)

// WithStartCodebook starts training from cb instead of a checkpoint or sampled
// points. The centroid dimension is taken from cb.
func WithStartCodebook(cb *codebook.Codebook) Option {
	return func(o *options) { o.start = cb }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithResources bounds scratch memory.
func WithResources(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

// WithMirror replicates checkpoints to store under prefix and restores from
// it when the save directory has no checkpoint.
func WithMirror(store blobstore.Store, prefix string) Option {
	return func(o *options) {
		o.mirror = store
		o.mirrorPrefix = prefix
	}
}

// WithFileSystem overrides the file system used for checkpoints and the run log.
func WithFileSystem(fsys ifs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithCodec sets the codec for checkpoint metadata and checkpoint_args.json.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithBackend forces an assignment backend. By default the accelerated
// backend is used whenever its scratch memory can be reserved.
func WithBackend(b codebook.Backend) Option {
	return func(o *options) { o.backend = &b }
}

// WithArgs sets the value written to checkpoint_args.json. Defaults to the Config.
func WithArgs(v any) Option {
	return func(o *options) { o.args = v }
}

// WithRunID sets the run identifier stored in checkpoints.
func WithRunID(id string) Option {
	return func(o *options) { o.runID = id }
}

// WithSourceName records a description of the feature source in checkpoints.
func WithSourceName(name string) Option {
	return func(o *options) { o.source = name }
}
