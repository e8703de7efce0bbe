package speechunit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hupe1980/speechunit/blobstore"
	"github.com/hupe1980/speechunit/blobstore/minio"
	"github.com/hupe1980/speechunit/blobstore/s3"
	"github.com/hupe1980/speechunit/checkpoint"
	"github.com/hupe1980/speechunit/clustering"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/config"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/feature/cache"
	"github.com/hupe1980/speechunit/feature/remote"
	"github.com/hupe1980/speechunit/feature/spectral"
	"github.com/hupe1980/speechunit/internal/blockcodec"
	"github.com/hupe1980/speechunit/metrics"
	"github.com/hupe1980/speechunit/quantize"
	"github.com/hupe1980/speechunit/resource"
)

// Pipeline binds a configuration to its feature source, resource limits and
// checkpoint mirror. Train and Quantize may be called in sequence; a Pipeline
// is not safe for concurrent use.
type Pipeline struct {
	cfg        config.Config
	opts       options
	source     feature.Source
	sourceName string
	cache      *cache.Cache
	resources  *resource.Controller
	mirror     blobstore.Store
}

// New validates cfg and opens everything it references.
func New(ctx context.Context, cfg config.Config, optFns ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := options{
		logger:  NoopLogger(),
		metrics: metrics.Noop{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Pipeline{
		cfg:        cfg,
		opts:       opts,
		source:     opts.source,
		sourceName: opts.sourceName,
		resources:  resource.NewController(cfg.Resources),
		mirror:     opts.mirror,
	}

	if p.source == nil {
		src, name, err := NewSource(cfg.Feature, cfg.KMeans.Layer, opts.httpClient)
		if err != nil {
			return nil, err
		}
		p.source, p.sourceName = src, name
	}

	if cfg.Feature.Cache.Path != "" {
		comp, err := blockcodec.Parse(cfg.Feature.Cache.Compression)
		if err != nil {
			return nil, err
		}
		c, err := cache.Open(cfg.Feature.Cache.Path, p.sourceName, p.source, func(o *cache.Options) {
			o.Entries = cfg.Feature.Cache.Entries
			o.Compression = comp
			o.Logger = opts.logger.Slog()
		})
		if err != nil {
			return nil, err
		}
		p.cache = c
		p.source = c
	}

	if p.mirror == nil && cfg.Mirror.Type != "" {
		store, err := OpenMirror(ctx, cfg.Mirror, p.resources)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("open %s mirror: %w", cfg.Mirror.Type, err)
		}
		p.mirror = store
	}
	return p, nil
}

// NewSource builds the configured feature source and returns it with a name
// that identifies its output space.
func NewSource(cfg config.Feature, layer int, client *http.Client) (feature.Source, string, error) {
	switch cfg.Type {
	case "spectral":
		ex, err := spectral.New(cfg.Spectral)
		if err != nil {
			return nil, "", err
		}
		return ex, fmt.Sprintf("spectral:mel%d:stack%d", cfg.Spectral.NumMel, max(cfg.Spectral.Stack, 1)), nil
	case "remote":
		family, err := remote.ParseFamily(cfg.Remote.Family)
		if err != nil {
			return nil, "", err
		}
		if client == nil {
			client = &http.Client{Timeout: cfg.Remote.Timeout}
		}
		c, err := remote.New(cfg.Remote.Endpoint, family, layer, func(o *remote.Options) {
			o.HTTPClient = client
			o.RequestsPerSecond = cfg.Remote.RequestsPerSecond
			o.Burst = cfg.Remote.Burst
		})
		if err != nil {
			return nil, "", err
		}
		return c, fmt.Sprintf("%s:%s:layer%d", family, cfg.Remote.Endpoint, layer), nil
	default:
		return nil, "", fmt.Errorf("%w: feature.type %q", config.ErrInvalid, cfg.Type)
	}
}

// OpenMirror opens the configured checkpoint mirror. The prefix becomes the
// store root, so checkpoint names inside the store are unprefixed. Uploads
// are paced by the IO limit of rc, which may be nil.
func OpenMirror(ctx context.Context, cfg config.Mirror, rc *resource.Controller) (blobstore.Store, error) {
	switch cfg.Type {
	case "local":
		return blobstore.NewLocalStore(filepath.Join(cfg.Path, cfg.Prefix), blobstore.WithResources(rc)), nil
	case "s3":
		opts := []s3.Option{s3.WithResources(rc)}
		if cfg.Prefix != "" {
			opts = append(opts, s3.WithPrefix(cfg.Prefix))
		}
		if cfg.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Endpoint))
		}
		if cfg.CommitTable != "" {
			return s3.NewCommitStore(ctx, cfg.Bucket, cfg.CommitTable, checkpoint.LastName, opts...)
		}
		return s3.New(ctx, cfg.Bucket, opts...)
	case "minio":
		return minio.Dial(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Secure, cfg.Bucket, cfg.Prefix, minio.WithResources(rc))
	default:
		return nil, fmt.Errorf("%w: mirror.type %q", config.ErrInvalid, cfg.Type)
	}
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() config.Config { return p.cfg }

// Source returns the feature source, including the cache when configured.
func (p *Pipeline) Source() feature.Source { return p.source }

// SourceName identifies the feature space of Source.
func (p *Pipeline) SourceName() string { return p.sourceName }

// Mirror returns the checkpoint mirror, or nil.
func (p *Pipeline) Mirror() blobstore.Store { return p.mirror }

// CacheStats reports feature cache lookups. ok is false without a cache.
func (p *Pipeline) CacheStats() (stats cache.Stats, ok bool) {
	if p.cache == nil {
		return cache.Stats{}, false
	}
	return p.cache.Stats(), true
}

// Files discovers the audio files under data.pathDB, restricted to
// data.pathSeq when set.
func (p *Pipeline) Files() ([]feature.File, error) {
	files, err := feature.Discover(p.cfg.Data.PathDB, p.cfg.Data.FileExtension)
	if err != nil {
		return nil, err
	}
	if p.cfg.Data.PathSeq != "" {
		files, err = feature.FilterSeqFile(files, p.cfg.Data.PathSeq)
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Trainer returns a trainer for files, configured from the kmeans section.
func (p *Pipeline) Trainer(files []feature.File) (*clustering.Trainer, error) {
	cc, err := p.cfg.Clustering()
	if err != nil {
		return nil, err
	}
	opts := []clustering.Option{
		clustering.WithLogger(p.opts.logger.Slog()),
		clustering.WithMetrics(p.opts.metrics),
		clustering.WithResources(p.resources),
		clustering.WithArgs(p.cfg),
		clustering.WithSourceName(p.sourceName),
	}
	if p.mirror != nil {
		opts = append(opts, clustering.WithMirror(p.mirror, ""))
	}
	backend, err := p.cfg.Runner.ParseBackend()
	if err != nil {
		return nil, err
	}
	if backend != nil {
		opts = append(opts, clustering.WithBackend(*backend))
	}
	if path := p.cfg.KMeans.StartCodebook; path != "" {
		ck, err := checkpoint.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load start codebook: %w", err)
		}
		opts = append(opts, clustering.WithStartCodebook(ck.Codebook))
	}
	loader := feature.NewFileLoader(files, p.cfg.Data.BatchSize)
	return clustering.NewTrainer(cc, p.source, loader, opts...)
}

// Train runs k-means over files.
func (p *Pipeline) Train(ctx context.Context, files []feature.File) (*clustering.Result, error) {
	log := p.opts.logger.WithK(p.cfg.KMeans.K)
	t, err := p.Trainer(files)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "training started",
		"files", len(files),
		"source", p.sourceName,
		"save_dir", p.cfg.KMeans.SaveDir,
	)
	res, err := t.Run(ctx)
	if err != nil {
		return nil, err
	}
	log.WithDimension(res.Codebook.Dim()).InfoContext(ctx, "training finished",
		"iterations", res.Iterations,
		"last_diff", res.LastDiff,
		"converged", res.Converged,
		"empty_clusters", res.EmptyClusters.GetCardinality(),
	)
	return res, nil
}

type infoArgs struct {
	Config     config.Config      `json:"config"`
	Run        quantize.RunConfig `json:"run"`
	Checkpoint checkpoint.Meta    `json:"checkpoint"`
	// TrainingArgs is the path of the training arguments file, if found.
	TrainingArgs string            `json:"training_args,omitempty"`
	Backend      *codebook.Backend `json:"backend,omitempty"`
}

// Quantize maps files to unit sequences with the codebook stored at
// checkpointPath and writes them under outputDir.
func (p *Pipeline) Quantize(ctx context.Context, checkpointPath, outputDir string, files []feature.File) (*quantize.RunResult, error) {
	start := time.Now()
	log := p.opts.logger.WithSplit(p.cfg.Data.Split)

	backend, err := p.cfg.Runner.ParseBackend()
	if err != nil {
		return nil, err
	}
	qopts := []quantize.Option{
		quantize.WithHostThreshold(p.cfg.Runner.HostThreshold),
		quantize.WithResources(p.resources),
		quantize.WithMetrics(p.opts.metrics),
		quantize.WithLogger(p.opts.logger.Slog()),
	}
	if backend != nil {
		qopts = append(qopts, quantize.WithBackend(*backend))
	}
	q, ck, err := quantize.Load(checkpointPath, p.source, qopts...)
	if err != nil {
		return nil, err
	}

	info := infoArgs{Config: p.cfg, Checkpoint: ck.Meta, Backend: backend}
	if args, ok := checkpoint.FindArgs(checkpointPath); ok {
		info.TrainingArgs = args
	} else {
		log.WarnContext(ctx, "no training arguments found next to checkpoint",
			"checkpoint", checkpointPath,
			"candidates", checkpoint.ArgsCandidates(checkpointPath),
		)
	}

	rc := quantize.RunConfig{
		Checkpoint: checkpointPath,
		OutputDir:  outputDir,
		Split:      p.cfg.Data.Split,
		Resume:     p.cfg.Runner.Resume,
		Debug:      p.cfg.Runner.Debug,
		Workers:    p.cfg.Runner.Workers,
	}
	info.Run = rc
	r, err := quantize.NewRunner(q, rc,
		quantize.WithInfoArgs(info),
		quantize.WithRunnerLogger(p.opts.logger.Slog()),
	)
	if err != nil {
		return nil, err
	}

	log.WithK(ck.Codebook.K()).InfoContext(ctx, "quantization started",
		"checkpoint", checkpointPath,
		"iteration", ck.Iteration,
		"files", len(files),
		"output", r.OutputPath(),
	)
	res, err := r.Run(ctx, files)
	if err != nil {
		if !errors.Is(err, ErrNoFiles) {
			log.LogQuantize(ctx, r.OutputPath(), 0, 0, err)
		}
		return res, err
	}
	log.LogQuantize(ctx, res.Output, res.Written, len(res.FailedIDs), nil)
	log.DebugContext(ctx, "quantization timing", "elapsed", time.Since(start))
	return res, nil
}

// Close releases the feature cache.
func (p *Pipeline) Close() error {
	if p.cache != nil {
		err := p.cache.Close()
		p.cache = nil
		return err
	}
	return nil
}
