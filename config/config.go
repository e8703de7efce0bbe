package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/speechunit/clustering"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/feature/spectral"
	"github.com/hupe1980/speechunit/internal/blockcodec"
	"github.com/hupe1980/speechunit/quantize"
	"github.com/hupe1980/speechunit/resource"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the complete configuration file.
type Config struct {
	Data      Data            `yaml:"data"`
	Feature   Feature         `yaml:"feature"`
	KMeans    KMeans          `yaml:"kmeans"`
	Runner    Runner          `yaml:"runner"`
	Resources resource.Config `yaml:"resources"`
	Mirror    Mirror          `yaml:"mirror"`
	Logging   Logging         `yaml:"logging"`
	Metrics   Metrics         `yaml:"metrics"`
}

// Data selects the audio files.
type Data struct {
	PathDB        []string `yaml:"pathDB"`
	FileExtension []string `yaml:"file_extension"`
	PathSeq       string   `yaml:"pathSeq"`
	Split         string   `yaml:"split"`
	BatchSize     int      `yaml:"batch_size"`
}

// Feature selects and configures the feature source.
type Feature struct {
	Type     string          `yaml:"type"`
	Spectral spectral.Config `yaml:"spectral"`
	Remote   Remote          `yaml:"remote"`
	Cache    Cache           `yaml:"cache"`
}

// Remote configures the HTTP embedding service client.
type Remote struct {
	Endpoint          string        `yaml:"endpoint"`
	Family            string        `yaml:"family"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Cache configures the feature cache. An empty Path disables it.
type Cache struct {
	Path        string `yaml:"path"`
	Entries     int    `yaml:"entries"`
	Compression string `yaml:"compression"`
}

// KMeans holds the training parameters.
type KMeans struct {
	K             int     `yaml:"k"`
	NGroup        int     `yaml:"n_group"`
	MaxIter       int     `yaml:"MAX_ITER"`
	Epsilon       float64 `yaml:"EPSILON"`
	Save          bool    `yaml:"save"`
	Load          bool    `yaml:"load"`
	SaveDir       string  `yaml:"save_dir"`
	SaveLast      int     `yaml:"save_last"`
	Layer         int     `yaml:"layer"`
	Seed          int64   `yaml:"seed"`
	Devices       int     `yaml:"devices"`
	Compression   string  `yaml:"compression"`
	StartCodebook string  `yaml:"start_codebook"`
}

// Runner configures quantization runs.
type Runner struct {
	Debug         bool   `yaml:"debug"`
	Resume        bool   `yaml:"resume"`
	Workers       int    `yaml:"workers"`
	HostThreshold int    `yaml:"host_threshold"`
	Backend       string `yaml:"backend"` // auto, host or accelerated
}

// Mirror configures checkpoint replication. An empty Type disables it.
type Mirror struct {
	Type      string `yaml:"type"` // local, s3 or minio
	Path      string `yaml:"path"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	// CommitTable enables the DynamoDB commit store for s3 mirrors.
	CommitTable string `yaml:"commit_table"`
}

// Logging configures the logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, text or json
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Default returns the reference defaults.
func Default() Config {
	km := clustering.DefaultConfig()
	return Config{
		Data: Data{
			FileExtension: feature.DefaultExtensions,
			BatchSize:     8,
		},
		Feature: Feature{
			Type:     "spectral",
			Spectral: spectral.DefaultConfig(),
			Remote: Remote{
				Family:  "xlsr",
				Burst:   1,
				Timeout: 5 * time.Minute,
			},
			Cache: Cache{Entries: 1024, Compression: "lz4"},
		},
		KMeans: KMeans{
			K:           km.K,
			NGroup:      km.NGroup,
			MaxIter:     km.MaxIter,
			Epsilon:     km.Epsilon,
			SaveLast:    km.SaveLast,
			Devices:     km.Devices,
			Compression: km.Compression.String(),
		},
		Runner: Runner{
			HostThreshold: codebook.DefaultHostThreshold,
			Backend:       "auto",
		},
		Resources: resource.Config{MaxWorkers: 1},
		Logging:   Logging{Level: "info", Format: "auto"},
		Metrics:   Metrics{Namespace: "speechunit"},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if _, err := c.Clustering(); err != nil {
		return err
	}
	if _, err := quantize.ParseSplit(c.Data.Split); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := blockcodec.Parse(c.Feature.Cache.Compression); err != nil {
		return fmt.Errorf("%w: feature.cache.compression: %v", ErrInvalid, err)
	}
	if _, err := c.Runner.ParseBackend(); err != nil {
		return err
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}

	switch c.Feature.Type {
	case "spectral":
	case "remote":
		if c.Feature.Remote.Endpoint == "" {
			return fmt.Errorf("%w: feature.remote.endpoint is required", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: feature.type %q (want spectral or remote)", ErrInvalid, c.Feature.Type)
	}

	switch c.Mirror.Type {
	case "":
	case "local":
		if c.Mirror.Path == "" {
			return fmt.Errorf("%w: mirror.path is required for local mirrors", ErrInvalid)
		}
	case "s3", "minio":
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("%w: mirror.bucket is required for %s mirrors", ErrInvalid, c.Mirror.Type)
		}
		if c.Mirror.Type == "minio" && c.Mirror.Endpoint == "" {
			return fmt.Errorf("%w: mirror.endpoint is required for minio mirrors", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: mirror.type %q (want local, s3 or minio)", ErrInvalid, c.Mirror.Type)
	}

	switch c.Logging.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format)
	}
	if c.Data.BatchSize < 1 {
		return fmt.Errorf("%w: data.batch_size must be >= 1", ErrInvalid)
	}
	return nil
}

// Clustering converts the kmeans section.
func (c Config) Clustering() (clustering.Config, error) {
	comp, err := blockcodec.Parse(c.KMeans.Compression)
	if err != nil {
		return clustering.Config{}, fmt.Errorf("%w: kmeans.compression: %v", ErrInvalid, err)
	}
	cc := clustering.Config{
		K:           c.KMeans.K,
		NGroup:      c.KMeans.NGroup,
		MaxIter:     c.KMeans.MaxIter,
		Epsilon:     c.KMeans.Epsilon,
		Save:        c.KMeans.Save,
		Load:        c.KMeans.Load,
		SaveDir:     c.KMeans.SaveDir,
		SaveLast:    c.KMeans.SaveLast,
		Layer:       c.KMeans.Layer,
		Seed:        c.KMeans.Seed,
		Devices:     c.KMeans.Devices,
		Compression: comp,
	}
	if err := cc.Validate(); err != nil {
		return clustering.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cc, nil
}

// ParseBackend maps the backend name. The nil result means automatic selection.
func (r Runner) ParseBackend() (*codebook.Backend, error) {
	var b codebook.Backend
	switch strings.ToLower(r.Backend) {
	case "", "auto":
		return nil, nil
	case "host", "cpu":
		b = codebook.Host
	case "accelerated", "blas":
		b = codebook.Accelerated
	default:
		return nil, fmt.Errorf("%w: runner.backend %q", ErrInvalid, r.Backend)
	}
	return &b, nil
}

// SlogLevel maps the level name.
func (l Logging) SlogLevel() (slog.Level, error) {
	var lv slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lv.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: logging.level %q", ErrInvalid, l.Level)
	}
	return lv, nil
}
