package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechunit/clustering"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/internal/blockcodec"
)

const sample = `
data:
  pathDB: [/corpus/train]
  file_extension: [wav]
  split: 1-4
feature:
  type: remote
  remote:
    endpoint: http://localhost:8080
    family: whisper
    timeout: 30s
  cache:
    path: /tmp/features.db
kmeans:
  k: 500
  n_group: 2
  MAX_ITER: 150
  EPSILON: 0.001
  save: true
  load: true
  save_dir: /ckpt
  save_last: 3
  layer: 18
  seed: 1234
  devices: 4
  compression: lz4
runner:
  resume: true
  backend: host
resources:
  memory_limit_bytes: 1073741824
mirror:
  type: s3
  bucket: units
  prefix: run-1
logging:
  level: debug
  format: json
`

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, []string{"/corpus/train"}, cfg.Data.PathDB)
	assert.Equal(t, 8, cfg.Data.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Feature.Remote.Timeout)
	assert.Equal(t, 80, cfg.Feature.Spectral.NumMel)
	assert.Equal(t, int64(1<<30), cfg.Resources.MemoryLimitBytes)
	assert.Equal(t, "units", cfg.Mirror.Bucket)

	cc, err := cfg.Clustering()
	require.NoError(t, err)
	assert.Equal(t, 500, cc.K)
	assert.Equal(t, 2, cc.NGroup)
	assert.Equal(t, 150, cc.MaxIter)
	assert.InDelta(t, 0.001, cc.Epsilon, 1e-12)
	assert.True(t, cc.Save)
	assert.Equal(t, "/ckpt", cc.SaveDir)
	assert.Equal(t, 3, cc.SaveLast)
	assert.Equal(t, 18, cc.Layer)
	assert.Equal(t, blockcodec.LZ4, cc.Compression)

	b, err := cfg.Runner.ParseBackend()
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, codebook.Host, *b)

	lv, err := cfg.Logging.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", lv.String())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":   "kmeans:\n  kk: 3\n",
		"k":             "kmeans:\n  k: 0\n",
		"save_dir":      "kmeans:\n  save: true\n",
		"compression":   "kmeans:\n  compression: brotli\n",
		"split":         "data:\n  split: 3-2\n",
		"feature type":  "feature:\n  type: cpc\n",
		"remote":        "feature:\n  type: remote\n",
		"mirror":        "mirror:\n  type: gcs\n",
		"minio":         "mirror:\n  type: minio\n  bucket: b\n",
		"backend":       "runner:\n  backend: gpu\n",
		"level":         "logging:\n  level: loud\n",
		"format":        "logging:\n  format: xml\n",
		"batch size":    "data:\n  batch_size: 0\n",
		"bad yaml":      "kmeans: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.KMeans.K)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestClusteringErrorWrapsBoth(t *testing.T) {
	cfg := Default()
	cfg.KMeans.K = 0
	_, err := cfg.Clustering()
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, clustering.ErrInvalidConfig)
}
