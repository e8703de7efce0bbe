package speechunit_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechunit"
	"github.com/hupe1980/speechunit/blobstore"
	"github.com/hupe1980/speechunit/checkpoint"
	"github.com/hupe1980/speechunit/config"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/metrics"
	"github.com/hupe1980/speechunit/quantize"
	"github.com/hupe1980/speechunit/resource"
	"github.com/hupe1980/speechunit/testutil"
)

func writeCorpus(t *testing.T, dir string, n int) {
	t.Helper()
	rng := testutil.NewRNG(11)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := range n {
		path := filepath.Join(dir, fmt.Sprintf("utt%02d.wav", i))
		samples := rng.Samples(4000, float64(200+150*i), feature.SampleRate)
		require.NoError(t, testutil.WriteWAV(path, samples, feature.SampleRate))
	}
}

func testConfig(t *testing.T, n int) config.Config {
	t.Helper()
	root := t.TempDir()
	audio := filepath.Join(root, "audio")
	writeCorpus(t, audio, n)

	cfg := config.Default()
	cfg.Data.PathDB = []string{audio}
	cfg.Data.BatchSize = 2
	cfg.KMeans.K = 4
	cfg.KMeans.MaxIter = 5
	cfg.KMeans.Save = true
	cfg.KMeans.SaveDir = filepath.Join(root, "ckpt")
	cfg.KMeans.SaveLast = 2
	cfg.Runner.Workers = 2
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestPipeline_TrainQuantize(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 6)
	collector := &metrics.Basic{}

	p, err := speechunit.New(ctx, cfg, speechunit.WithMetrics(collector))
	require.NoError(t, err)
	defer p.Close()

	files, err := p.Files()
	require.NoError(t, err)
	require.Len(t, files, 6)

	res, err := p.Train(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Codebook.K())
	assert.Equal(t, 80, res.Codebook.Dim())
	assert.LessOrEqual(t, res.Iterations, 5)

	last := filepath.Join(cfg.KMeans.SaveDir, checkpoint.LastName)
	assert.FileExists(t, last)
	assert.FileExists(t, filepath.Join(cfg.KMeans.SaveDir, checkpoint.ArgsName))

	outDir := filepath.Join(t.TempDir(), "units")
	out, err := p.Quantize(ctx, last, outDir, files)
	require.NoError(t, err)
	assert.Equal(t, 6, out.Written)
	assert.Empty(t, out.FailedIDs)
	assert.FileExists(t, filepath.Join(outDir, quantize.InfoArgsName))

	lines := readLines(t, out.Output)
	require.Len(t, lines, 6)
	for i, line := range lines {
		id, frames, err := quantize.ParseLine(line)
		require.NoError(t, err)
		assert.Equal(t, files[i].ID, id)
		assert.NotEmpty(t, frames)
		for _, groups := range frames {
			require.Len(t, groups, 1)
			assert.GreaterOrEqual(t, groups[0], 0)
			assert.Less(t, groups[0], 4)
		}
	}

	stats := collector.GetStats()
	assert.Positive(t, stats.Iterations)
	assert.Positive(t, stats.QuantizedFiles)
}

func TestPipeline_QuantizeConflict(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 3)

	p, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	files, err := p.Files()
	require.NoError(t, err)
	_, err = p.Train(ctx, files)
	require.NoError(t, err)

	last := filepath.Join(cfg.KMeans.SaveDir, checkpoint.LastName)
	outDir := t.TempDir()
	_, err = p.Quantize(ctx, last, outDir, files)
	require.NoError(t, err)

	_, err = p.Quantize(ctx, last, outDir, files)
	var conflict *speechunit.OutputConflictError
	require.ErrorAs(t, err, &conflict)

	cfg.Runner.Resume = true
	resumed, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer resumed.Close()
	_, err = resumed.Quantize(ctx, last, outDir, files)
	require.ErrorIs(t, err, speechunit.ErrNoFiles)
}

func TestPipeline_FeatureCache(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 4)
	cfg.Feature.Cache.Path = filepath.Join(t.TempDir(), "features.db")

	p, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	files, err := p.Files()
	require.NoError(t, err)
	_, err = p.Train(ctx, files)
	require.NoError(t, err)

	stats, ok := p.CacheStats()
	require.True(t, ok)
	assert.EqualValues(t, 4, stats.Misses)
	assert.Positive(t, stats.MemoryHits)
}

func TestPipeline_Mirror(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 4)
	store := blobstore.NewMemoryStore()

	p, err := speechunit.New(ctx, cfg, speechunit.WithMirror(store))
	require.NoError(t, err)
	defer p.Close()

	files, err := p.Files()
	require.NoError(t, err)
	_, err = p.Train(ctx, files)
	require.NoError(t, err)

	data, err := store.Get(ctx, checkpoint.LastName)
	require.NoError(t, err)
	ck, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 4, ck.Codebook.K())
	assert.Equal(t, p.SourceName(), ck.Meta.Source)
}

func TestPipeline_LocalMirrorFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 4)
	mirrorDir := t.TempDir()
	cfg.Mirror = config.Mirror{Type: "local", Path: mirrorDir, Prefix: "run-1"}

	p, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()
	require.NotNil(t, p.Mirror())

	files, err := p.Files()
	require.NoError(t, err)
	_, err = p.Train(ctx, files)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(mirrorDir, "run-1", checkpoint.LastName))
}

func TestPipeline_WithSource(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(3)
	src := feature.NewMemorySource(2)
	for i := range 4 {
		require.NoError(t, src.Add(fmt.Sprintf("mem/%d.wav", i), rng.UniformPoints(5, 2)))
	}

	cfg := config.Default()
	cfg.KMeans.K = 3
	cfg.KMeans.MaxIter = 10

	p, err := speechunit.New(ctx, cfg, speechunit.WithSource(src, "memory"))
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "memory", p.SourceName())

	res, err := p.Train(ctx, src.Files())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Codebook.K())
	assert.Equal(t, 2, res.Codebook.Dim())
}

func TestPipeline_InsufficientData(t *testing.T) {
	ctx := context.Background()
	src := feature.NewMemorySource(2)
	require.NoError(t, src.Add("a.wav", []float32{0, 0, 1, 1}))

	cfg := config.Default()
	cfg.KMeans.K = 8

	p, err := speechunit.New(ctx, cfg, speechunit.WithSource(src, "memory"))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Train(ctx, src.Files())
	var insufficient *speechunit.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 8, insufficient.Want)
	assert.Equal(t, 2, insufficient.Have)
}

func TestPipeline_StartCodebookMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 4)

	p, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()
	files, err := p.Files()
	require.NoError(t, err)
	_, err = p.Train(ctx, files)
	require.NoError(t, err)

	next := cfg
	next.KMeans.K = 5
	next.KMeans.SaveDir = t.TempDir()
	next.KMeans.StartCodebook = filepath.Join(cfg.KMeans.SaveDir, checkpoint.LastName)
	p2, err := speechunit.New(ctx, next)
	require.NoError(t, err)
	defer p2.Close()

	_, err = p2.Trainer(files)
	require.ErrorIs(t, err, speechunit.ErrInvalidTraining)
}

func TestPipeline_SeqFilter(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, 5)
	seq := filepath.Join(t.TempDir(), "seqs.txt")
	require.NoError(t, os.WriteFile(seq, []byte("utt01\nutt03\n"), 0o644))
	cfg.Data.PathSeq = seq

	p, err := speechunit.New(ctx, cfg)
	require.NoError(t, err)
	defer p.Close()

	files, err := p.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "utt01", files[0].ID)
	assert.Equal(t, "utt03", files[1].ID)
}

func TestNew_Invalid(t *testing.T) {
	cfg := config.Default()
	cfg.KMeans.K = 0
	_, err := speechunit.New(context.Background(), cfg)
	require.ErrorIs(t, err, speechunit.ErrInvalidConfig)
}

func TestNewSource(t *testing.T) {
	f := config.Default().Feature
	src, name, err := speechunit.NewSource(f, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "spectral:mel80:stack1", name)

	f.Type = "remote"
	f.Remote.Endpoint = "http://localhost:9000/"
	f.Remote.Family = "whisper"
	_, name, err = speechunit.NewSource(f, 12, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "whisper:"))
	assert.True(t, strings.HasSuffix(name, ":layer12"))

	f.Remote.Family = "wavlm"
	_, _, err = speechunit.NewSource(f, 12, nil)
	require.Error(t, err)
}

func TestOpenMirror(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	store, err := speechunit.OpenMirror(ctx, config.Mirror{Type: "local", Path: dir}, rc)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "x.bin", []byte("x")))
	assert.FileExists(t, filepath.Join(dir, "x.bin"))

	_, err = speechunit.OpenMirror(ctx, config.Mirror{Type: "ftp"}, nil)
	require.ErrorIs(t, err, speechunit.ErrInvalidConfig)
}
