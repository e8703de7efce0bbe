package spectral

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/testutil"
)

func TestNewValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumMel = 0
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.LowFreq = 9000
	_, err = New(cfg)
	require.Error(t, err)
}

func TestCompute(t *testing.T) {
	e, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 80, e.Dim())

	samples := testutil.NewRNG(1).Samples(16000, 440, 16000)
	rows := e.Compute(samples)
	assert.Equal(t, 98, e.NumFrames(len(samples)))
	assert.Len(t, rows, 98*80)
	for _, v := range rows {
		assert.False(t, v != v, "NaN in features")
	}

	assert.Equal(t, 0, e.NumFrames(0))
	assert.Equal(t, 1, e.NumFrames(10))
	assert.Empty(t, e.Compute(nil))
}

func TestToneEnergyPeaksNearFrequency(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumMel = 40
	e, err := New(cfg)
	require.NoError(t, err)

	low := e.Compute(testutil.NewRNG(1).Samples(4000, 300, 16000))
	high := e.Compute(testutil.NewRNG(1).Samples(4000, 4000, 16000))

	argmax := func(row []float32) int {
		best := 0
		for i, v := range row {
			if v > row[best] {
				best = i
			}
		}
		return best
	}
	assert.Less(t, argmax(low[:40]), argmax(high[:40]))
}

func TestCMVNAndStack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumMel = 20
	cfg.CMVN = true
	cfg.Stack = 3
	e, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, 60, e.Dim())

	samples := testutil.NewRNG(2).Samples(8000, 500, 16000)
	nf := e.NumFrames(len(samples))
	rows := e.Compute(samples)
	assert.Len(t, rows, (nf/3)*60)

	// CMVN on unstacked frames gives zero-mean columns.
	cfg.Stack = 1
	e, err = New(cfg)
	require.NoError(t, err)
	rows = e.Compute(samples)
	var sum float64
	for f := range nf {
		sum += float64(rows[f*20])
	}
	assert.InDelta(t, 0, sum/float64(nf), 1e-4)
}

func TestEmbed(t *testing.T) {
	dir := t.TempDir()
	rng := testutil.NewRNG(3)
	var b feature.Batch
	for i, n := range []int{3200, 1600} {
		p := filepath.Join(dir, string(rune('a'+i))+".wav")
		require.NoError(t, testutil.WriteWAV(p, rng.Samples(n, 220, 16000), 16000))
		b.IDs = append(b.IDs, feature.FileID(p))
		b.Paths = append(b.Paths, p)
	}

	e, err := New(DefaultConfig())
	require.NoError(t, err)

	tn, err := e.Embed(context.Background(), b)
	require.NoError(t, err)
	require.NoError(t, tn.Validate())
	assert.Equal(t, []int{e.NumFrames(3200), e.NumFrames(1600)}, tn.Lengths)

	b.IDs = append(b.IDs, "missing")
	b.Paths = append(b.Paths, filepath.Join(dir, "missing.wav"))
	_, err = e.Embed(context.Background(), b)
	var ee *feature.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "missing", ee.ID)
}

func TestEmbedWrongSampleRate(t *testing.T) {
	p := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, testutil.WriteWAV(p, make([]float32, 800), 8000))

	e, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), feature.Batch{IDs: []string{"x"}, Paths: []string{p}})
	var ee *feature.ExtractionError
	require.ErrorAs(t, err, &ee)
}
