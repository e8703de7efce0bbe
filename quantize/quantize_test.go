package quantize

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/metrics"
	"github.com/hupe1980/speechunit/resource"
	"github.com/hupe1980/speechunit/testutil"
)

func testCodebook(t *testing.T) *codebook.Codebook {
	t.Helper()
	cb, err := codebook.FromRows([][]float32{{0, 0}, {10, 0}, {0, 10}})
	require.NoError(t, err)
	return cb
}

func TestFormatLine(t *testing.T) {
	assert.Equal(t, "3-7,3-7,12-0", FormatLine([]int32{3, 7, 3, 7, 12, 0}, 2))
	assert.Equal(t, "1,2,3", FormatLine([]int32{1, 2, 3}, 1))
	assert.Equal(t, "", FormatLine(nil, 1))

	id, frames, err := ParseLine("utt1\t3-7,3-7,12-0\n")
	require.NoError(t, err)
	assert.Equal(t, "utt1", id)
	assert.Equal(t, [][]int{{3, 7}, {3, 7}, {12, 0}}, frames)

	_, _, err = ParseLine("no tab")
	require.Error(t, err)
	_, _, err = ParseLine("a\t1-x")
	require.Error(t, err)
}

func TestQuantizeFile(t *testing.T) {
	src := feature.NewMemorySource(4)
	// Three frames, two groups each.
	require.NoError(t, src.Add("/d/utt1.wav", []float32{
		0.1, 0, 9.9, 0.2,
		0, 9, 0, 0,
		10, 1, 1, 10,
	}))

	q := New(testCodebook(t), src)
	line, err := q.QuantizeFile(context.Background(), "/d/utt1.wav")
	require.NoError(t, err)
	assert.Equal(t, "0-1,2-0,1-2", line)
}

func TestQuantizeFile_Errors(t *testing.T) {
	src := feature.NewMemorySource(3)
	require.NoError(t, src.Add("/d/odd.wav", []float32{1, 2, 3}))
	q := New(testCodebook(t), src)

	_, err := q.QuantizeFile(context.Background(), "/d/odd.wav")
	var dme *codebook.DimensionMismatchError
	require.ErrorAs(t, err, &dme)
	assert.Equal(t, 2, dme.Expected)
	assert.Equal(t, 3, dme.Actual)

	_, err = q.QuantizeFile(context.Background(), "/d/missing.wav")
	var ee *feature.ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "missing", ee.ID)
}

func TestQuantize_TokensInRange(t *testing.T) {
	rng := testutil.NewRNG(1)
	cb, err := codebook.FromData(16, 4, rng.UniformPoints(16, 4))
	require.NoError(t, err)

	for _, groups := range []int{1, 3} {
		frames := 57
		src := feature.NewMemorySource(4 * groups)
		require.NoError(t, src.Add("/x.wav", rng.UniformPoints(frames*groups, 4)))

		line, err := New(cb, src).QuantizeFile(context.Background(), "/x.wav")
		require.NoError(t, err)
		_, parsed, err := ParseLine("x\t" + line)
		require.NoError(t, err)
		require.Len(t, parsed, frames)
		for _, f := range parsed {
			require.Len(t, f, groups)
			for _, tok := range f {
				assert.GreaterOrEqual(t, tok, 0)
				assert.Less(t, tok, 16)
			}
		}
	}
}

func TestQuantize_BackendPolicy(t *testing.T) {
	rng := testutil.NewRNG(2)
	cb, err := codebook.FromData(8, 2, rng.UniformPoints(8, 2))
	require.NoError(t, err)
	points := rng.UniformPoints(100, 2)

	collector := &metrics.Basic{}
	q := New(cb, feature.NewMemorySource(2), WithHostThreshold(50), WithMetrics(collector))
	tokens, _, backend, err := q.Assign(points, 2)
	require.NoError(t, err)
	assert.Equal(t, codebook.Host, backend)
	assert.Equal(t, testutil.BruteForceAssign(points, cb.Data(), 2), tokens)

	q = New(cb, feature.NewMemorySource(2), WithHostThreshold(1000))
	_, _, backend, err = q.Assign(points, 2)
	require.NoError(t, err)
	assert.Equal(t, codebook.Accelerated, backend)

	// Scratch that cannot be reserved falls back to the host.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 16})
	q = New(cb, feature.NewMemorySource(2), WithResources(rc))
	_, _, backend, err = q.Assign(points, 2)
	require.NoError(t, err)
	assert.Equal(t, codebook.Host, backend)
	assert.Zero(t, rc.MemoryUsage())

	src := feature.NewMemorySource(2)
	require.NoError(t, src.Add("/big.wav", points))
	q = New(cb, src, WithHostThreshold(50), WithMetrics(collector))
	_, err = q.QuantizeFile(context.Background(), "/big.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(1), collector.GetStats().HostFallbackFiles)
}

func TestSplit(t *testing.T) {
	s, err := ParseSplit("")
	require.NoError(t, err)
	assert.False(t, s.Enabled())
	assert.Equal(t, "quantized_outputs.txt", OutputName(s))

	for _, bad := range []string{"0-3", "4-3", "1", "a-b", "1-"} {
		_, err := ParseSplit(bad)
		assert.Error(t, err, bad)
	}

	s, err = ParseSplit("2-3")
	require.NoError(t, err)
	assert.Equal(t, "quantized_outputs_split_2-3.txt", OutputName(s))

	start, end := s.Range(10)
	assert.Equal(t, 3, start)
	assert.Equal(t, 6, end)

	start, end = Split{Index: 3, Count: 3}.Range(10)
	assert.Equal(t, 6, start)
	assert.Equal(t, 10, end)

	start, end = Split{}.Range(10)
	assert.Equal(t, 0, start)
	assert.Equal(t, 10, end)
}

func TestOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")

	out, err := OpenOutput(nil, path, false)
	require.NoError(t, err)
	require.NoError(t, out.Write("a", "1,2"))
	require.NoError(t, out.Write("b", "3"))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\t1,2\nb\t3", string(data))

	_, err = OpenOutput(nil, path, false)
	var oce *OutputConflictError
	require.ErrorAs(t, err, &oce)
	assert.Equal(t, path, oce.Path)

	out, err = OpenOutput(nil, path, true)
	require.NoError(t, err)
	assert.True(t, out.Has("a"))
	assert.True(t, out.Has("b"))
	assert.Equal(t, 2, out.Existing())
	require.NoError(t, out.Write("c", "4"))
	require.NoError(t, out.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\t1,2\nb\t3\nc\t4", string(data))
}

func TestOutput_ResumeAfterTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\t1\n"), 0o644))

	out, err := OpenOutput(nil, path, true)
	require.NoError(t, err)
	require.NoError(t, out.Write("b", "2"))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\t1\nb\t2", string(data))
}

// slowSource delays each file randomly so workers finish out of order.
type slowSource struct {
	*feature.MemorySource
}

func (s slowSource) Embed(ctx context.Context, b feature.Batch) (*feature.Tensor, error) {
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	return s.MemorySource.Embed(ctx, b)
}

func corpus(t *testing.T, n int) (*feature.MemorySource, []feature.File) {
	t.Helper()
	rng := testutil.NewRNG(3)
	src := feature.NewMemorySource(2)
	for i := range n {
		require.NoError(t, src.Add(fmt.Sprintf("/d/f%03d.wav", i), rng.UniformPoints(5, 2)))
	}
	return src, src.Files()
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(string(data), "\n")
}

func TestRunner_OrderAndFailures(t *testing.T) {
	src, files := corpus(t, 60)
	// Unknown paths fail extraction but do not stop the run.
	files = append(files[:10:10], append([]feature.File{{ID: "ghost", Path: "/d/ghost.wav"}}, files[10:]...)...)

	q := New(testCodebook(t), slowSource{src})
	dir := t.TempDir()
	r, err := NewRunner(q, RunConfig{OutputDir: dir, Workers: 8})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Written)
	assert.True(t, res.Failed.Contains(10))
	assert.Equal(t, []string{"ghost"}, res.FailedIDs)

	lines := readLines(t, res.Output)
	require.Len(t, lines, 60)
	for i, line := range lines {
		id, frames, err := ParseLine(line)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("f%03d", i), id)
		assert.Len(t, frames, 5)
	}
	assert.FileExists(t, filepath.Join(dir, InfoArgsName))
}

func TestRunner_ResumeSkip(t *testing.T) {
	src, files := corpus(t, 3)
	q := New(testCodebook(t), src)
	dir := t.TempDir()

	r, err := NewRunner(q, RunConfig{OutputDir: dir, Workers: 2})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), files[:2])
	require.NoError(t, err)

	// Without resume the existing output is a conflict.
	_, err = r.Run(context.Background(), files)
	var oce *OutputConflictError
	require.ErrorAs(t, err, &oce)

	r, err = NewRunner(q, RunConfig{OutputDir: dir, Workers: 2, Resume: true})
	require.NoError(t, err)
	calls := src.Calls()
	res, err := r.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, calls+1, src.Calls())

	lines := readLines(t, res.Output)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[2], "f002\t"))

	// Everything present.
	_, err = r.Run(context.Background(), files)
	require.ErrorIs(t, err, ErrNoFiles)
}

func TestRunner_SplitAndDebug(t *testing.T) {
	src, files := corpus(t, 50)
	q := New(testCodebook(t), src)

	dir := t.TempDir()
	r, err := NewRunner(q, RunConfig{OutputDir: dir, Split: "2-2", Debug: true})
	require.NoError(t, err)
	res, err := r.Run(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "quantized_outputs_split_2-2.txt"), res.Output)
	assert.Equal(t, DebugFiles, res.Selected)

	lines := readLines(t, res.Output)
	require.Len(t, lines, DebugFiles)
	assert.True(t, strings.HasPrefix(lines[0], "f025\t"))

	_, err = NewRunner(q, RunConfig{OutputDir: dir, Split: "3-2"})
	require.Error(t, err)
}

func TestRunner_Canceled(t *testing.T) {
	src, files := corpus(t, 10)
	r, err := NewRunner(New(testCodebook(t), src), RunConfig{OutputDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, files)
	require.ErrorIs(t, err, context.Canceled)
}
