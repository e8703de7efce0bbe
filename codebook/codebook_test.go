package codebook

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	cb, err := New(3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, cb.K())
	assert.Equal(t, 2, cb.Dim())
	assert.Len(t, cb.Data(), 6)

	_, err = New(0, 2)
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = New(2, 0)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestFromDataCopies(t *testing.T) {
	data := []float32{1, 2, 3, 4}
	cb, err := FromData(2, 2, data)
	require.NoError(t, err)

	data[0] = 99
	assert.Equal(t, []float32{1, 2}, cb.Centroid(0))
	assert.Equal(t, []float32{3, 4}, cb.Centroid(1))

	_, err = FromData(2, 2, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestFromRows(t *testing.T) {
	cb, err := FromRows([][]float32{{0, 0}, {1, 1}, {2, 2}})
	require.NoError(t, err)
	assert.Equal(t, 3, cb.K())
	assert.Equal(t, []float32{2, 2}, cb.Centroid(2))

	_, err = FromRows([][]float32{{0, 0}, {1}})
	assert.ErrorIs(t, err, ErrInvalidShape)
	_, err = FromRows(nil)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func TestClone(t *testing.T) {
	cb, err := FromData(1, 2, []float32{1, 2})
	require.NoError(t, err)
	c := cb.Clone()
	c.data[0] = 5
	assert.Equal(t, float32(1), cb.Centroid(0)[0])
}

func TestGroups(t *testing.T) {
	cb, err := New(4, 3)
	require.NoError(t, err)

	g, err := cb.Groups(12)
	require.NoError(t, err)
	assert.Equal(t, 4, g)

	g, err = cb.Groups(3)
	require.NoError(t, err)
	assert.Equal(t, 1, g)

	for _, bad := range []int{0, 2, 10} {
		_, err = cb.Groups(bad)
		var dm *DimensionMismatchError
		require.True(t, errors.As(err, &dm), "dim %d", bad)
		assert.Equal(t, 3, dm.Expected)
		assert.Equal(t, bad, dm.Actual)
	}
}

func TestAssignBackends(t *testing.T) {
	cb, err := FromRows([][]float32{{0, 0}, {10, 10}, {-10, 5}})
	require.NoError(t, err)
	a := NewAssigner(cb)

	points := []float32{
		0.5, 0.5,
		9, 11,
		-9, 4,
		1, -1,
	}
	want := []int32{0, 1, 2, 0}

	for _, backend := range []Backend{Host, Accelerated} {
		t.Run(backend.String(), func(t *testing.T) {
			got, err := a.Assign(points, nil, backend)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestAssignBackendsAgree(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	const k, dim, n = 16, 8, 5000

	data := make([]float32, k*dim)
	for i := range data {
		data[i] = r.Float32()*4 - 2
	}
	cb, err := FromData(k, dim, data)
	require.NoError(t, err)

	points := make([]float32, n*dim)
	for i := range points {
		points[i] = r.Float32()*4 - 2
	}

	a := NewAssigner(cb)
	a.chunkRows = 333

	host, err := a.Assign(points, nil, Host)
	require.NoError(t, err)
	acc, err := a.Assign(points, make([]int32, 0, n), Accelerated)
	require.NoError(t, err)

	mismatches := 0
	for i := range host {
		assert.GreaterOrEqual(t, acc[i], int32(0))
		assert.Less(t, acc[i], int32(k))
		if host[i] != acc[i] {
			mismatches++
		}
	}
	// Rounding may break near-ties differently between the two formulations.
	assert.LessOrEqual(t, mismatches, n/500)
}

func TestAssignBackendsAgreeOffset(t *testing.T) {
	t.Run("close centroids far from origin", func(t *testing.T) {
		const dim, n = 64, 200
		c0 := make([]float32, dim)
		c1 := make([]float32, dim)
		for d := range c0 {
			c0[d], c1[d] = 300, 300
		}
		c1[0] += 0.05
		cb, err := FromRows([][]float32{c0, c1})
		require.NoError(t, err)

		points := make([]float32, 0, n*dim)
		for i := 0; i < n; i++ {
			p := append([]float32(nil), c0...)
			p[0] += 0.05 * (float32(i) + 0.5) / n
			points = append(points, p...)
		}

		a := NewAssigner(cb)
		host, err := a.Assign(points, nil, Host)
		require.NoError(t, err)
		acc, err := a.Assign(points, nil, Accelerated)
		require.NoError(t, err)
		assert.Equal(t, host, acc)
		assert.Equal(t, int32(0), acc[0])
		assert.Equal(t, int32(1), acc[n-1])
	})

	t.Run("offset gaussian data", func(t *testing.T) {
		r := rand.New(rand.NewSource(11))
		const k, dim, n, offset = 64, 32, 2000, 50

		data := make([]float32, k*dim)
		for i := range data {
			data[i] = offset + float32(r.NormFloat64())
		}
		cb, err := FromData(k, dim, data)
		require.NoError(t, err)

		points := make([]float32, n*dim)
		for i := range points {
			points[i] = offset + float32(r.NormFloat64())
		}

		a := NewAssigner(cb)
		a.chunkRows = 257
		host, err := a.Assign(points, nil, Host)
		require.NoError(t, err)
		acc, err := a.Assign(points, nil, Accelerated)
		require.NoError(t, err)
		assert.Equal(t, host, acc)
	})
}

func TestAssignSingleCentroid(t *testing.T) {
	cb, err := FromRows([][]float32{{5, 5}})
	require.NoError(t, err)
	got, err := NewAssigner(cb).Assign([]float32{0, 0, 9, 9}, nil, Accelerated)
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 0}, got)
}

func TestAssignTieLowestIndex(t *testing.T) {
	cb, err := FromRows([][]float32{{1, 0}, {-1, 0}})
	require.NoError(t, err)
	a := NewAssigner(cb)

	for _, backend := range []Backend{Host, Accelerated} {
		got, err := a.Assign([]float32{0, 0}, nil, backend)
		require.NoError(t, err)
		assert.Equal(t, []int32{0}, got, backend.String())
	}
}

func TestAssignErrors(t *testing.T) {
	cb, err := New(2, 3)
	require.NoError(t, err)
	a := NewAssigner(cb)

	_, err = a.Assign([]float32{1, 2}, nil, Host)
	var dm *DimensionMismatchError
	assert.True(t, errors.As(err, &dm))

	_, err = a.Assign([]float32{1, 2, 3}, nil, Backend(9))
	assert.Error(t, err)
}

func TestScratchBytes(t *testing.T) {
	cb, err := New(100, 4)
	require.NoError(t, err)
	a := NewAssigner(cb)

	assert.Equal(t, int64(10*(100+4)*4), a.ScratchBytes(10))
	assert.Equal(t, int64(DefaultChunkRows*(100+4)*4), a.ScratchBytes(1_000_000))
}

type fakeReserver struct {
	limit, used int64
}

func (f *fakeReserver) TryAcquireMemory(b int64) bool {
	if f.used+b > f.limit {
		return false
	}
	f.used += b
	return true
}

func (f *fakeReserver) ReleaseMemory(b int64) { f.used -= b }

func TestChoose(t *testing.T) {
	cb, err := New(16, 4)
	require.NoError(t, err)
	a := NewAssigner(cb)

	b, release := a.Choose(DefaultHostThreshold+1, 1, DefaultHostThreshold, nil)
	assert.Equal(t, Host, b)
	release()

	b, release = a.Choose(100, 1, DefaultHostThreshold, nil)
	assert.Equal(t, Accelerated, b)
	release()

	r := &fakeReserver{limit: a.ScratchBytes(100)}
	b, release = a.Choose(100, 1, 0, r)
	assert.Equal(t, Accelerated, b)
	assert.Equal(t, a.ScratchBytes(100), r.used)

	b2, release2 := a.Choose(100, 1, 0, r)
	assert.Equal(t, Host, b2)
	release2()

	release()
	assert.Zero(t, r.used)
}
