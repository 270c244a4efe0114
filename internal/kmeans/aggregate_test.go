package kmeans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulate(t *testing.T) {
	ds, err := NewDataset(1, []float64{1, 2, 9, 10})
	require.NoError(t, err)
	c, err := NewCentroids(3, 1, []float64{1, 9, 100})
	require.NoError(t, err)
	s := shardOf(t, ds)

	out, err := Assign(s, c, nil, 1)
	require.NoError(t, err)
	agg, err := Accumulate(s, out, c)
	require.NoError(t, err)

	assert.Equal(t, []float64{3, 19, 0}, agg.Sums)
	assert.Equal(t, []int64{2, 2, 0}, agg.Counts)
	assert.Equal(t, int64(4), agg.Total())
	assert.Equal(t, 2.0, agg.SSE)
}

func TestAccumulate_RejectsBadAssignment(t *testing.T) {
	ds, err := NewDataset(1, []float64{1, 2})
	require.NoError(t, err)
	c, err := NewCentroids(2, 1, []float64{1, 2})
	require.NoError(t, err)

	_, err = Accumulate(shardOf(t, ds), []int32{0}, c)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Accumulate(shardOf(t, ds), []int32{0, 2}, c)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestReduce_MatchesUnpartitioned(t *testing.T) {
	ds := randomDataset(t, 1001, 3, 42)
	c, err := Seed(ds, 6, 3)
	require.NoError(t, err)

	full := shardOf(t, ds)
	fullOut, err := Assign(full, c, nil, 1)
	require.NoError(t, err)
	want, err := Accumulate(full, fullOut, c)
	require.NoError(t, err)

	for workers := 1; workers <= 7; workers++ {
		shards, err := Partition(ds, workers, RemainderLast)
		require.NoError(t, err)

		parts := make([]Aggregate, 0, workers)
		for _, s := range shards {
			out, err := Assign(s, c, nil, 1)
			require.NoError(t, err)
			agg, err := Accumulate(s, out, c)
			require.NoError(t, err)
			parts = append(parts, agg)
		}

		got, err := Reduce(parts...)
		require.NoError(t, err)
		assert.Equal(t, want.Counts, got.Counts, "workers=%d", workers)
		assert.Equal(t, int64(ds.Len()), got.Total())
		assert.InDeltaSlice(t, want.Sums, got.Sums, 1e-9, "workers=%d", workers)
		assert.InDelta(t, want.SSE, got.SSE, 1e-9, "workers=%d", workers)
	}
}

func TestReduce_OrderIndependentCounts(t *testing.T) {
	a := Aggregate{K: 2, Dim: 1, Sums: []float64{1, 2}, Counts: []int64{1, 1}}
	b := Aggregate{K: 2, Dim: 1, Sums: []float64{3, 0}, Counts: []int64{2, 0}}

	ab, err := Reduce(a, b)
	require.NoError(t, err)
	ba, err := Reduce(b, a)
	require.NoError(t, err)
	assert.Equal(t, ab, ba)

	// The inputs are untouched.
	assert.Equal(t, []float64{1, 2}, a.Sums)
}

func TestMerge_ShapeMismatch(t *testing.T) {
	a, err := NewAggregate(2, 2)
	require.NoError(t, err)
	b, err := NewAggregate(3, 2)
	require.NoError(t, err)

	assert.ErrorIs(t, a.Merge(b), ErrShapeMismatch)
	assert.ErrorIs(t, a.Merge(Aggregate{K: 2, Dim: 2}), ErrShapeMismatch)

	_, err = Reduce()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestUpdate_Mean(t *testing.T) {
	prev, err := NewCentroids(2, 1, []float64{1, 9})
	require.NoError(t, err)
	g := Aggregate{K: 2, Dim: 1, Sums: []float64{3, 19}, Counts: []int64{2, 2}}

	next, err := Update(prev, g)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 9.5}, next.Coords())
	// prev is a value of its own.
	assert.Equal(t, []float64{1, 9}, prev.Coords())
}

func TestUpdate_EmptyClusterKeepsCentroid(t *testing.T) {
	prev, err := NewCentroids(3, 2, []float64{0, 0, 5, 5, 7, 7})
	require.NoError(t, err)
	g := Aggregate{
		K:      3,
		Dim:    2,
		Sums:   []float64{2, 4, 0, 0, 21, 21},
		Counts: []int64{2, 0, 3},
	}

	next, err := Update(prev, g)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, next.At(0))
	assert.Equal(t, []float64{5, 5}, next.At(1))
	assert.Equal(t, []float64{7, 7}, next.At(2))
}

func TestUpdate_ShapeMismatch(t *testing.T) {
	prev, err := NewCentroids(2, 1, []float64{1, 9})
	require.NoError(t, err)
	g, err := NewAggregate(3, 1)
	require.NoError(t, err)

	_, err = Update(prev, g)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAllocationFailure(t *testing.T) {
	_, err := mulSize(int(^uint(0)>>1), 2)
	assert.ErrorIs(t, err, ErrAllocation)

	_, err = NewAggregate(int(^uint(0)>>2), 4)
	assert.ErrorIs(t, err, ErrAllocation)

	_, err = allocFloat64(-1)
	assert.ErrorIs(t, err, ErrAllocation)
}
