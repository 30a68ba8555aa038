package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func denseOf(name string, rows, cols int, vals ...float32) *Dense {
	d := NewDense(name, rows, cols)
	copy(d.Data, vals)
	return d
}

func TestMergeSumCommutativity(t *testing.T) {
	a := denseOf("w", 1, 1, 1)
	b := denseOf("w", 1, 1, 2)
	c := denseOf("w", 1, 1, 4)

	forward, err := Merge([]Variable{a, b, c}, MergeSum)
	require.NoError(t, err)
	reversed, err := Merge([]Variable{c, b, a}, MergeSum)
	require.NoError(t, err)

	assert.Equal(t, []float32{7}, forward.(*Dense).Data)
	assert.Equal(t, forward.(*Dense).Data, reversed.(*Dense).Data)
}

func TestMergeDenseShapeMismatchIsFatal(t *testing.T) {
	a := denseOf("w", 1, 2, 1, 1)
	b := denseOf("w", 2, 1, 1, 1)
	_, err := Merge([]Variable{a, b}, MergeSum)
	assert.Error(t, err)
}

func TestMergeEmptyInputIsFatal(t *testing.T) {
	_, err := Merge(nil, MergeSum)
	assert.Error(t, err)
}

func TestMergeMixedKindsIsFatal(t *testing.T) {
	d := denseOf("w", 1, 1, 1)
	s := NewSparse("w", 4, 1)
	_, err := Merge([]Variable{d, s}, MergeSum)
	assert.Error(t, err)
}

func TestMergeSparseDedup(t *testing.T) {
	a := NewSparse("w", 10, 2)
	a.Set(3, []float32{1, 1})
	a.Set(7, []float32{2, 2})

	b := NewSparse("w", 10, 2)
	b.Set(7, []float32{3, 3})
	b.Set(1, []float32{5, 5})

	merged, err := Merge([]Variable{a, b}, MergeSum)
	require.NoError(t, err)
	sp := merged.(*Sparse)

	assert.Equal(t, []int64{3, 7, 1}, sp.RowIDs) // insertion order of first appearance
	seen := map[int64][]float32{}
	for i, id := range sp.RowIDs {
		seen[id] = sp.Row(i)
	}
	assert.Equal(t, []float32{1, 1}, seen[3])
	assert.Equal(t, []float32{5, 5}, seen[7])
	assert.Equal(t, []float32{5, 5}, seen[1])
}

func TestSplitRoundTrip(t *testing.T) {
	merged := denseOf("w", 5, 2, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	shards, err := Split(merged, []int{2, 3})
	require.NoError(t, err)
	require.Len(t, shards, 2)

	rebuilt := FlattenDense([]*Dense{shards[0].(*Dense), shards[1].(*Dense)})
	assert.Equal(t, merged.Data, rebuilt.Data)
}

func TestSplitSparseRebasesIndices(t *testing.T) {
	s := NewSparse("w", 5, 1)
	s.Set(0, []float32{10})
	s.Set(4, []float32{40})
	shards, err := Split(s, []int{2, 3})
	require.NoError(t, err)

	shard0 := shards[0].(*Sparse)
	shard1 := shards[1].(*Sparse)
	assert.Equal(t, []int64{0}, shard0.RowIDs)
	assert.Equal(t, []int64{2}, shard1.RowIDs) // 4 - prefix(2) = 2
}

func TestScatterDenseRejectsSizeMismatch(t *testing.T) {
	flat := denseOf("w", 4, 1, 1, 2, 3, 4)
	a := NewDense("a", 1, 1)
	err := ScatterDense(flat, []*Dense{a})
	assert.Error(t, err)
}

func TestScatterDenseIntoMultipleOrigins(t *testing.T) {
	flat := denseOf("w", 4, 1, 1, 2, 3, 4)
	a := NewDense("a", 2, 1)
	b := NewDense("b", 2, 1)
	require.NoError(t, ScatterDense(flat, []*Dense{a, b}))
	assert.Equal(t, []float32{1, 2}, a.Data)
	assert.Equal(t, []float32{3, 4}, b.Data)
}
