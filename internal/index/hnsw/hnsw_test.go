package hnsw

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphcore/engine/internal/config"
)

func mustGraph(t *testing.T, dim int) *Graph {
	t.Helper()
	g, err := New(dim, config.Euclidean, 16, 64, 32, 42)
	require.NoError(t, err)
	return g
}

func TestNewRejectsNonPositiveDim(t *testing.T) {
	_, err := New(0, config.Cosine, 16, 64, 32, 1)
	require.Error(t, err)
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	g := mustGraph(t, 3)
	vectors := map[uint64][]float32{
		1: {1, 0, 0},
		2: {0, 1, 0},
		3: {0, 0, 1},
		4: {1, 1, 0},
	}
	for id, v := range vectors {
		require.NoError(t, g.Insert(id, v))
	}

	results := g.Search([]float32{1, 0, 0}, 1)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(1), results[0].NodeID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestSearchReturnsKNearestOrderedByDistance(t *testing.T) {
	g := mustGraph(t, 1)
	for id := uint64(0); id < 10; id++ {
		require.NoError(t, g.Insert(id, []float32{float32(id)}))
	}

	results := g.Search([]float32{4.2}, 3)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
	assert.Equal(t, uint64(4), results[0].NodeID)
}

func TestRemoveExcludesFromSearch(t *testing.T) {
	g := mustGraph(t, 2)
	require.NoError(t, g.Insert(1, []float32{0, 0}))
	require.NoError(t, g.Insert(2, []float32{10, 10}))

	g.Remove(1)
	assert.Equal(t, 1, g.Size())

	results := g.Search([]float32{0, 0}, 2)
	for _, r := range results {
		assert.NotEqual(t, uint64(1), r.NodeID)
	}
}

func TestCompactDropsTombstonesPermanently(t *testing.T) {
	g := mustGraph(t, 2)
	for id := uint64(0); id < 5; id++ {
		require.NoError(t, g.Insert(id, []float32{float32(id), 0}))
	}
	g.Remove(2)
	require.Equal(t, 4, g.Size())

	g.Compact()
	assert.Equal(t, 4, g.Size())

	results := g.Search([]float32{2, 0}, 5)
	ids := make(map[uint64]bool)
	for _, r := range results {
		ids[r.NodeID] = true
	}
	assert.False(t, ids[2])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := mustGraph(t, 3)
	for id := uint64(0); id < 20; id++ {
		require.NoError(t, g.Insert(id, []float32{float32(id), float32(id) * 2, 1}))
	}

	path := filepath.Join(t.TempDir(), "L1.bin")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path, 99)
	require.NoError(t, err)
	assert.Equal(t, g.Size(), loaded.Size())

	want := g.Search([]float32{5, 10, 1}, 3)
	got := loaded.Search([]float32{5, 10, 1}, 3)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].NodeID, got[i].NodeID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.bin"), 1)
	assert.Error(t, err)
}
