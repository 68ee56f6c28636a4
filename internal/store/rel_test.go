package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRelFixture(t *testing.T) (*NodeStore, *RelStore) {
	t.Helper()
	nodes, err := OpenNodeStore(t.TempDir(), 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = nodes.Close() })
	rels, err := OpenRelStore(t.TempDir(), 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rels.Close() })
	return nodes, rels
}

func TestRelCreatePrependsAdjacencyChains(t *testing.T) {
	nodes, rels := newTestRelFixture(t)
	a, err := nodes.Create(0, 1)
	require.NoError(t, err)
	b, err := nodes.Create(0, 1)
	require.NoError(t, err)

	r1, err := rels.Create(a, b, 10, 1, nodes)
	require.NoError(t, err)
	r2, err := rels.Create(a, b, 10, 2, nodes)
	require.NoError(t, err)

	var seen []uint64
	require.NoError(t, rels.IterChain(a, nodes, func(r *Rel) bool {
		seen = append(seen, r.ID)
		return true
	}))
	assert.Equal(t, []uint64{r2, r1}, seen, "most recently created relationship is chain head")
}

func TestRelDeleteSplicesOutOfBothChains(t *testing.T) {
	nodes, rels := newTestRelFixture(t)
	a, err := nodes.Create(0, 1)
	require.NoError(t, err)
	b, err := nodes.Create(0, 1)
	require.NoError(t, err)

	r1, err := rels.Create(a, b, 10, 1, nodes)
	require.NoError(t, err)
	r2, err := rels.Create(a, b, 10, 2, nodes)
	require.NoError(t, err)

	require.NoError(t, rels.Delete(r2, 3, nodes))

	var seenFromA, seenFromB []uint64
	require.NoError(t, rels.IterChain(a, nodes, func(r *Rel) bool { seenFromA = append(seenFromA, r.ID); return true }))
	require.NoError(t, rels.IterChain(b, nodes, func(r *Rel) bool { seenFromB = append(seenFromB, r.ID); return true }))
	assert.Equal(t, []uint64{r1}, seenFromA)
	assert.Equal(t, []uint64{r1}, seenFromB)
}

func TestRelSelfLoopSplicesOnce(t *testing.T) {
	nodes, rels := newTestRelFixture(t)
	a, err := nodes.Create(0, 1)
	require.NoError(t, err)

	r1, err := rels.Create(a, a, 10, 1, nodes)
	require.NoError(t, err)
	require.NoError(t, rels.Delete(r1, 2, nodes))

	var seen []uint64
	require.NoError(t, rels.IterChain(a, nodes, func(r *Rel) bool { seen = append(seen, r.ID); return true }))
	assert.Empty(t, seen)
}

func TestRelReclaimedSlotIsReusedByCreate(t *testing.T) {
	nodes, rels := newTestRelFixture(t)
	a, err := nodes.Create(0, 1)
	require.NoError(t, err)
	b, err := nodes.Create(0, 1)
	require.NoError(t, err)

	r1, err := rels.Create(a, b, 1, 1, nodes)
	require.NoError(t, err)
	require.NoError(t, rels.Delete(r1, 2, nodes))
	rels.Reclaim(r1)

	assert.Equal(t, r1, rels.PeekNextID())
	reused, err := rels.Create(a, b, 2, 3, nodes)
	require.NoError(t, err)
	assert.Equal(t, r1, reused)
	assert.Equal(t, uint64(1), rels.Count())
}
