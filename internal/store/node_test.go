package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	s, err := OpenNodeStore(t.TempDir(), 64, 32, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNodeCreateAndRead(t *testing.T) {
	s := newTestNodeStore(t)
	id, err := s.Create(0b101, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	n, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), n.Labels)
	assert.Equal(t, NodeInUse, n.Flags)
}

func TestNodeVisibleAtRespectsCreatedAndDeletedEpoch(t *testing.T) {
	s := newTestNodeStore(t)
	id, err := s.Create(0, 5)
	require.NoError(t, err)

	visible, err := s.VisibleAt(id, 4)
	require.NoError(t, err)
	assert.False(t, visible, "not yet visible before its created epoch")

	visible, err = s.VisibleAt(id, 5)
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, s.MarkDeleted(id, 10))

	visible, err = s.VisibleAt(id, 9)
	require.NoError(t, err)
	assert.True(t, visible, "still visible the epoch before deletion")

	visible, err = s.VisibleAt(id, 10)
	require.NoError(t, err)
	assert.False(t, visible, "no longer visible at its deleted epoch")
}

func TestNodeAllocSlotGrowsSequentially(t *testing.T) {
	s := newTestNodeStore(t)
	a, err := s.Create(0, 1)
	require.NoError(t, err)
	b, err := s.Create(0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(1), b)
	assert.Equal(t, uint64(2), s.Count())
}

func TestNodeReclaimReusesSlotLIFO(t *testing.T) {
	s := newTestNodeStore(t)
	a, err := s.Create(0, 1)
	require.NoError(t, err)
	_, err = s.Create(0, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), s.PeekNextID(), "no reclaimed slots yet, peek grows past both")

	s.Reclaim(a)
	assert.Equal(t, a, s.PeekNextID(), "peek must return the reclaimed slot before growing")

	reused, err := s.Create(0, 2)
	require.NoError(t, err)
	assert.Equal(t, a, reused)
	assert.Equal(t, uint64(2), s.Count(), "count does not grow when reusing a reclaimed slot")
}

func TestNodeCreateAtSlotConsumesMatchingFreelistHead(t *testing.T) {
	s := newTestNodeStore(t)
	a, err := s.Create(0, 1)
	require.NoError(t, err)
	s.Reclaim(a)

	require.NoError(t, s.CreateAtSlot(a, 0xAB, 3))
	assert.Equal(t, uint64(1), s.PeekNextID(), "replay consuming the reclaimed slot must pop it from the freelist")

	n, err := s.Read(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xAB), n.Labels)
}

func TestNodeCreateAtSlotBeyondNextSlotGrows(t *testing.T) {
	s := newTestNodeStore(t)
	require.NoError(t, s.CreateAtSlot(5, 1, 1))
	assert.Equal(t, uint64(6), s.Count())
}

func TestNodeEpochsExposesCreatedAndDeleted(t *testing.T) {
	s := newTestNodeStore(t)
	id, err := s.Create(0, 7)
	require.NoError(t, err)

	created, deleted, err := s.Epochs(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), created)
	assert.Equal(t, uint64(AliveDeletedEpoch), deleted)
}

func TestNodeSetLabelsAndFirstPtrs(t *testing.T) {
	s := newTestNodeStore(t)
	id, err := s.Create(1, 1)
	require.NoError(t, err)

	require.NoError(t, s.SetLabels(id, 0b11))
	n, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b11), n.Labels)

	require.NoError(t, s.SetFirstRelPtr(id, 42))
	ptr, err := s.FirstRelPtr(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ptr)

	require.NoError(t, s.SetFirstPropPtr(id, 99))
	n2, err := s.Read(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(99), n2.FirstPropPtr)
}
