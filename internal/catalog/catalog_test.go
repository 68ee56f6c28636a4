package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetOrCreateLabelIsIdempotentAndSurvivesReplay(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	id1, err := c.GetOrCreateLabel("Person")
	require.NoError(t, err)
	id2, err := c.GetOrCreateLabel("Person")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	require.NoError(t, c.Close())

	c2, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()
	got, ok := c2.TryLookupLabel("Person")
	require.True(t, ok)
	assert.Equal(t, id1, got)
}

func TestPersistCountsRoundTripsThroughReopen(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, zap.NewNop())
	require.NoError(t, err)

	c.AdjustNodeCount(1, 3)
	c.AdjustNodeCount(2, 1)
	c.AdjustRelCount(5, 2)
	c.AdjustPropertyCount(7)

	require.NoError(t, c.PersistCounts(dir))
	require.NoError(t, c.Close())

	c2, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()

	counts := c2.SnapshotCounts()
	assert.EqualValues(t, 3, counts.NodesPerLabel[1])
	assert.EqualValues(t, 1, counts.NodesPerLabel[2])
	assert.EqualValues(t, 2, counts.RelsPerType[5])
	assert.EqualValues(t, 7, counts.Properties)
}

func TestLoadCountsIsNoOpWhenNoSnapshotExists(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	counts := c.SnapshotCounts()
	assert.Empty(t, counts.NodesPerLabel)
	assert.Empty(t, counts.RelsPerType)
	assert.Zero(t, counts.Properties)
}

func TestPersistCountsOverwritesPriorSnapshot(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	c.AdjustNodeCount(1, 1)
	require.NoError(t, c.PersistCounts(dir))

	c.AdjustNodeCount(1, 9)
	require.NoError(t, c.PersistCounts(dir))
	require.NoError(t, c.Close())

	c2, err := Open(dir, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()
	assert.EqualValues(t, 10, c2.SnapshotCounts().NodesPerLabel[1])
}
