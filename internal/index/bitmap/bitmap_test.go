package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRemoveCardinality(t *testing.T) {
	idx, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	idx.Add(1, 10)
	idx.Add(1, 20)
	idx.Add(2, 20)
	assert.Equal(t, uint64(2), idx.Cardinality(1))
	assert.Equal(t, uint64(1), idx.Cardinality(2))
	assert.Equal(t, uint64(0), idx.Cardinality(99), "unknown label has no bitmap")

	idx.Remove(1, 10)
	assert.Equal(t, uint64(1), idx.Cardinality(1))
	assert.ElementsMatch(t, []uint64{20}, idx.Iterator(1))
}

func TestAndIntersection(t *testing.T) {
	idx, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	idx.Add(1, 1)
	idx.Add(1, 2)
	idx.Add(1, 3)
	idx.Add(2, 2)
	idx.Add(2, 3)
	idx.Add(2, 4)

	assert.ElementsMatch(t, []uint64{2, 3}, idx.And(1, 2))
	assert.Nil(t, idx.And(1, 99), "unknown label makes the intersection empty")
}

func TestAndNot(t *testing.T) {
	idx, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	idx.Add(1, 1)
	idx.Add(1, 2)
	idx.Add(1, 3)
	idx.Add(2, 2)

	assert.ElementsMatch(t, []uint64{1, 3}, idx.AndNot(1, 2))
	assert.ElementsMatch(t, []uint64{1, 2, 3}, idx.AndNot(1, 99))
}

func TestFlushAndReopenPersists(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir, nil)
	require.NoError(t, err)

	idx.Add(5, 100)
	idx.Add(5, 200)
	idx.Add(7, 300)
	require.NoError(t, idx.Flush())

	reopened, err := Open(dir, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{100, 200}, reopened.Iterator(5))
	assert.ElementsMatch(t, []uint64{300}, reopened.Iterator(7))
}
