package txn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginReadPinsCommittedEpoch(t *testing.T) {
	m := NewManager()
	m.RestoreEpoch(5)

	snap := m.BeginRead()
	assert.Equal(t, uint64(5), snap.ReadEpoch())

	w, err := m.BeginWrite(nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), w.NextWriteEpoch())
	newEpoch := w.PublishCommit()
	w.Release()
	assert.Equal(t, uint64(6), newEpoch)

	// A snapshot taken before the commit still observes the old epoch.
	assert.Equal(t, uint64(5), snap.ReadEpoch())
	snap.EndRead()

	// A new snapshot observes the commit.
	snap2 := m.BeginRead()
	assert.Equal(t, uint64(6), snap2.ReadEpoch())
	snap2.EndRead()
}

func TestWriterLockIsExclusive(t *testing.T) {
	m := NewManager()

	w1, err := m.BeginWrite(nil)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		w2, err := m.BeginWrite(nil)
		require.NoError(t, err)
		close(acquired)
		w2.Abort()
		w2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the lock while the first still held it")
	default:
	}

	w1.Abort()
	w1.Release()
	<-acquired
}

func TestBeginWriteHonorsCancel(t *testing.T) {
	m := NewManager()
	w1, err := m.BeginWrite(nil)
	require.NoError(t, err)
	defer func() { w1.Abort(); w1.Release() }()

	cancel := make(chan struct{})
	close(cancel)
	_, err = m.BeginWrite(cancel)
	require.Error(t, err)
}

func TestAbortDoesNotAdvanceEpoch(t *testing.T) {
	m := NewManager()
	before := m.CurrentEpoch()

	w, err := m.BeginWrite(nil)
	require.NoError(t, err)
	w.Abort()
	w.Release()

	assert.Equal(t, before, m.CurrentEpoch())
	assert.False(t, w.Committed())
	assert.True(t, w.Aborted())
}

func TestVisible(t *testing.T) {
	alive := uint64(math.MaxUint64)
	assert.True(t, Visible(1, alive, 1))
	assert.True(t, Visible(1, 5, 4))
	assert.False(t, Visible(1, 5, 5))
	assert.False(t, Visible(2, alive, 1))
}

func TestOldestActiveReadEpoch(t *testing.T) {
	m := NewManager()
	m.RestoreEpoch(3)

	assert.Equal(t, uint64(3), m.OldestActiveReadEpoch())

	s1 := m.BeginRead()
	w, err := m.BeginWrite(nil)
	require.NoError(t, err)
	w.PublishCommit()
	w.Release()

	s2 := m.BeginRead()
	assert.Equal(t, uint64(3), m.OldestActiveReadEpoch(), "s1 still pins the old epoch")

	s1.EndRead()
	assert.Equal(t, uint64(4), m.OldestActiveReadEpoch(), "only s2's epoch remains pinned")

	s2.EndRead()
	assert.Equal(t, m.CurrentEpoch(), m.OldestActiveReadEpoch())
}

func TestOwnWriteEpochNeverObservableByReaders(t *testing.T) {
	m := NewManager()
	w, err := m.BeginWrite(nil)
	require.NoError(t, err)
	defer func() { w.Abort(); w.Release() }()

	own := w.OwnWriteEpoch()
	snap := m.BeginRead()
	defer snap.EndRead()
	assert.Less(t, snap.ReadEpoch(), own)
}
