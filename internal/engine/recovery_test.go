package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/catalog"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/index/bitmap"
	"github.com/graphcore/engine/internal/index/btree"
	"github.com/graphcore/engine/internal/index/hnsw"
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/wal"
)

// newCrashGraph opens a fresh, empty store triple plus an empty WAL in
// dir, mirroring the Graph construction in Open but without going
// through the Engine constructor — the WAL is populated by hand below
// to simulate entries that were fsynced before a crash but never
// reflected in a checkpoint, which is exactly the state recoverWAL
// must reconstruct from on the next Open.
func newCrashGraph(t *testing.T, dir string) (*exec.Graph, *wal.WAL) {
	t.Helper()
	log := zap.NewNop()

	cat, err := catalog.Open(filepath.Join(dir, "catalog"), log)
	require.NoError(t, err)
	nodes, err := store.OpenNodeStore(dir, 64, 64, log)
	require.NoError(t, err)
	rels, err := store.OpenRelStore(dir, 64, 64, log)
	require.NoError(t, err)
	props, err := store.OpenPropStore(dir, 64, 64, log)
	require.NoError(t, err)
	blobs, err := store.OpenBlobStore(dir, 64, 64, log)
	require.NoError(t, err)
	labels, err := bitmap.Open(dir, log)
	require.NoError(t, err)
	w, err := wal.Open(dir, log)
	require.NoError(t, err)

	g := &exec.Graph{
		Catalog:         cat,
		Nodes:           nodes,
		Rels:            rels,
		Props:           props,
		Blobs:           blobs,
		Labels:          labels,
		Vectors:         map[uint32]*hnsw.Graph{},
		WAL:             w,
		PropertyIndexes: map[exec.PropertyIndexKey]*btree.Index{},
	}
	return g, w
}

// TestRecoverWALReconstructsNodesRelsAndProperties exercises the exact
// replay path Open takes after an unclean shutdown: entries land in
// the WAL (simulating writes that were durably appended before a
// crash) but the stores they describe are still empty, as they would
// be if the process died before its next checkpoint flushed them.
// recoverWAL alone must bring the stores back in sync.
func TestRecoverWALReconstructsNodesRelsAndProperties(t *testing.T) {
	dir := t.TempDir()
	g, w := newCrashGraph(t, dir)

	const personLabel = uint64(1) // bit 0
	personID := uint32(0)

	_, err := w.Append(wal.Entry{
		Epoch: 1, TxID: 1, Kind: wal.KindCreateNode,
		Payload: wal.EncodeCreateNode(wal.CreateNodePayload{ID: 0, Labels: personLabel}),
	})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{
		Epoch: 1, TxID: 1, Kind: wal.KindSetProperty,
		Payload: wal.EncodeSetProperty(wal.SetPropertyPayload{
			Owner: wal.OwnerNode, OwnerID: 0, KeyID: 0, ValType: uint8(store.TypeI64), Value: 42,
		}),
	})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{
		Epoch: 1, TxID: 1, Kind: wal.KindCreateNode,
		Payload: wal.EncodeCreateNode(wal.CreateNodePayload{ID: 1, Labels: personLabel}),
	})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{
		Epoch: 2, TxID: 2, Kind: wal.KindCreateRel,
		Payload: wal.EncodeCreateRel(wal.CreateRelPayload{ID: 0, Src: 0, Dst: 1, TypeID: personID}),
	})
	require.NoError(t, err)
	_, err = w.Append(wal.Entry{
		Epoch: 3, TxID: 3, Kind: wal.KindDeleteNode,
		Payload: wal.EncodeDeleteNode(wal.DeleteNodePayload{ID: 1}),
	})
	require.NoError(t, err)

	require.NoError(t, w.Close())

	// Reopen the WAL (as Open does) and replay it into the same, still
	// empty, stores.
	w2, err := wal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	maxEpoch, _, err := recoverWAL(g, w2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), maxEpoch)

	n0, err := g.Nodes.Read(0)
	require.NoError(t, err)
	require.Equal(t, personLabel, n0.Labels)

	p, err := g.Props.Find(n0.FirstPropPtr, 0)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, uint64(42), p.Value)

	visible1, err := g.Nodes.VisibleAt(1, 3)
	require.NoError(t, err)
	require.False(t, visible1, "node 1 was deleted at epoch 3")

	r0, err := g.Rels.Read(0)
	require.NoError(t, err)
	require.Equal(t, uint64(0), r0.Src)
	require.Equal(t, uint64(1), r0.Dst)

	// The label bitmap tracks membership through replay same as a live
	// write path: node 0 still carries the label, node 1 was deleted so
	// its membership was retracted.
	require.Contains(t, g.Labels.Iterator(0), uint64(0))
	require.NotContains(t, g.Labels.Iterator(0), uint64(1))
}

// TestRecoverWALIsIdempotentAcrossRepeatedReplay guards against a
// subtler crash scenario: a checkpoint that advanced the WAL's
// truncation point on disk but crashed before the truncation itself
// completed, leaving already-applied entries still present at the
// front of the log. Since Open always replays from offset 0 of
// whatever the log currently contains, replaying the same entries
// twice into fresh stores must be safe to call repeatedly over the
// same durable log without diverging — this test replays the same
// WAL into two independently opened store sets and checks they agree.
func TestRecoverWALIsIdempotentAcrossRepeatedReplay(t *testing.T) {
	dir := t.TempDir()
	g, w := newCrashGraph(t, dir)

	_, err := w.Append(wal.Entry{
		Epoch: 1, TxID: 1, Kind: wal.KindCreateNode,
		Payload: wal.EncodeCreateNode(wal.CreateNodePayload{ID: 0, Labels: 1}),
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w2, err := wal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	epochA, offA, err := recoverWAL(g, w2)
	require.NoError(t, err)

	dir2 := t.TempDir()
	g2, w3 := newCrashGraph(t, dir2)
	require.NoError(t, w3.Close())
	// Copy the same log bytes is unnecessary here: replay a second,
	// independently opened WAL reader over the first log's directory
	// is the realistic case (same durable file, reopened again).
	w4, err := wal.Open(dir, zap.NewNop())
	require.NoError(t, err)
	epochB, offB, err := recoverWAL(g2, w4)
	require.NoError(t, err)

	require.Equal(t, epochA, epochB)
	require.Equal(t, offA, offB)

	n1, err := g.Nodes.Read(0)
	require.NoError(t, err)
	n2, err := g2.Nodes.Read(0)
	require.NoError(t, err)
	require.Equal(t, n1.Labels, n2.Labels)
}
