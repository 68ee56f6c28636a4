package exec

import (
	"github.com/graphcore/engine/internal/catalog"
	"github.com/graphcore/engine/internal/index/bitmap"
	"github.com/graphcore/engine/internal/index/btree"
	"github.com/graphcore/engine/internal/index/hnsw"
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/txn"
	"github.com/graphcore/engine/internal/wal"
)

// Graph bundles the storage and index handles an operator pipeline
// reads through. It carries no mutable query state of its own, so many
// independent queries may share one Graph concurrently (spec §4.9
// "the executor holds no mutable global state").
type Graph struct {
	Catalog *catalog.Catalog
	Nodes   *store.NodeStore
	Rels    *store.RelStore
	Props   *store.PropStore
	Blobs   *store.BlobStore
	Labels  *bitmap.LabelIndex
	Vectors map[uint32]*hnsw.Graph // label id -> vector index
	WAL     *wal.WAL

	// PropertyIndexes holds the opt-in property B-trees created via
	// Engine.CreatePropertyIndex (spec §4.6 "optional V1" index); absent
	// entries mean "no index for this (label, key)", the common case.
	PropertyIndexes map[PropertyIndexKey]*btree.Index
}

// Snapshot is the MVCC read view (spec §4.9 "a shared read snapshot").
type Snapshot interface {
	ReadEpoch() uint64
}

// Cancel is the cooperative cancellation signal checked by every
// operator's Next (spec §4.9 "Cancellation/timeouts").
type Cancel <-chan struct{}

func (c Cancel) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// Ctx is threaded through every operator's Open/Next call.
type Ctx struct {
	Graph    *Graph
	Snapshot Snapshot
	Params   map[string]Value
	Cancel   Cancel

	// OwnWriteEpoch, when non-zero, is the provisional epoch a write
	// transaction's own statements read at so they observe their own
	// uncommitted writes (spec §4.9 "Write visibility to subsequent
	// reads in the same transaction").
	OwnWriteEpoch uint64

	// Txn is set for write transactions; the write operators (Create,
	// Merge, Set, Remove, Delete) use it to append WAL entries under
	// the correct tx id and write epoch. Nil for read-only execution.
	Txn *txn.WriteTxn
}

// ReadEpoch returns the epoch operators should use for MVCC visibility
// checks: the transaction's own-write epoch if set, else the pinned
// snapshot epoch.
func (c *Ctx) ReadEpoch() uint64 {
	if c.OwnWriteEpoch != 0 {
		return c.OwnWriteEpoch
	}
	return c.Snapshot.ReadEpoch()
}
