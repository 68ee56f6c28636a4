package store

import (
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/pagecache"
)

// NodeRecordSize is the fixed 32-byte node record (spec §6.2):
// label_bitmap:u64 | first_rel_ptr:u64 | first_prop_ptr:u64 | flags:u64.
const NodeRecordSize = 32

// Node status bits packed into the low nibble of the record's flags
// field; the epochs that would otherwise share that field live in the
// epoch sidecar (see epoch.go).
const (
	NodeInUse Flag = 1 << iota
	NodeDeleted
	NodeLocked
)

type Flag uint64

// Node is the decoded, in-memory view of one node record.
type Node struct {
	ID           uint64
	Labels       uint64 // up to 64 labels per node (spec §3.1)
	FirstRelPtr  uint64 // slot+1, 0 = none
	FirstPropPtr uint64
	Flags        Flag
}

// NodeStore is the append-growing mmap file of fixed 32-byte node
// records, fronted by a page cache.
type NodeStore struct {
	pages    *pagecache.PagedStore
	epochs   *epochSidecar
	nextSlot uint64   // next free slot; grown only under the writer lock.
	freeList []uint64 // slots reclaimed by compaction, reused before growing nextSlot.
}

func OpenNodeStore(dir string, capacityPages, maxDirty int, log *zap.Logger) (*NodeStore, error) {
	pages, err := pagecache.Open(dir, "nodes.store", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	epochs, err := openEpochSidecar(dir, "nodes.epochs", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	return &NodeStore{pages: pages, epochs: epochs}, nil
}

func (s *NodeStore) Close() error {
	if err := s.epochs.close(); err != nil {
		return err
	}
	return s.pages.Close()
}

// Flush writes every dirty page's checksum and msyncs it, without
// closing the store; used by checkpoint (spec §4.4).
func (s *NodeStore) Flush() error { return s.pages.FlushDirty() }

func (s *NodeStore) Stats() pagecache.Stats { return s.pages.Stats() }

func (s *NodeStore) offset(slot uint64) int64 { return int64(slot) * NodeRecordSize }

func (s *NodeStore) encode(n *Node) []byte {
	buf := make([]byte, NodeRecordSize)
	le.PutUint64(buf[0:8], n.Labels)
	le.PutUint64(buf[8:16], n.FirstRelPtr)
	le.PutUint64(buf[16:24], n.FirstPropPtr)
	le.PutUint64(buf[24:32], uint64(n.Flags))
	return buf
}

func (s *NodeStore) decode(id uint64, buf []byte) *Node {
	return &Node{
		ID:           id,
		Labels:       le.Uint64(buf[0:8]),
		FirstRelPtr:  le.Uint64(buf[8:16]),
		FirstPropPtr: le.Uint64(buf[16:24]),
		Flags:        Flag(le.Uint64(buf[24:32])),
	}
}

// Create appends a new node with the given label bitmap, stamped with
// createdEpoch, and returns its id. Called by the writer within a
// transaction after the WAL entry has been appended (spec §4.3
// "Writes always go through WAL first").
func (s *NodeStore) Create(labels uint64, createdEpoch uint64) (uint64, error) {
	slot := s.allocSlot()
	n := &Node{ID: slot, Labels: labels, Flags: NodeInUse}
	if err := s.pages.WriteAt(s.offset(slot), s.encode(n)); err != nil {
		return 0, err
	}
	if err := s.epochs.stampCreated(slot, createdEpoch); err != nil {
		return 0, err
	}
	return slot, nil
}

// CreateAtSlot re-creates a node at a specific slot id with a specific
// epoch; used by WAL replay, where the slot id is part of the payload
// and must be applied idempotently regardless of how many times replay
// runs (spec §4.4 "Idempotent re-application must be safe").
func (s *NodeStore) CreateAtSlot(slot, labels, createdEpoch uint64) error {
	if slot >= s.nextSlot {
		s.nextSlot = slot + 1
	} else if n := len(s.freeList); n > 0 && s.freeList[n-1] == slot {
		s.freeList = s.freeList[:n-1]
	}
	n := &Node{ID: slot, Labels: labels, Flags: NodeInUse}
	if err := s.pages.WriteAt(s.offset(slot), s.encode(n)); err != nil {
		return err
	}
	return s.epochs.stampCreated(slot, createdEpoch)
}

// allocSlot returns a reclaimed slot if compaction has freed one,
// otherwise grows the store. LIFO reuse keeps recently-freed (and so
// likely still page-cache-resident) slots hottest.
func (s *NodeStore) allocSlot() uint64 {
	if n := len(s.freeList); n > 0 {
		slot := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return slot
	}
	slot := s.nextSlot
	s.nextSlot++
	return slot
}

// Count returns one past the highest slot ever allocated, the bound a
// full scan (e.g. compaction) must iterate up to; freed slots are still
// within this range until reused.
func (s *NodeStore) Count() uint64 { return s.nextSlot }

// Epochs exposes a slot's created/deleted epoch pair for compaction's
// reclaim scan.
func (s *NodeStore) Epochs(id uint64) (created, deleted uint64, err error) {
	return s.epochs.read(id)
}

// Reclaim returns a tombstoned slot to the free list so a future
// Create reuses it (spec §4.6 "record-slot reuse compaction"). Callers
// must only reclaim slots already invisible to every active reader.
func (s *NodeStore) Reclaim(id uint64) {
	s.freeList = append(s.freeList, id)
}

// PeekNextID returns the slot the next Create/CreateAtSlot call will
// assign — a reclaimed slot if compaction freed one, otherwise the next
// unused slot — so a writer can record it in the WAL entry that
// precedes the store write (spec §4.3 "Writes always go through WAL
// first"). Safe only under the single-writer lock. It only peeks: the
// freelist entry is consumed by CreateAtSlot, not by this call, so a
// WAL append failure between the two leaves the slot still reclaimable.
func (s *NodeStore) PeekNextID() uint64 {
	if n := len(s.freeList); n > 0 {
		return s.freeList[n-1]
	}
	return s.nextSlot
}

func (s *NodeStore) Read(id uint64) (*Node, error) {
	buf := make([]byte, NodeRecordSize)
	if err := s.pages.ReadAt(s.offset(id), buf); err != nil {
		return nil, err
	}
	return s.decode(id, buf), nil
}

func (s *NodeStore) VisibleAt(id, readEpoch uint64) (bool, error) {
	return s.epochs.visibleAt(id, readEpoch)
}

func (s *NodeStore) MarkDeleted(id, deletedEpoch uint64) error {
	n, err := s.Read(id)
	if err != nil {
		return err
	}
	n.Flags |= NodeDeleted
	if err := s.pages.WriteAt(s.offset(id), s.encode(n)); err != nil {
		return err
	}
	return s.epochs.markDeleted(id, deletedEpoch)
}

// SetFirstRelPtr publishes a new adjacency-chain head for node id with a
// sequentially-consistent fence after the mmap write, and is the write
// side of the memory-ordering contract in spec §4.3: a second
// relationship created against the same node within one transaction
// must observe the first relationship's chain-head update. Without this
// fence, adjacency chains silently truncate to one element under
// concurrent or reordered writes (spec §4.3, §9 known hazard).
func (s *NodeStore) SetFirstRelPtr(id, ptr uint64) error {
	n, err := s.readFenced(id)
	if err != nil {
		return err
	}
	n.FirstRelPtr = ptr
	if err := s.pages.WriteAt(s.offset(id), s.encode(n)); err != nil {
		return err
	}
	fenceSeqCst()
	return nil
}

// SetLabels rewrites a node's label bitmap, used by REMOVE n:Label
// (spec §4.9 "Remove"). Unlike chain-head pointers this field has no
// concurrent-reader race to fence: label membership changes are always
// paired with an index mutation (LabelIndex.Add/Remove) performed by
// the caller under the writer lock before commit.
func (s *NodeStore) SetLabels(id, labels uint64) error {
	n, err := s.Read(id)
	if err != nil {
		return err
	}
	n.Labels = labels
	return s.pages.WriteAt(s.offset(id), s.encode(n))
}

func (s *NodeStore) SetFirstPropPtr(id, ptr uint64) error {
	n, err := s.Read(id)
	if err != nil {
		return err
	}
	n.FirstPropPtr = ptr
	if err := s.pages.WriteAt(s.offset(id), s.encode(n)); err != nil {
		return err
	}
	fenceSeqCst()
	return nil
}

// readFenced issues an acquire fence before reading a node's chain head,
// the read-side half of the §4.3 memory-ordering contract.
func (s *NodeStore) readFenced(id uint64) (*Node, error) {
	fenceSeqCst()
	return s.Read(id)
}

func (s *NodeStore) FirstRelPtr(id uint64) (uint64, error) {
	n, err := s.readFenced(id)
	if err != nil {
		return 0, err
	}
	return n.FirstRelPtr, nil
}
