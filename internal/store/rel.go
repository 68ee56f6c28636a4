package store

import (
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/pagecache"
)

// RelRecordSize is the fixed 48-byte relationship record (spec §6.2):
// src_id:u64 | dst_id:u64 | type_id:u32 | next_src_ptr:u64 |
// next_dst_ptr:u64 | prop_ptr:u64 | flags:u32.
const RelRecordSize = 48

const (
	RelInUse Flag = 1 << iota
	RelDeleted
)

// Rel is the decoded, in-memory view of one relationship record.
type Rel struct {
	ID          uint64
	Src         uint64
	Dst         uint64
	TypeID      uint32
	NextSrcPtr  uint64 // next in Src's chain
	NextDstPtr  uint64 // next in Dst's chain
	PropPtr     uint64
	Flags       Flag
}

// RelStore is the append-growing mmap file of fixed 48-byte relationship
// records, fronted by a page cache.
type RelStore struct {
	pages    *pagecache.PagedStore
	epochs   *epochSidecar
	nextSlot uint64
	freeList []uint64 // slots reclaimed by compaction, reused before growing nextSlot.
}

func OpenRelStore(dir string, capacityPages, maxDirty int, log *zap.Logger) (*RelStore, error) {
	pages, err := pagecache.Open(dir, "rels.store", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	epochs, err := openEpochSidecar(dir, "rels.epochs", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	return &RelStore{pages: pages, epochs: epochs}, nil
}

func (s *RelStore) Close() error {
	if err := s.epochs.close(); err != nil {
		return err
	}
	return s.pages.Close()
}

func (s *RelStore) Flush() error { return s.pages.FlushDirty() }

func (s *RelStore) Stats() pagecache.Stats { return s.pages.Stats() }

func (s *RelStore) offset(slot uint64) int64 { return int64(slot) * RelRecordSize }

func (s *RelStore) encode(r *Rel) []byte {
	buf := make([]byte, RelRecordSize)
	le.PutUint64(buf[0:8], r.Src)
	le.PutUint64(buf[8:16], r.Dst)
	le.PutUint32(buf[16:20], r.TypeID)
	le.PutUint64(buf[20:28], r.NextSrcPtr)
	le.PutUint64(buf[28:36], r.NextDstPtr)
	le.PutUint64(buf[36:44], r.PropPtr)
	le.PutUint32(buf[44:48], uint32(r.Flags))
	return buf
}

func (s *RelStore) decode(id uint64, buf []byte) *Rel {
	return &Rel{
		ID:         id,
		Src:        le.Uint64(buf[0:8]),
		Dst:        le.Uint64(buf[8:16]),
		TypeID:     le.Uint32(buf[16:20]),
		NextSrcPtr: le.Uint64(buf[20:28]),
		NextDstPtr: le.Uint64(buf[28:36]),
		PropPtr:    le.Uint64(buf[36:44]),
		Flags:      Flag(le.Uint32(buf[44:48])),
	}
}

// PeekNextID mirrors NodeStore.PeekNextID for relationship creation.
func (s *RelStore) PeekNextID() uint64 {
	if n := len(s.freeList); n > 0 {
		return s.freeList[n-1]
	}
	return s.nextSlot
}

// allocSlot mirrors NodeStore.allocSlot.
func (s *RelStore) allocSlot() uint64 {
	if n := len(s.freeList); n > 0 {
		slot := s.freeList[n-1]
		s.freeList = s.freeList[:n-1]
		return slot
	}
	slot := s.nextSlot
	s.nextSlot++
	return slot
}

// Count returns one past the highest slot ever allocated (see
// NodeStore.Count).
func (s *RelStore) Count() uint64 { return s.nextSlot }

// Epochs exposes a slot's created/deleted epoch pair for compaction's
// reclaim scan.
func (s *RelStore) Epochs(id uint64) (created, deleted uint64, err error) {
	return s.epochs.read(id)
}

// Reclaim returns a tombstoned relationship slot to the free list (see
// NodeStore.Reclaim). The relationship must already be spliced out of
// both endpoints' adjacency chains (Delete does this at delete time).
func (s *RelStore) Reclaim(id uint64) {
	s.freeList = append(s.freeList, id)
}

// SetPropPtr publishes a new property-chain head for relationship id,
// mirroring NodeStore.SetFirstPropPtr.
func (s *RelStore) SetPropPtr(id, ptr uint64) error {
	r, err := s.Read(id)
	if err != nil {
		return err
	}
	r.PropPtr = ptr
	return s.write(r)
}

func (s *RelStore) Read(id uint64) (*Rel, error) {
	fenceSeqCst() // acquire side of §4.3: endpoints must be read-fresh.
	buf := make([]byte, RelRecordSize)
	if err := s.pages.ReadAt(s.offset(id), buf); err != nil {
		return nil, err
	}
	return s.decode(id, buf), nil
}

func (s *RelStore) VisibleAt(id, readEpoch uint64) (bool, error) {
	return s.epochs.visibleAt(id, readEpoch)
}

func (s *RelStore) write(r *Rel) error {
	if err := s.pages.WriteAt(s.offset(r.ID), s.encode(r)); err != nil {
		return err
	}
	fenceSeqCst()
	return nil
}

// Create prepends a new relationship to both its source's and
// destination's adjacency chains in O(1) (spec §4.3 "Adjacency
// chains"): it reads each endpoint's current chain head as prev, writes
// the new relationship with next_*_ptr = prev, then publishes the new
// head on each node. Insert order is: allocate+write the relationship
// record first, then flip both node heads, so a concurrent reader can
// never observe a node head pointing at a not-yet-written relationship.
func (s *RelStore) Create(src, dst uint64, typeID uint32, createdEpoch uint64, nodes *NodeStore) (uint64, error) {
	slot := s.allocSlot()

	prevSrc, err := nodes.FirstRelPtr(src)
	if err != nil {
		return 0, err
	}
	prevDst := prevSrc
	if dst != src {
		prevDst, err = nodes.FirstRelPtr(dst)
		if err != nil {
			return 0, err
		}
	}

	r := &Rel{ID: slot, Src: src, Dst: dst, TypeID: typeID, Flags: RelInUse}
	r.NextSrcPtr = prevSrc
	r.NextDstPtr = prevDst
	if err := s.write(r); err != nil {
		return 0, err
	}
	if err := s.epochs.stampCreated(slot, createdEpoch); err != nil {
		return 0, err
	}

	if err := nodes.SetFirstRelPtr(src, slotToPtr(slot)); err != nil {
		return 0, err
	}
	if dst != src {
		if err := nodes.SetFirstRelPtr(dst, slotToPtr(slot)); err != nil {
			return 0, err
		}
	}
	return slot, nil
}

// CreateAtSlot mirrors Create but at a caller-specified slot, for WAL
// replay idempotency.
func (s *RelStore) CreateAtSlot(slot, src, dst uint64, typeID uint32, createdEpoch uint64, nodes *NodeStore) error {
	if slot >= s.nextSlot {
		s.nextSlot = slot + 1
	} else if n := len(s.freeList); n > 0 && s.freeList[n-1] == slot {
		s.freeList = s.freeList[:n-1]
	}
	prevSrc, err := nodes.FirstRelPtr(src)
	if err != nil {
		return err
	}
	prevDst := prevSrc
	if dst != src {
		prevDst, err = nodes.FirstRelPtr(dst)
		if err != nil {
			return err
		}
	}
	r := &Rel{ID: slot, Src: src, Dst: dst, TypeID: typeID, Flags: RelInUse, NextSrcPtr: prevSrc, NextDstPtr: prevDst}
	if err := s.write(r); err != nil {
		return err
	}
	if err := s.epochs.stampCreated(slot, createdEpoch); err != nil {
		return err
	}
	if err := nodes.SetFirstRelPtr(src, slotToPtr(slot)); err != nil {
		return err
	}
	if dst != src {
		return nodes.SetFirstRelPtr(dst, slotToPtr(slot))
	}
	return nil
}

// Delete splices relationship id out of both endpoints' chains by
// walking each chain to find the predecessor, then marks it deleted
// (spec §4.3 "Deleting splices by walking the chain(s) of the endpoints
// until the predecessor is located").
func (s *RelStore) Delete(id uint64, deletedEpoch uint64, nodes *NodeStore) error {
	r, err := s.Read(id)
	if err != nil {
		return err
	}
	if err := s.spliceOut(r.Src, id, true, nodes); err != nil {
		return err
	}
	if r.Dst != r.Src {
		if err := s.spliceOut(r.Dst, id, false, nodes); err != nil {
			return err
		}
	}
	r.Flags |= RelDeleted
	if err := s.write(r); err != nil {
		return err
	}
	return s.epochs.markDeleted(id, deletedEpoch)
}

// spliceOut removes relId from owner's chain, where bySrc selects
// whether owner is the Src or Dst endpoint of relId (each relationship
// has independent next pointers for each side, per spec §3.2).
func (s *RelStore) spliceOut(owner, relID uint64, bySrc bool, nodes *NodeStore) error {
	head, err := nodes.FirstRelPtr(owner)
	if err != nil {
		return err
	}
	slot, ok := ptrToSlot(head)
	if !ok {
		return nil // already absent; tolerate for idempotent replay.
	}
	if slot == relID {
		next, err := s.nextPtrFor(owner, relID)
		if err != nil {
			return err
		}
		return nodes.SetFirstRelPtr(owner, next)
	}
	prev := slot
	for {
		cur, err := s.Read(slot)
		if err != nil {
			return err
		}
		next := s.nextPtrOf(cur, owner)
		nslot, ok := ptrToSlot(next)
		if !ok {
			return nil // not found; tolerate.
		}
		if nslot == relID {
			target, err := s.Read(relID)
			if err != nil {
				return err
			}
			spliced := s.nextPtrOf(target, owner)
			return s.relinkNext(prev, owner, spliced)
		}
		prev = nslot
		slot = nslot
	}
}

// nextPtrOf returns the "next in owner's chain" pointer of relationship
// r, choosing the Src-side or Dst-side field depending on which
// endpoint owner is.
func (s *RelStore) nextPtrOf(r *Rel, owner uint64) uint64 {
	if r.Src == owner {
		return r.NextSrcPtr
	}
	return r.NextDstPtr
}

func (s *RelStore) nextPtrFor(owner, relID uint64) (uint64, error) {
	r, err := s.Read(relID)
	if err != nil {
		return 0, err
	}
	return s.nextPtrOf(r, owner), nil
}

// relinkNext rewrites relationship prevSlot's "next in owner's chain"
// pointer to newNext.
func (s *RelStore) relinkNext(prevSlot, owner, newNext uint64) error {
	r, err := s.Read(prevSlot)
	if err != nil {
		return err
	}
	if r.Src == owner {
		r.NextSrcPtr = newNext
	} else {
		r.NextDstPtr = newNext
	}
	return s.write(r)
}

// IterChain walks owner's adjacency chain, invoking visit with each
// relationship id until visit returns false or the chain ends.
func (s *RelStore) IterChain(owner uint64, nodes *NodeStore, visit func(*Rel) bool) error {
	head, err := nodes.FirstRelPtr(owner)
	if err != nil {
		return err
	}
	slot, ok := ptrToSlot(head)
	for ok {
		r, err := s.Read(slot)
		if err != nil {
			return err
		}
		if !visit(r) {
			return nil
		}
		slot, ok = ptrToSlot(s.nextPtrOf(r, owner))
	}
	return nil
}
