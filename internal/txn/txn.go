// Package txn implements the single-writer/many-readers transaction
// manager: a monotonic epoch allocator, FIFO-fair writer lock, and read
// snapshot visibility rules (spec §4.5).
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/graphcore/engine/internal/xerrors"
)

// Kind distinguishes read-only from read-write transactions (spec §3.1
// Transaction descriptor).
type Kind uint8

const (
	KindReadOnly Kind = iota
	KindReadWrite
)

// Manager owns the global epoch counter and the writer lock. Readers
// never block writers and vice versa except through the page cache
// (spec §4.5, §5).
type Manager struct {
	epoch    atomic.Uint64 // last committed epoch
	nextTxID atomic.Uint64

	writerLock chan struct{} // 1-buffered channel used as a FIFO-fair mutex

	readersMu sync.Mutex
	readers   map[uint64]int // pinned read epoch -> count of live snapshots at it
}

// NewManager creates a transaction manager starting at epoch 0 (no
// commits yet); the first write transaction commits at epoch 1.
func NewManager() *Manager {
	m := &Manager{writerLock: make(chan struct{}, 1), readers: make(map[uint64]int)}
	m.writerLock <- struct{}{}
	return m
}

// RestoreEpoch is called by recovery to set the epoch counter to the
// value implied by the replayed WAL, before any new transaction begins.
func (m *Manager) RestoreEpoch(epoch uint64) { m.epoch.Store(epoch) }

func (m *Manager) CurrentEpoch() uint64 { return m.epoch.Load() }

// Descriptor is the transaction descriptor of spec §3.1.
type Descriptor struct {
	TxID       uint64
	ReadEpoch  uint64
	WriteEpoch uint64 // set only once a write transaction commits
	Kind       Kind
}

// ReadSnapshot is a read view pinned to a fixed epoch (spec §4.5
// begin_read contract). Readers are fully concurrent with each other
// and with the writer.
type ReadSnapshot struct {
	mgr  *Manager
	desc Descriptor
}

// BeginRead pins the current committed epoch and returns a snapshot.
// Successive read transactions on the same goroutine observe
// monotonically non-decreasing epochs because Manager.epoch only ever
// increases (spec §5 "monotonic reads").
func (m *Manager) BeginRead() *ReadSnapshot {
	txID := m.nextTxID.Add(1)
	epoch := m.epoch.Load()
	m.readersMu.Lock()
	m.readers[epoch]++
	m.readersMu.Unlock()
	return &ReadSnapshot{mgr: m, desc: Descriptor{TxID: txID, ReadEpoch: epoch, Kind: KindReadOnly}}
}

func (s *ReadSnapshot) ReadEpoch() uint64      { return s.desc.ReadEpoch }
func (s *ReadSnapshot) Descriptor() Descriptor { return s.desc }

// EndRead unpins the snapshot's read epoch. Read transactions carry no
// other resources of their own (page pins are released by their own
// guards); the pin count this releases exists solely so compaction can
// find OldestActiveReadEpoch, the watermark below which tombstoned
// records are no longer visible to anyone and can be reclaimed.
func (s *ReadSnapshot) EndRead() {
	s.mgr.readersMu.Lock()
	defer s.mgr.readersMu.Unlock()
	if n := s.mgr.readers[s.desc.ReadEpoch]; n <= 1 {
		delete(s.mgr.readers, s.desc.ReadEpoch)
	} else {
		s.mgr.readers[s.desc.ReadEpoch] = n - 1
	}
}

// OldestActiveReadEpoch returns the lowest read epoch any live snapshot
// is still pinned to, or the current committed epoch if none are
// outstanding — the watermark compaction must not reclaim past (spec
// §4.6 "Maintenance").
func (m *Manager) OldestActiveReadEpoch() uint64 {
	m.readersMu.Lock()
	defer m.readersMu.Unlock()
	oldest := m.epoch.Load()
	for e := range m.readers {
		if e < oldest {
			oldest = e
		}
	}
	return oldest
}

// WriteTxn is the single in-flight writer's handle, held between
// BeginWrite and Commit/Abort. Acquiring it blocks until any prior
// writer releases the lock, in FIFO order (spec §4.5 "Writer lock").
type WriteTxn struct {
	mgr       *Manager
	desc      Descriptor
	committed bool
	aborted   bool
}

// BeginWrite blocks (FIFO-fair, via the buffered channel) until the
// writer lock is free, then returns a new write transaction pinned at
// the next tx id. cancel, if non-nil and closed before the lock is
// acquired, aborts the wait with TxnCancelled.
func (m *Manager) BeginWrite(cancel <-chan struct{}) (*WriteTxn, error) {
	select {
	case <-m.writerLock:
	case <-cancel:
		return nil, xerrors.New(xerrors.TxnCancelled, "txn.BeginWrite", nil)
	}
	txID := m.nextTxID.Add(1)
	return &WriteTxn{mgr: m, desc: Descriptor{TxID: txID, ReadEpoch: m.epoch.Load(), Kind: KindReadWrite}}, nil
}

func (w *WriteTxn) Descriptor() Descriptor { return w.desc }
func (w *WriteTxn) TxID() uint64           { return w.desc.TxID }

// NextWriteEpoch is the epoch this transaction will commit at if
// PublishCommit is called: previous + 1 (spec §3.1 Epoch).
func (w *WriteTxn) NextWriteEpoch() uint64 { return w.mgr.epoch.Load() + 1 }

// PublishCommit performs step (3) of the commit protocol (spec §4.5):
// atomic release-store increment of the global epoch. Callers must have
// already (1) fsynced the COMMIT WAL entry and (2) published every
// written record's created/deleted epoch fields before calling this,
// so that once the new epoch is visible, every effect of the
// transaction is visible too.
func (w *WriteTxn) PublishCommit() uint64 {
	newEpoch := w.mgr.epoch.Add(1)
	w.desc.WriteEpoch = newEpoch
	w.committed = true
	return newEpoch
}

// Release drops the writer lock; it must be called exactly once per
// BeginWrite on every exit path (commit, abort, or panic-recovery).
func (w *WriteTxn) Release() {
	w.mgr.writerLock <- struct{}{}
}

// Abort marks the transaction aborted without publishing a new epoch.
// Per spec §4.5, the records it wrote (if any reached disk) carry an
// epoch greater than the last committed epoch and are therefore
// invisible to any reader; they are reclaimed at the next compaction.
func (w *WriteTxn) Abort() {
	w.aborted = true
}

func (w *WriteTxn) Committed() bool { return w.committed }
func (w *WriteTxn) Aborted() bool   { return w.aborted }

// Visible implements the MVCC visibility predicate of spec §3.2/§4.5:
// created_epoch <= E < deleted_epoch.
func Visible(created, deleted, readEpoch uint64) bool {
	return created <= readEpoch && readEpoch < deleted
}

// OwnWrites lets a write transaction's own statement see its own
// uncommitted effects before PublishCommit runs (spec §4.9 "Write
// visibility to subsequent reads in the same transaction"). Rather than
// rebuilding a new snapshot per statement, writers read at an epoch one
// past the last committed epoch — a value no concurrent reader can ever
// pin, since BeginRead always reads the *committed* epoch — so records
// this transaction stamped with that provisional epoch become visible
// to it immediately, and only to it.
func (w *WriteTxn) OwnWriteEpoch() uint64 { return w.NextWriteEpoch() }
