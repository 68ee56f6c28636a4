package engine

import (
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/txn"
	"github.com/graphcore/engine/internal/wal"
	"github.com/graphcore/engine/internal/xerrors"
)

// ReadTxn is a pinned read snapshot (spec §6.1 begin_read). Every
// query run against it observes a fixed epoch, concurrently with the
// writer and with every other reader.
type ReadTxn struct {
	e    *Engine
	snap *txn.ReadSnapshot
}

// BeginRead pins the currently committed epoch.
func (e *Engine) BeginRead() *ReadTxn {
	return &ReadTxn{e: e, snap: e.txns.BeginRead()}
}

// End releases the pinned snapshot. Read transactions hold no other
// resource of their own (spec §4.5).
func (t *ReadTxn) End() { t.snap.EndRead() }

func (t *ReadTxn) ctx(params map[string]exec.Value, cancel <-chan struct{}) *exec.Ctx {
	return &exec.Ctx{Graph: t.e.graph, Snapshot: t.snap, Params: params, Cancel: exec.Cancel(cancel)}
}

// Execute runs query (spec §6.1 execute()) against this read snapshot.
// A write clause (CREATE/MERGE/SET/REMOVE/DELETE) in the query is a
// PlanError on a read transaction.
func (t *ReadTxn) Execute(query string, params map[string]exec.Value, cancel <-chan struct{}) (*ResultStream, error) {
	res, err := t.e.compile(query)
	if err != nil {
		return nil, err
	}
	if res.Write {
		return nil, xerrors.New(xerrors.PlanError, "engine.Execute", nil).With("reason", "write clause in read transaction")
	}
	return newResultStream(res, t.ctx(params, cancel))
}

// writeSnapshot adapts a *txn.WriteTxn to exec.Snapshot, used only as
// the fallback Ctx.Snapshot should anything ever read it; in practice
// write-transaction operators always take the OwnWriteEpoch branch of
// Ctx.ReadEpoch instead.
type writeSnapshot struct{ w *txn.WriteTxn }

func (s writeSnapshot) ReadEpoch() uint64 { return s.w.Descriptor().ReadEpoch }

// WriteTxn is the single in-flight writer's handle (spec §6.1
// begin_write). Acquiring one blocks until any prior writer commits or
// aborts, in FIFO order.
type WriteTxn struct {
	e *Engine
	w *txn.WriteTxn
}

// BeginWrite blocks until the writer lock is free. cancel, if non-nil
// and closed first, aborts the wait with TxnCancelled.
func (e *Engine) BeginWrite(cancel <-chan struct{}) (*WriteTxn, error) {
	w, err := e.txns.BeginWrite(cancel)
	if err != nil {
		return nil, err
	}
	if _, err := e.graph.WAL.Append(wal.Entry{Epoch: w.NextWriteEpoch(), TxID: w.TxID(), Kind: wal.KindBeginTx}); err != nil {
		w.Abort()
		w.Release()
		return nil, err
	}
	return &WriteTxn{e: e, w: w}, nil
}

func (t *WriteTxn) ctx(params map[string]exec.Value, cancel <-chan struct{}) *exec.Ctx {
	return &exec.Ctx{
		Graph: t.e.graph, Snapshot: writeSnapshot{t.w}, Params: params,
		Cancel: exec.Cancel(cancel), OwnWriteEpoch: t.w.OwnWriteEpoch(), Txn: t.w,
	}
}

// Commit flushes any blob pages this transaction dirtied, appends the
// COMMIT WAL entry, fsyncs it (spec §4.4 "COMMIT entry fsynced before
// the transaction is acknowledged"), then publishes the new epoch and
// releases the writer lock. The blob flush must happen before the WAL
// fsync: a SetProperty entry for a string value only carries the
// blob's offset (unlike the i64/f64/bool cases, which are
// self-sufficient from their WAL payload alone), so the bytes at that
// offset must be durable no later than the COMMIT entry that publishes
// it — otherwise a crash between the two leaves a committed property
// pointing at an offset whose content never reached disk. A blob flush
// or WAL fsync failure aborts the transaction instead (spec §7
// propagation policy "WAL fsync failures on commit are fatal for the
// transaction").
func (t *WriteTxn) Commit() error {
	defer t.w.Release()
	if err := t.e.graph.Blobs.Flush(); err != nil {
		t.w.Abort()
		return err
	}
	if _, err := t.e.graph.WAL.Append(wal.Entry{Epoch: t.w.NextWriteEpoch(), TxID: t.w.TxID(), Kind: wal.KindCommitTx}); err != nil {
		t.w.Abort()
		return err
	}
	if err := t.e.graph.WAL.Commit(t.w.TxID()); err != nil {
		t.w.Abort()
		return err
	}
	t.w.PublishCommit()
	return nil
}

// Abort marks the transaction aborted. Its WAL entries remain on disk
// but are never replayed (no COMMIT entry follows them) and its
// records, if any reached a store, carry an epoch no reader will ever
// observe (spec §4.5 "Abort").
func (t *WriteTxn) Abort() error {
	defer t.w.Release()
	_, err := t.e.graph.WAL.Append(wal.Entry{Epoch: t.w.NextWriteEpoch(), TxID: t.w.TxID(), Kind: wal.KindAbortTx})
	t.w.Abort()
	return err
}

// Execute runs query against this write transaction's own-write view
// (spec §4.9 "write visibility to subsequent reads in the same
// transaction"): CREATE/MERGE/SET/REMOVE/DELETE clauses mutate the
// graph directly through the operator tree.
func (t *WriteTxn) Execute(query string, params map[string]exec.Value, cancel <-chan struct{}) (*ResultStream, error) {
	res, err := t.e.compile(query)
	if err != nil {
		return nil, err
	}
	return newResultStream(res, t.ctx(params, cancel))
}
