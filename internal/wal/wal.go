package wal

import (
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/xerrors"
)

const entryHeaderSize = 8 + 8 + 1 + 4 // epoch, tx_id, kind, payload_len
const entryTrailerSize = 4            // crc32

// WAL is the single append-only log file for a data directory. Entries
// are appended without fsync; Commit fsyncs so that the BEGIN..COMMIT
// window plus payload is durable before commit returns (spec §4.4).
type WAL struct {
	mu   sync.Mutex
	f    *os.File
	off  int64
	log  *zap.Logger
	path string
}

func Open(dir string, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(dir, "wal"), 0o755); err != nil {
		return nil, xerrors.New(xerrors.WalCorrupt, "wal.Open", err)
	}
	path := filepath.Join(dir, "wal", "00000.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.New(xerrors.WalCorrupt, "wal.Open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.WalCorrupt, "wal.Open", err)
	}
	return &WAL{f: f, off: info.Size(), log: log, path: path}, nil
}

func (w *WAL) Close() error { return w.f.Close() }

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryHeaderSize+len(e.Payload)+entryTrailerSize)
	le.PutUint64(buf[0:8], e.Epoch)
	le.PutUint64(buf[8:16], e.TxID)
	buf[16] = byte(e.Kind)
	le.PutUint32(buf[17:21], uint32(len(e.Payload)))
	copy(buf[21:], e.Payload)
	sum := crc32.ChecksumIEEE(buf[:entryHeaderSize+len(e.Payload)])
	le.PutUint32(buf[entryHeaderSize+len(e.Payload):], sum)
	return buf
}

// Append writes entry and returns its starting offset in the log. The
// write is not fsynced; callers durability-critical path is Commit.
func (w *WAL) Append(e Entry) (int64, error) {
	buf := encodeEntry(e)
	w.mu.Lock()
	defer w.mu.Unlock()
	off := w.off
	n, err := w.f.WriteAt(buf, off)
	if err != nil {
		return 0, xerrors.New(xerrors.WalCorrupt, "wal.Append", err)
	}
	w.off += int64(n)
	return off, nil
}

// Commit fsyncs the log, making every entry appended so far durable.
// Aborts do not call this (spec §4.4 "Aborts need not fsync").
func (w *WAL) Commit(txID uint64) error {
	if err := w.f.Sync(); err != nil {
		return xerrors.New(xerrors.WalFsyncFailed, "wal.Commit", err).With("tx_id", txID)
	}
	return nil
}

// CurrentOffset returns the log's current end-of-file offset.
func (w *WAL) CurrentOffset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.off
}

// readEntryAt decodes one entry at off, validating its CRC32. It
// returns the entry, the offset immediately following it, and an error
// if the CRC is invalid or the entry is truncated.
func readEntryAt(f *os.File, off, limit int64) (Entry, int64, error) {
	hdr := make([]byte, entryHeaderSize)
	if off+entryHeaderSize > limit {
		return Entry{}, off, xerrors.New(xerrors.WalTruncated, "wal.read", nil).With("offset", off)
	}
	if _, err := f.ReadAt(hdr, off); err != nil {
		return Entry{}, off, xerrors.New(xerrors.WalTruncated, "wal.read", err).With("offset", off)
	}
	payloadLen := le.Uint32(hdr[17:21])
	total := entryHeaderSize + int64(payloadLen) + entryTrailerSize
	if off+total > limit {
		return Entry{}, off, xerrors.New(xerrors.WalTruncated, "wal.read", nil).With("offset", off)
	}
	full := make([]byte, total)
	if _, err := f.ReadAt(full, off); err != nil {
		return Entry{}, off, xerrors.New(xerrors.WalTruncated, "wal.read", err).With("offset", off)
	}
	gotSum := le.Uint32(full[entryHeaderSize+payloadLen:])
	wantSum := crc32.ChecksumIEEE(full[:entryHeaderSize+payloadLen])
	if gotSum != wantSum {
		return Entry{}, off, xerrors.New(xerrors.WalCorrupt, "wal.read", nil).With("offset", off)
	}
	e := Entry{
		Epoch:   le.Uint64(full[0:8]),
		TxID:    le.Uint64(full[8:16]),
		Kind:    Kind(full[16]),
		Payload: append([]byte{}, full[21:21+payloadLen]...),
	}
	return e, off + total, nil
}

// Replay scans the log from fromOffset, validating CRCs, and invokes
// visit for every entry belonging to a transaction with a later COMMIT
// entry (or for Checkpoint/BeginTx/CommitTx/AbortTx entries themselves,
// which visit is free to ignore). The tail after the first invalid or
// truncated entry is discarded, never applied (spec §4.4 "Recovery").
// Returns the offset just past the last successfully-validated entry.
func (w *WAL) Replay(fromOffset int64, visit func(Entry) error) (int64, error) {
	limit := w.CurrentOffset()

	committed := make(map[uint64]bool)
	var entries []Entry
	off := fromOffset
	lastGood := fromOffset
	for off < limit {
		e, next, err := readEntryAt(w.f, off, limit)
		if err != nil {
			break // discard tail, per spec.
		}
		entries = append(entries, e)
		if e.Kind == KindCommitTx {
			committed[e.TxID] = true
		}
		lastGood = next
		off = next
	}

	for _, e := range entries {
		switch e.Kind {
		case KindBeginTx, KindCommitTx, KindAbortTx, KindCheckpoint:
			if err := visit(e); err != nil {
				return lastGood, err
			}
		default:
			if committed[e.TxID] {
				if err := visit(e); err != nil {
					return lastGood, err
				}
			}
		}
	}
	return lastGood, nil
}

// Checkpoint appends a Checkpoint entry recording the epoch covered and
// the offset truncation is safe up to.
func (w *WAL) Checkpoint(epoch uint64, truncateBefore int64) (int64, error) {
	off, err := w.Append(Entry{Kind: KindCheckpoint, Payload: EncodeCheckpoint(CheckpointPayload{Epoch: epoch, TruncateOffset: truncateBefore})})
	if err != nil {
		return 0, err
	}
	if err := w.f.Sync(); err != nil {
		return 0, xerrors.New(xerrors.WalFsyncFailed, "wal.Checkpoint", err)
	}
	return off, nil
}

// Truncate drops the log prefix before offset, by rewriting the file to
// start at offset. Safe to call only after a checkpoint has flushed all
// dirty pages for transactions whose BEGIN precedes offset (spec §4.4).
func (w *WAL) Truncate(before int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if before <= 0 {
		return nil
	}
	remaining := w.off - before
	buf := make([]byte, remaining)
	if _, err := w.f.ReadAt(buf, before); err != nil && err != io.EOF {
		return xerrors.New(xerrors.WalCorrupt, "wal.Truncate", err)
	}
	if err := w.f.Truncate(0); err != nil {
		return xerrors.New(xerrors.WalCorrupt, "wal.Truncate", err)
	}
	if _, err := w.f.WriteAt(buf, 0); err != nil {
		return xerrors.New(xerrors.WalCorrupt, "wal.Truncate", err)
	}
	w.off = remaining
	return w.f.Sync()
}
