package store

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/pagecache"
	"github.com/graphcore/engine/internal/xerrors"
)

// defaultCompressionMinBytes is the threshold below which Put never
// bothers compressing: zstd's frame overhead and the extra decode pass
// on every Get aren't worth it for small property values, which is the
// overwhelming majority of blobs in a property graph.
const defaultCompressionMinBytes = 256

// BlobStore is the content-addressable, reference-counted string/bytes
// blob store (spec §3.1, §4.3, §6.2). Entries are length-prefixed with
// their own CRC32, referenced by byte offset from property records.
// Payloads at or above compressionMinBytes are zstd-compressed at rest;
// Get decompresses transparently, so callers never see the distinction.
type BlobStore struct {
	pages *pagecache.PagedStore

	enc *zstd.Encoder
	dec *zstd.Decoder

	compressionMinBytes int

	mu     sync.Mutex
	cursor int64
	byHash map[uint64]blobRef
}

type blobRef struct {
	offset int64
	length uint32
	refs   uint32
}

func OpenBlobStore(dir string, capacityPages, maxDirty int, log *zap.Logger) (*BlobStore, error) {
	pages, err := pagecache.Open(dir, "strings.store", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, xerrors.New(xerrors.Unknown, "blob.OpenBlobStore", err).With("reason", "zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, xerrors.New(xerrors.Unknown, "blob.OpenBlobStore", err).With("reason", "zstd decoder")
	}
	s := &BlobStore{
		pages:               pages,
		enc:                 enc,
		dec:                 dec,
		compressionMinBytes: defaultCompressionMinBytes,
		byHash:              make(map[uint64]blobRef),
	}
	if err := s.scanExisting(); err != nil {
		enc.Close()
		dec.Close()
		pages.Close()
		return nil, err
	}
	return s, nil
}

// scanExisting replays every record already durable in strings.store
// (format: flag:u8 | varint(origLen) | varint(storedLen) | stored_bytes
// | crc32:u32, 8-byte aligned — the same layout Get parses), rebuilding
// cursor and byHash from scratch. This has to happen on every Open:
// unlike the catalog's own append-only journal (replayed by
// catalog.replay) or NodeStore/RelStore's nextSlot (rebuilt as a side
// effect of WAL replay re-running CreateNode/CreateRel), nothing
// touches BlobStore during WAL replay — a string SetProperty entry's
// payload only carries the blob's already-resolved offset, never its
// bytes (see wal.SetPropertyPayload), so applyReplayedProperty never
// calls Put. Without this scan, cursor would restart at 0 on every
// reopen and the next Put would silently overwrite live, still-
// referenced bytes at the front of the file.
//
// A record's CRC32 is computed over its own header+body, which for a
// genuinely-written zero-length blob (flag 0, origLen 0, storedLen 0)
// is still a well-defined nonzero value — distinct from the literal
// zero trailer left in never-written tail space — so the scan can
// reliably tell "one more real record" from "end of durable data"
// purely from CRC mismatch, with no separate end-of-stream marker
// needed.
//
// Rediscovered blobs are seeded with refs:1 rather than a recomputed
// true count: nothing in the current write path ever calls Release, so
// a blob's refcount today only ever distinguishes "written at least
// once" from "never written" (see DESIGN.md) — refs:1 preserves that
// distinction and, crucially, keeps every blob found here out of
// ZeroRefHashes until something actually releases it, so a compaction
// run just after reopen can't mistake a freshly-rediscovered blob for
// garbage.
func (s *BlobStore) scanExisting() error {
	limit := s.pages.FileSize()
	const headerGuess = 1 + 2*binary.MaxVarintLen64
	var off int64
	for off+headerGuess <= limit {
		hdr := make([]byte, headerGuess)
		if err := s.pages.ReadAt(off, hdr); err != nil {
			return xerrors.New(xerrors.RecordCorrupt, "blob.scanExisting", err).With("offset", off)
		}
		flag := hdr[0]
		origLen, on := binary.Uvarint(hdr[1:])
		if on <= 0 {
			break // zero first byte: unwritten tail, not a real record.
		}
		storedLen, sn := binary.Uvarint(hdr[1+on:])
		if sn <= 0 {
			break
		}
		headerLen := 1 + on + sn
		total := int64(headerLen) + int64(storedLen) + 4
		if off+total > limit {
			break // a partial record this short can only be unwritten tail.
		}
		buf := make([]byte, total)
		if err := s.pages.ReadAt(off, buf); err != nil {
			return xerrors.New(xerrors.RecordCorrupt, "blob.scanExisting", err).With("offset", off)
		}
		stored := buf[headerLen : int64(headerLen)+int64(storedLen)]
		wantSum := binary.LittleEndian.Uint32(buf[int64(headerLen)+int64(storedLen):])
		if crc32.ChecksumIEEE(buf[:int64(headerLen)+int64(storedLen)]) != wantSum {
			break // CRC mismatch here means "never written", not corruption:
			// a genuinely written record's trailer always matches its body.
		}

		var data []byte
		if flag == 0 {
			data = append([]byte{}, stored...)
		} else {
			decoded, err := s.dec.DecodeAll(stored, make([]byte, 0, origLen))
			if err != nil {
				return xerrors.New(xerrors.RecordCorrupt, "blob.scanExisting", err).With("offset", off)
			}
			data = decoded
		}

		h := xxhash.Sum64(data)
		if _, exists := s.byHash[h]; !exists {
			s.byHash[h] = blobRef{offset: off, length: uint32(len(data)), refs: 1}
		}

		recSize := total
		for recSize%8 != 0 {
			recSize++
		}
		off += recSize
	}
	s.cursor = off
	return nil
}

// SetCompressionMinBytes overrides the default compress-at-rest
// threshold (engine.Open wires this from cfg.BlobCompressionMinBytes);
// 0 compresses every blob, a value above any real payload size disables
// compression entirely.
func (s *BlobStore) SetCompressionMinBytes(n int) { s.compressionMinBytes = n }

func (s *BlobStore) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.pages.Close()
}

func (s *BlobStore) Flush() error { return s.pages.FlushDirty() }

func (s *BlobStore) Stats() pagecache.Stats { return s.pages.Stats() }

// Put stores data once (deduplicated by content hash) and returns its
// offset, incrementing its reference count. Payloads at or above
// compressionMinBytes are zstd-compressed before being written. Format
// on disk: flag:u8 | varint_origLen | varint_storedLen | stored_bytes |
// crc32:u32, padded to 8-byte alignment. flag is 1 when stored_bytes is
// a zstd frame, 0 when it is data verbatim.
func (s *BlobStore) Put(data []byte) (int64, error) {
	h := xxhash.Sum64(data)

	s.mu.Lock()
	if ref, ok := s.byHash[h]; ok {
		ref.refs++
		s.byHash[h] = ref
		s.mu.Unlock()
		return ref.offset, nil
	}
	off := s.cursor
	s.mu.Unlock()

	stored := data
	flag := byte(0)
	if len(data) >= s.compressionMinBytes {
		stored = s.enc.EncodeAll(data, nil)
		flag = 1
	}

	var origLenBuf, storedLenBuf [binary.MaxVarintLen64]byte
	origN := binary.PutUvarint(origLenBuf[:], uint64(len(data)))
	storedN := binary.PutUvarint(storedLenBuf[:], uint64(len(stored)))

	body := make([]byte, 0, 1+origN+storedN+len(stored)+4)
	body = append(body, flag)
	body = append(body, origLenBuf[:origN]...)
	body = append(body, storedLenBuf[:storedN]...)
	body = append(body, stored...)
	sum := crc32.ChecksumIEEE(body)
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], sum)
	body = append(body, sumBuf[:]...)
	for len(body)%8 != 0 {
		body = append(body, 0)
	}

	if err := s.pages.WriteAt(off, body); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.cursor += int64(len(body))
	s.byHash[h] = blobRef{offset: off, length: uint32(len(data)), refs: 1}
	s.mu.Unlock()
	return off, nil
}

// Get reads the payload stored at off, validating its CRC32 (spec §3.2
// "CRC32 on every WAL entry" applies to blob entries too per §4.3) and
// transparently zstd-decompressing it if it was stored compressed.
func (s *BlobStore) Get(off int64) ([]byte, error) {
	const headerGuess = 1 + 2*binary.MaxVarintLen64
	hdr := make([]byte, headerGuess)
	if err := s.pages.ReadAt(off, hdr); err != nil {
		return nil, err
	}
	flag := hdr[0]
	origLen, on := binary.Uvarint(hdr[1:])
	if on <= 0 {
		return nil, xerrors.New(xerrors.RecordCorrupt, "blob.Get", nil).With("offset", off)
	}
	storedLen, sn := binary.Uvarint(hdr[1+on:])
	if sn <= 0 {
		return nil, xerrors.New(xerrors.RecordCorrupt, "blob.Get", nil).With("offset", off)
	}
	headerLen := 1 + on + sn
	total := headerLen + int(storedLen) + 4
	buf := make([]byte, total)
	if err := s.pages.ReadAt(off, buf); err != nil {
		return nil, err
	}
	stored := buf[headerLen : headerLen+int(storedLen)]
	wantSum := binary.LittleEndian.Uint32(buf[headerLen+int(storedLen) : headerLen+int(storedLen)+4])
	if crc32.ChecksumIEEE(buf[:headerLen+int(storedLen)]) != wantSum {
		return nil, xerrors.New(xerrors.RecordCorrupt, "blob.Get", nil).With("offset", off)
	}

	if flag == 0 {
		out := make([]byte, origLen)
		copy(out, stored)
		return out, nil
	}
	out, err := s.dec.DecodeAll(stored, make([]byte, 0, origLen))
	if err != nil {
		return nil, xerrors.New(xerrors.RecordCorrupt, "blob.Get", err).With("offset", off)
	}
	return out, nil
}

// Release decrements the reference count of the blob whose content is
// data, found by its content hash; zero-ref blobs are reclaimed at
// compaction (spec §4.3, §4.6 "Maintenance").
func (s *BlobStore) Release(data []byte) {
	h := xxhash.Sum64(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.byHash[h]; ok && ref.refs > 0 {
		ref.refs--
		s.byHash[h] = ref
	}
}

// ZeroRefHashes returns the content hashes of every blob with refcount
// zero, for the compaction pass to reclaim.
func (s *BlobStore) ZeroRefHashes() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for h, ref := range s.byHash {
		if ref.refs == 0 {
			out = append(out, h)
		}
	}
	return out
}

// Forget drops a zero-ref blob's entry from the content-hash index, the
// reclaim half of compaction's blob GC phase (spec §4.6 "Maintenance").
// It is a no-op if the hash gained a new reference since ZeroRefHashes
// was computed, so a concurrent Put racing a compaction pass never
// leaks a live blob. The underlying bytes are left in place on disk —
// this store is append-only — so they stop being served but the file
// itself is not shrunk; full space reclaim needs an offline rewrite,
// which this pass does not attempt.
func (s *BlobStore) Forget(hash uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.byHash[hash]; ok && ref.refs == 0 {
		delete(s.byHash, hash)
	}
}
