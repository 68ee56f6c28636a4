package pagecache

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/xerrors"
)

// pageMeta is the cache-side bookkeeping for one tracked page. Pin count
// is a plain atomic counter, deliberately NOT part of the on-disk
// header (spec §3.1).
type pageMeta struct {
	pin   int32
	ref   atomic.Bool // Clock/second-chance reference bit
	dirty atomic.Bool
	valid atomic.Bool
}

// Stats is returned by PagedStore.Stats.
type Stats struct {
	TrackedPages int
	DirtyPages   int
	Hits         uint64
	Misses       uint64
	Evictions    uint64
}

// PagedStore is the 8 KiB page cache over one mmap-backed, append-growing
// file (spec §4.2). A single PagedStore backs exactly one record file
// (nodes.store, rels.store, ...); the engine opens one per file.
type PagedStore struct {
	gf  *growableFile
	log *zap.Logger

	mu            sync.Mutex // protects meta, clockRing, dirtySet below
	meta          map[PageID]*pageMeta
	clockRing     []PageID
	clockHand     int
	dirtySet      map[PageID]struct{}
	capacityPages int
	maxDirty      int

	hits, misses, evictions uint64
}

// Open opens (creating if needed) the page cache for path, with the
// given cache capacity in pages and the max-dirty-pages flush trigger
// (spec §4.2 "Dirty management").
func Open(dir, name string, capacityPages, maxDirtyPages int, log *zap.Logger) (*PagedStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gf, err := openGrowable(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	return &PagedStore{
		gf:            gf,
		log:           log,
		meta:          make(map[PageID]*pageMeta),
		dirtySet:      make(map[PageID]struct{}),
		capacityPages: capacityPages,
		maxDirty:      maxDirtyPages,
	}, nil
}

func (p *PagedStore) Close() error {
	if err := p.FlushDirty(); err != nil {
		return err
	}
	return p.gf.close()
}

func (p *PagedStore) fileOffset(id PageID) int64 { return int64(id) * PageSize }

// ensurePage grows the backing file to cover page id and returns its
// cache-side metadata, creating it (and running Clock eviction if the
// cache is at capacity) on first touch.
func (p *PagedStore) ensurePage(id PageID) (*pageMeta, []byte, error) {
	if err := p.gf.ensure(p.fileOffset(id) + PageSize); err != nil {
		return nil, nil, err
	}
	off := p.fileOffset(id)
	raw := p.gf.m[off : off+PageSize]

	p.mu.Lock()
	m, ok := p.meta[id]
	if !ok {
		if len(p.meta) >= p.capacityPages {
			if err := p.evictLocked(); err != nil {
				p.mu.Unlock()
				return nil, nil, err
			}
		}
		m = &pageMeta{}
		p.meta[id] = m
		p.clockRing = append(p.clockRing, id)
		p.misses++
	} else {
		p.hits++
	}
	p.mu.Unlock()
	return m, raw, nil
}

// validate checks the page's xxHash3-class checksum, lazily computing
// and stamping it the first time a freshly-grown (all-zero) page is
// touched so new pages don't spuriously fail validation.
func (p *PagedStore) validate(id PageID, m *pageMeta, raw []byte) error {
	if m.valid.Load() {
		return nil
	}
	hdr := decodeHeader(raw[:HeaderSize])
	body := raw[HeaderSize:]
	if hdr.flags == 0 && hdr.checksum == 0 && hdr.id == 0 && isZero(body) {
		// Freshly grown page: stamp it as valid-empty rather than
		// treating all-zero as corrupt.
		hdr = header{id: uint64(id), checksum: checksumBody(body), flags: FlagValid}
		hdr.encode(raw[:HeaderSize])
		m.valid.Store(true)
		return nil
	}
	want := checksumBody(body)
	if hdr.checksum != want {
		return xerrors.New(xerrors.PageChecksum, "pagecache.validate", nil).
			With("page_id", id).With("want", want).With("got", hdr.checksum)
	}
	m.valid.Store(true)
	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// PinGuard is a read pin on a page; Release must be called exactly once
// on every exit path (success, error, cancellation) per spec §3.4.
type PinGuard struct {
	store *PagedStore
	id    PageID
	body  []byte
}

func (g *PinGuard) Body() []byte { return g.body }

func (g *PinGuard) Release() {
	g.store.mu.Lock()
	m := g.store.meta[g.id]
	g.store.mu.Unlock()
	if m != nil {
		atomic.AddInt32(&m.pin, -1)
	}
}

// DirtyPinGuard is a write pin; dropping it marks the page dirty.
type DirtyPinGuard struct {
	PinGuard
	wrote bool
}

// MarkWritten records that the caller actually mutated the page body;
// Release only schedules a flush if this was called at least once,
// matching the "dirty when the guard is dropped (if any write occurred)"
// contract in spec §4.2.
func (g *DirtyPinGuard) MarkWritten() { g.wrote = true }

func (g *DirtyPinGuard) Release() {
	if g.wrote {
		g.store.mu.Lock()
		m := g.store.meta[g.id]
		if m != nil {
			m.dirty.Store(true)
		}
		g.store.dirtySet[g.id] = struct{}{}
		n := len(g.store.dirtySet)
		g.store.mu.Unlock()
		if n >= g.store.maxDirty {
			_ = g.store.FlushDirty()
		}
	}
	g.PinGuard.Release()
}

// Get pins page id for reading.
func (p *PagedStore) Get(id PageID) (*PinGuard, error) {
	m, raw, err := p.ensurePage(id)
	if err != nil {
		return nil, err
	}
	if err := p.validate(id, m, raw); err != nil {
		return nil, err
	}
	atomic.AddInt32(&m.pin, 1)
	m.ref.Store(true)
	return &PinGuard{store: p, id: id, body: raw[HeaderSize:]}, nil
}

// GetMut pins page id for writing.
func (p *PagedStore) GetMut(id PageID) (*DirtyPinGuard, error) {
	g, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	return &DirtyPinGuard{PinGuard: *g}, nil
}

// evictLocked runs one Clock/second-chance sweep looking for an
// evictable (unpinned) page; caller holds p.mu.
func (p *PagedStore) evictLocked() error {
	if len(p.clockRing) == 0 {
		return xerrors.New(xerrors.CacheExhausted, "pagecache.evict", nil)
	}
	n := len(p.clockRing)
	for i := 0; i < 2*n; i++ {
		idx := p.clockHand % len(p.clockRing)
		p.clockHand++
		id := p.clockRing[idx]
		m, ok := p.meta[id]
		if !ok {
			continue
		}
		if atomic.LoadInt32(&m.pin) > 0 {
			continue
		}
		if m.ref.Load() {
			m.ref.Store(false)
			continue
		}
		if m.dirty.Load() {
			if err := p.flushLocked(id); err != nil {
				return err
			}
		}
		delete(p.meta, id)
		delete(p.dirtySet, id)
		p.clockRing = append(p.clockRing[:idx], p.clockRing[idx+1:]...)
		off := p.fileOffset(id)
		p.gf.dontneed(int(off), PageSize)
		p.evictions++
		return nil
	}
	return xerrors.New(xerrors.CacheExhausted, "pagecache.evict", nil)
}

// flushLocked recomputes the checksum and msyncs page id; caller holds
// p.mu.
func (p *PagedStore) flushLocked(id PageID) error {
	off := p.fileOffset(id)
	raw := p.gf.m[off : off+PageSize]
	hdr := header{id: uint64(id), checksum: checksumBody(raw[HeaderSize:]), flags: FlagValid}
	hdr.encode(raw[:HeaderSize])
	if m, ok := p.meta[id]; ok {
		m.dirty.Store(false)
	}
	return p.gf.msync(int(off), PageSize)
}

// FlushDirty writes every currently dirty page's checksum to its header
// and msyncs it, per the checkpoint contract in spec §4.2/§4.4.
func (p *PagedStore) FlushDirty() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.dirtySet {
		if err := p.flushLocked(id); err != nil {
			return err
		}
		delete(p.dirtySet, id)
	}
	return nil
}

// FileSize returns the backing file's current allocated size, letting a
// caller bound a startup scan of the file's logical contents without
// ensurePage growing it further (ensure is a no-op for any offset
// already within this bound).
func (p *PagedStore) FileSize() int64 { return p.gf.size }

func (p *PagedStore) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		TrackedPages: len(p.meta),
		DirtyPages:   len(p.dirtySet),
		Hits:         p.hits,
		Misses:       p.misses,
		Evictions:    p.evictions,
	}
}

// ReadAt copies len(buf) bytes starting at logical body offset off
// (i.e. ignoring the 16-byte page headers) into buf, pinning and
// releasing whatever pages that range touches.
func (p *PagedStore) ReadAt(off int64, buf []byte) error {
	return p.walk(off, len(buf), func(pageBody []byte, lo, hi, bufOff int) error {
		copy(buf[bufOff:], pageBody[lo:hi])
		return nil
	}, false)
}

// WriteAt writes buf into the logical body stream at offset off,
// marking every touched page dirty.
func (p *PagedStore) WriteAt(off int64, buf []byte) error {
	return p.walk(off, len(buf), func(pageBody []byte, lo, hi, bufOff int) error {
		copy(pageBody[lo:hi], buf[bufOff:])
		return nil
	}, true)
}

// walk splits a logical [off, off+n) range into per-page sub-ranges and
// invokes fn for each, handling the pin/unpin lifecycle itself so
// callers never need to reason about page boundaries.
func (p *PagedStore) walk(off int64, n int, fn func(pageBody []byte, lo, hi, bufOff int) error, write bool) error {
	remaining := n
	bufOff := 0
	cur := off
	for remaining > 0 {
		id := PageID(cur / BodySize)
		localOff := int(cur % BodySize)
		chunk := BodySize - localOff
		if chunk > remaining {
			chunk = remaining
		}
		if write {
			g, err := p.GetMut(id)
			if err != nil {
				return err
			}
			err = fn(g.Body(), localOff, localOff+chunk, bufOff)
			g.MarkWritten()
			g.Release()
			if err != nil {
				return err
			}
		} else {
			g, err := p.Get(id)
			if err != nil {
				return err
			}
			err = fn(g.Body(), localOff, localOff+chunk, bufOff)
			g.Release()
			if err != nil {
				return err
			}
		}
		cur += int64(chunk)
		bufOff += chunk
		remaining -= chunk
	}
	return nil
}
