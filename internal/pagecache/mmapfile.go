package pagecache

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/graphcore/engine/internal/xerrors"
)

const initialFileSize = 1 << 20 // 1 MiB, per spec §4.3 "start 1 MiB, double".

// growableFile is an append-growing mmap-backed file. Growth doubles the
// file size and requires the single-writer lock (enforced by callers,
// not here); growableFile itself only guarantees the mapping always
// covers [0, size).
type growableFile struct {
	f    *os.File
	m    mmap.MMap
	size int64
}

func openGrowable(path string) (*growableFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.New(xerrors.FileGrowthFailed, "pagecache.openGrowable", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.FileGrowthFailed, "pagecache.openGrowable", err)
	}
	size := info.Size()
	if size == 0 {
		size = initialFileSize
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, xerrors.New(xerrors.FileGrowthFailed, "pagecache.openGrowable", err)
		}
	}
	m, err := mmap.MapRegion(f, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.FileGrowthFailed, "pagecache.openGrowable", err)
	}
	return &growableFile{f: f, m: m, size: size}, nil
}

// ensure grows the mapping (doubling) until it covers at least minSize
// bytes, rounded up to a whole number of pages.
func (g *growableFile) ensure(minSize int64) error {
	if minSize <= g.size {
		return nil
	}
	newSize := g.size
	for newSize < minSize {
		newSize *= 2
	}
	newSize = roundUpPages(newSize)
	if err := g.m.Unmap(); err != nil {
		return xerrors.New(xerrors.FileGrowthFailed, "pagecache.growableFile.ensure", err)
	}
	if err := g.f.Truncate(newSize); err != nil {
		return xerrors.New(xerrors.FileGrowthFailed, "pagecache.growableFile.ensure", err)
	}
	m, err := mmap.MapRegion(g.f, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return xerrors.New(xerrors.FileGrowthFailed, "pagecache.growableFile.ensure", err)
	}
	g.m = m
	g.size = newSize
	return nil
}

func roundUpPages(n int64) int64 {
	if n%PageSize == 0 {
		return n
	}
	return (n/PageSize + 1) * PageSize
}

// msync flushes the whole mapping to stable storage. mmap-go only
// exposes a whole-region Flush, not a byte-range one; for the dirty-page
// volumes this engine deals with (bounded by max_dirty_pages before a
// forced flush, spec §4.2) that is an acceptable granularity, and it is
// always called from FlushDirty/checkpoint paths rather than per-write.
func (g *growableFile) msync(off, length int) error {
	return g.m.Flush()
}

// dontneed advises the OS that the given page range is cold, letting it
// reclaim the backing physical pages without unmapping the address
// range (spec §4.2 "Clock ... evict"). A failure is non-fatal: the
// kernel treats MADV_DONTNEED as advisory and is free to ignore it.
func (g *growableFile) dontneed(off, length int) {
	if off < 0 || off+length > len(g.m) {
		return
	}
	_ = unix.Madvise(g.m[off:off+length], unix.MADV_DONTNEED)
}

func (g *growableFile) close() error {
	if err := g.m.Unmap(); err != nil {
		return err
	}
	return g.f.Close()
}
