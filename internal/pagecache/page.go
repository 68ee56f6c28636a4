// Package pagecache implements the 8 KiB page cache over mmap-backed
// record files (spec §4.2): pin/unpin, dirty tracking, xxHash3(-class)
// body checksums, and Clock/second-chance eviction.
package pagecache

import "github.com/cespare/xxhash/v2"

const (
	// PageSize is the fixed page size (spec §3.1, §6.2): a 16-byte
	// header followed by an 8176-byte body.
	PageSize   = 8192
	HeaderSize = 16
	BodySize   = PageSize - HeaderSize
)

// Flag bits stored in the page header. Only FlagValid is ever written
// by this package (when a fresh page is stamped and on every flush); the
// other bits are defined but never set. Pin count lives in the cache's
// side tables, not here.
type Flag uint16

const (
	FlagDirty Flag = 1 << iota
	FlagPinned
	FlagValid
	FlagEvicting
	FlagLoading
)

// PageID identifies a page within one record file by its logical index
// (offset = id * PageSize).
type PageID uint64

// header is the 16-byte on-disk page header:
// {logical_page_id:u64, xxhash3(body):u32, flags:u16, reserved:u16}.
type header struct {
	id       uint64
	checksum uint32
	flags    Flag
	reserved uint16
}

func decodeHeader(b []byte) header {
	_ = b[HeaderSize-1]
	return header{
		id:       leUint64(b[0:8]),
		checksum: leUint32(b[8:12]),
		flags:    Flag(leUint16(b[12:14])),
		reserved: leUint16(b[14:16]),
	}
}

func (h header) encode(b []byte) {
	_ = b[HeaderSize-1]
	lePutUint64(b[0:8], h.id)
	lePutUint32(b[8:12], h.checksum)
	lePutUint16(b[12:14], uint16(h.flags))
	lePutUint16(b[14:16], h.reserved)
}

// checksumBody computes the page-body checksum. The spec names the
// algorithm "xxHash3"; this engine uses the 64-bit xxHash implementation
// from cespare/xxhash/v2 (the mainstream Go xxHash package reachable from
// the retrieval pack) truncated to 32 bits, which gives
// the same corruption-detection property the spec requires.
func checksumBody(body []byte) uint32 {
	return uint32(xxhash.Sum64(body))
}

func leUint64(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }

func lePutUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
func lePutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func lePutUint16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
