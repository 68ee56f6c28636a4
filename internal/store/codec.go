// Package store implements the fixed-size node/relationship record
// stores, the variable-length property chain store, and the
// deduplicated blob store (spec §4.3), each an append-growing file
// fronted by a pagecache.PagedStore.
package store

import "encoding/binary"

var le = binary.LittleEndian

const noPtr uint64 = 0 // sentinel: "slot_id = ptr - 1", 0 means "none" (spec §6.2)

func ptrToSlot(ptr uint64) (slot uint64, ok bool) {
	if ptr == noPtr {
		return 0, false
	}
	return ptr - 1, true
}

func slotToPtr(slot uint64) uint64 { return slot + 1 }
