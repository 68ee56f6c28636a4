// Package btree implements the optional V1 property index (spec §4.6
// "Property B-tree"): an equality/range-scannable index keyed by
// (label_id, key_id, value) over the Google btree.
package btree

import (
	"bytes"
	"encoding/binary"
	"math"
	"sync"

	"github.com/google/btree"
)

// Key orders entries first by label, then property key, then value,
// then node id — so a single-label range scan over one property key
// is a contiguous btree range (spec §4.6 "supports equality and range
// scans").
type Key struct {
	LabelID uint32
	KeyID   uint32
	Value   []byte // comparable encoding: see EncodeInt64/EncodeFloat64/EncodeString
	NodeID  uint64
}

func (k Key) Less(than btree.Item) bool {
	o := than.(Key)
	if k.LabelID != o.LabelID {
		return k.LabelID < o.LabelID
	}
	if k.KeyID != o.KeyID {
		return k.KeyID < o.KeyID
	}
	if c := bytes.Compare(k.Value, o.Value); c != 0 {
		return c < 0
	}
	return k.NodeID < o.NodeID
}

// EncodeInt64 produces an order-preserving big-endian encoding of a
// signed integer (sign bit flipped so two's-complement ordering
// matches byte-lexicographic ordering).
func EncodeInt64(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v)^(1<<63))
	return buf[:]
}

// EncodeFloat64 produces an order-preserving big-endian encoding of a
// float64 (IEEE-754 bit flip trick: flip sign bit for positives, flip
// all bits for negatives).
func EncodeFloat64(v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bits)
	return buf[:]
}

func EncodeString(v string) []byte { return []byte(v) }

// Index is a property index over one property key's values, guarded
// by a RW mutex since the underlying btree.BTree is not
// concurrency-safe on its own (spec §4.5 "shared read; writer mutates
// while holding the writer lock").
type Index struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func New() *Index {
	return &Index{tree: btree.New(32)}
}

func (idx *Index) Insert(k Key) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.ReplaceOrInsert(k)
}

func (idx *Index) Remove(k Key) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.Delete(k)
}

// Equal returns every node id stored under (labelID, keyID, value).
func (idx *Index) Equal(labelID, keyID uint32, value []byte) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []uint64
	lo := Key{LabelID: labelID, KeyID: keyID, Value: value}
	idx.tree.AscendGreaterOrEqual(lo, func(item btree.Item) bool {
		k := item.(Key)
		if k.LabelID != labelID || k.KeyID != keyID || !bytes.Equal(k.Value, value) {
			return false
		}
		out = append(out, k.NodeID)
		return true
	})
	return out
}

// Range returns every node id stored under (labelID, keyID) with value
// in [lo, hi) (spec §4.6 "range scans"); either bound may be nil for an
// open range.
func (idx *Index) Range(labelID, keyID uint32, lo, hi []byte) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var out []uint64
	start := Key{LabelID: labelID, KeyID: keyID, Value: lo}
	visit := func(item btree.Item) bool {
		k := item.(Key)
		if k.LabelID != labelID || k.KeyID != keyID {
			return false
		}
		if hi != nil && bytes.Compare(k.Value, hi) >= 0 {
			return false
		}
		out = append(out, k.NodeID)
		return true
	}
	if lo == nil {
		idx.tree.AscendGreaterOrEqual(Key{LabelID: labelID, KeyID: keyID}, visit)
	} else {
		idx.tree.AscendGreaterOrEqual(start, visit)
	}
	return out
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
