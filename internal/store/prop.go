package store

import (
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/pagecache"
)

// ValueType tags a property's value (spec §3.1 Property entity).
type ValueType uint8

const (
	TypeNull ValueType = iota
	TypeBool
	TypeI64
	TypeF64
	TypeStringRef
	TypeBytesRef
	TypeTimestamp
	TypeListRef
)

// PropRecordSize: key_id:u32 | type_tag:u8 | padding:3 | value:u64 |
// next_ptr:u64. Every ValueType tag resolves to either an 8-byte inline
// scalar (bool/i64/f64/timestamp) or an 8-byte blob-file offset
// (string/bytes/list), so a fixed 24-byte slot holds every case without
// the second indirection a literally variable-length record would need.
const PropRecordSize = 24

// Prop is the decoded view of one property record.
type Prop struct {
	ID      uint64
	KeyID   uint32
	Type    ValueType
	Value   uint64 // inline scalar bits, or blob-store offset for ref types.
	NextPtr uint64
}

type PropStore struct {
	pages    *pagecache.PagedStore
	nextSlot uint64
}

func OpenPropStore(dir string, capacityPages, maxDirty int, log *zap.Logger) (*PropStore, error) {
	pages, err := pagecache.Open(dir, "props.store", capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	return &PropStore{pages: pages}, nil
}

func (s *PropStore) Close() error { return s.pages.Close() }

func (s *PropStore) Flush() error { return s.pages.FlushDirty() }

func (s *PropStore) Stats() pagecache.Stats { return s.pages.Stats() }

func (s *PropStore) offset(slot uint64) int64 { return int64(slot) * PropRecordSize }

func (s *PropStore) encode(p *Prop) []byte {
	buf := make([]byte, PropRecordSize)
	le.PutUint32(buf[0:4], p.KeyID)
	buf[4] = byte(p.Type)
	le.PutUint64(buf[8:16], p.Value)
	le.PutUint64(buf[16:24], p.NextPtr)
	return buf
}

func (s *PropStore) decode(id uint64, buf []byte) *Prop {
	return &Prop{
		ID:      id,
		KeyID:   le.Uint32(buf[0:4]),
		Type:    ValueType(buf[4]),
		Value:   le.Uint64(buf[8:16]),
		NextPtr: le.Uint64(buf[16:24]),
	}
}

func (s *PropStore) Read(id uint64) (*Prop, error) {
	buf := make([]byte, PropRecordSize)
	if err := s.pages.ReadAt(s.offset(id), buf); err != nil {
		return nil, err
	}
	return s.decode(id, buf), nil
}

func (s *PropStore) write(p *Prop) error {
	return s.pages.WriteAt(s.offset(p.ID), s.encode(p))
}

// Prepend allocates a new property slot, links it in front of
// currentHead (the owner's current property-chain head), and returns
// the new slot id and its pointer encoding. The caller is responsible
// for publishing the new head on the owning node/relationship record
// (spec §4.3 "Property chains").
func (s *PropStore) Prepend(keyID uint32, typ ValueType, value, currentHead uint64) (uint64, error) {
	slot := s.nextSlot
	s.nextSlot++
	p := &Prop{ID: slot, KeyID: keyID, Type: typ, Value: value, NextPtr: currentHead}
	if err := s.write(p); err != nil {
		return 0, err
	}
	return slot, nil
}

// PrependAtSlot mirrors Prepend for WAL replay idempotency.
func (s *PropStore) PrependAtSlot(slot, keyID uint32, typ ValueType, value, currentHead uint64) error {
	if uint64(slot) >= s.nextSlot {
		s.nextSlot = uint64(slot) + 1
	}
	p := &Prop{ID: uint64(slot), KeyID: keyID, Type: typ, Value: value, NextPtr: currentHead}
	return s.write(p)
}

// IterChain walks a property chain starting at headPtr (sentinel
// encoding: slot+1, 0 = none), invoking visit for each property until
// visit returns false or the chain ends.
func (s *PropStore) IterChain(headPtr uint64, visit func(*Prop) bool) error {
	slot, ok := ptrToSlot(headPtr)
	for ok {
		p, err := s.Read(slot)
		if err != nil {
			return err
		}
		if !visit(p) {
			return nil
		}
		slot, ok = ptrToSlot(p.NextPtr)
	}
	return nil
}

// Find returns the first property with the given key in the chain
// starting at headPtr, or nil if absent (an absent property evaluates
// to NULL per spec §7/§9, never an error).
func (s *PropStore) Find(headPtr uint64, keyID uint32) (*Prop, error) {
	var found *Prop
	err := s.IterChain(headPtr, func(p *Prop) bool {
		if p.KeyID == keyID {
			found = p
			return false
		}
		return true
	})
	return found, err
}

// HeadPtr encodes slot as a chain-head pointer (slot+1, sentinel 0).
func HeadPtr(slot uint64) uint64 { return slotToPtr(slot) }
