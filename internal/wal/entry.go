// Package wal implements the write-ahead log: CRC-validated,
// self-delimiting entries, replay from the last checkpoint, and
// checkpoint-driven truncation (spec §4.4).
package wal

import "encoding/binary"

var le = binary.LittleEndian

// Kind tags the entry payload schema (spec §4.4).
type Kind uint8

const (
	KindBeginTx Kind = iota + 1
	KindCommitTx
	KindAbortTx
	KindCreateNode
	KindDeleteNode
	KindCreateRel
	KindDeleteRel
	KindSetProperty
	KindDeleteProperty
	KindCheckpoint
)

// Entry is one WAL record: {epoch, tx_id, kind, payload, crc32}. The
// header fields below the payload are what §4.4 calls the "typed,
// self-delimiting" envelope; Payload itself is kind-specific and
// produced by the encode/decode helpers in this file.
type Entry struct {
	Epoch   uint64
	TxID    uint64
	Kind    Kind
	Payload []byte
}

// OwnerKind distinguishes a property's owner for SetProperty/
// DeleteProperty payloads.
type OwnerKind uint8

const (
	OwnerNode OwnerKind = iota
	OwnerRel
)

type CreateNodePayload struct {
	ID     uint64
	Labels uint64
	// PropertiesSnapshot is an opaque, already-encoded blob of the
	// property chain at creation time, used only for forensic replay
	// debugging; property records themselves are re-derived from
	// individual SetProperty entries that follow in the same
	// transaction, so this is not decoded during normal replay.
	PropertiesSnapshot []byte
}

type DeleteNodePayload struct{ ID uint64 }

type CreateRelPayload struct {
	ID                 uint64
	Src, Dst           uint64
	TypeID             uint32
	PropertiesSnapshot []byte
}

type DeleteRelPayload struct{ ID uint64 }

type SetPropertyPayload struct {
	Owner   OwnerKind
	OwnerID uint64
	KeyID   uint32
	ValType uint8
	Value   uint64
}

type DeletePropertyPayload struct {
	Owner   OwnerKind
	OwnerID uint64
	KeyID   uint32
}

type CheckpointPayload struct {
	Epoch          uint64
	TruncateOffset int64
}

func EncodeCreateNode(p CreateNodePayload) []byte {
	buf := make([]byte, 8+8+4+len(p.PropertiesSnapshot))
	le.PutUint64(buf[0:8], p.ID)
	le.PutUint64(buf[8:16], p.Labels)
	le.PutUint32(buf[16:20], uint32(len(p.PropertiesSnapshot)))
	copy(buf[20:], p.PropertiesSnapshot)
	return buf
}

func DecodeCreateNode(b []byte) CreateNodePayload {
	n := le.Uint32(b[16:20])
	return CreateNodePayload{ID: le.Uint64(b[0:8]), Labels: le.Uint64(b[8:16]), PropertiesSnapshot: append([]byte{}, b[20:20+n]...)}
}

func EncodeDeleteNode(p DeleteNodePayload) []byte {
	buf := make([]byte, 8)
	le.PutUint64(buf, p.ID)
	return buf
}

func DecodeDeleteNode(b []byte) DeleteNodePayload { return DeleteNodePayload{ID: le.Uint64(b[0:8])} }

func EncodeCreateRel(p CreateRelPayload) []byte {
	buf := make([]byte, 8+8+8+4+4+len(p.PropertiesSnapshot))
	le.PutUint64(buf[0:8], p.ID)
	le.PutUint64(buf[8:16], p.Src)
	le.PutUint64(buf[16:24], p.Dst)
	le.PutUint32(buf[24:28], p.TypeID)
	le.PutUint32(buf[28:32], uint32(len(p.PropertiesSnapshot)))
	copy(buf[32:], p.PropertiesSnapshot)
	return buf
}

func DecodeCreateRel(b []byte) CreateRelPayload {
	n := le.Uint32(b[28:32])
	return CreateRelPayload{
		ID: le.Uint64(b[0:8]), Src: le.Uint64(b[8:16]), Dst: le.Uint64(b[16:24]),
		TypeID: le.Uint32(b[24:28]), PropertiesSnapshot: append([]byte{}, b[32:32+n]...),
	}
}

func EncodeDeleteRel(p DeleteRelPayload) []byte {
	buf := make([]byte, 8)
	le.PutUint64(buf, p.ID)
	return buf
}

func DecodeDeleteRel(b []byte) DeleteRelPayload { return DeleteRelPayload{ID: le.Uint64(b[0:8])} }

func EncodeSetProperty(p SetPropertyPayload) []byte {
	buf := make([]byte, 1+8+4+1+8)
	buf[0] = byte(p.Owner)
	le.PutUint64(buf[1:9], p.OwnerID)
	le.PutUint32(buf[9:13], p.KeyID)
	buf[13] = p.ValType
	le.PutUint64(buf[14:22], p.Value)
	return buf
}

func DecodeSetProperty(b []byte) SetPropertyPayload {
	return SetPropertyPayload{
		Owner: OwnerKind(b[0]), OwnerID: le.Uint64(b[1:9]), KeyID: le.Uint32(b[9:13]),
		ValType: b[13], Value: le.Uint64(b[14:22]),
	}
}

func EncodeDeleteProperty(p DeletePropertyPayload) []byte {
	buf := make([]byte, 1+8+4)
	buf[0] = byte(p.Owner)
	le.PutUint64(buf[1:9], p.OwnerID)
	le.PutUint32(buf[9:13], p.KeyID)
	return buf
}

func DecodeDeleteProperty(b []byte) DeletePropertyPayload {
	return DeletePropertyPayload{Owner: OwnerKind(b[0]), OwnerID: le.Uint64(b[1:9]), KeyID: le.Uint32(b[9:13])}
}

func EncodeCheckpoint(p CheckpointPayload) []byte {
	buf := make([]byte, 16)
	le.PutUint64(buf[0:8], p.Epoch)
	le.PutUint64(buf[8:16], uint64(p.TruncateOffset))
	return buf
}

func DecodeCheckpoint(b []byte) CheckpointPayload {
	return CheckpointPayload{Epoch: le.Uint64(b[0:8]), TruncateOffset: int64(le.Uint64(b[8:16]))}
}
