package exec

import (
	"math"

	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/wal"
	"github.com/graphcore/engine/internal/xerrors"
)

// createNode appends the WAL entry then the store record, in that
// order, per spec §4.3 "writes always go through WAL first" — the WAL
// entry records the id the store write is about to claim, reserved via
// PeekNextID under the writer lock.
func createNode(ctx *Ctx, labels uint64) (uint64, error) {
	id := ctx.Graph.Nodes.PeekNextID()
	epoch := ctx.Txn.OwnWriteEpoch()
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindCreateNode,
		Payload: wal.EncodeCreateNode(wal.CreateNodePayload{ID: id, Labels: labels}),
	}); err != nil {
		return 0, err
	}
	if err := ctx.Graph.Nodes.CreateAtSlot(id, labels, epoch); err != nil {
		return 0, err
	}
	for bit := uint(0); bit < 64; bit++ {
		if labels&(1<<bit) != 0 {
			ctx.Graph.Labels.Add(uint32(bit), id)
			ctx.Graph.Catalog.AdjustNodeCount(uint32(bit), 1)
		}
	}
	return id, nil
}

func deleteNode(ctx *Ctx, id uint64) error {
	epoch := ctx.Txn.OwnWriteEpoch()
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindDeleteNode,
		Payload: wal.EncodeDeleteNode(wal.DeleteNodePayload{ID: id}),
	}); err != nil {
		return err
	}
	n, err := ctx.Graph.Nodes.Read(id)
	if err != nil {
		return err
	}
	if err := ctx.Graph.Nodes.MarkDeleted(id, epoch); err != nil {
		return err
	}
	if err := removeNodeFromPropertyIndexes(ctx, id, n.Labels, n.FirstPropPtr); err != nil {
		return err
	}
	for bit := uint(0); bit < 64; bit++ {
		if n.Labels&(1<<bit) != 0 {
			ctx.Graph.Labels.Remove(uint32(bit), id)
			ctx.Graph.Catalog.AdjustNodeCount(uint32(bit), -1)
		}
	}
	for labelBit := uint(0); labelBit < 64; labelBit++ {
		if n.Labels&(1<<labelBit) == 0 {
			continue
		}
		if idx, ok := ctx.Graph.Vectors[uint32(labelBit)]; ok {
			idx.Remove(id)
		}
	}
	return nil
}

func createRel(ctx *Ctx, src, dst uint64, typeID uint32) (uint64, error) {
	id := ctx.Graph.Rels.PeekNextID()
	epoch := ctx.Txn.OwnWriteEpoch()
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindCreateRel,
		Payload: wal.EncodeCreateRel(wal.CreateRelPayload{ID: id, Src: src, Dst: dst, TypeID: typeID}),
	}); err != nil {
		return 0, err
	}
	if err := ctx.Graph.Rels.CreateAtSlot(id, src, dst, typeID, epoch, ctx.Graph.Nodes); err != nil {
		return 0, err
	}
	ctx.Graph.Catalog.AdjustRelCount(typeID, 1)
	return id, nil
}

func deleteRel(ctx *Ctx, id uint64) error {
	epoch := ctx.Txn.OwnWriteEpoch()
	r, err := ctx.Graph.Rels.Read(id)
	if err != nil {
		return err
	}
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindDeleteRel,
		Payload: wal.EncodeDeleteRel(wal.DeleteRelPayload{ID: id}),
	}); err != nil {
		return err
	}
	if err := ctx.Graph.Rels.Delete(id, epoch, ctx.Graph.Nodes); err != nil {
		return err
	}
	ctx.Graph.Catalog.AdjustRelCount(r.TypeID, -1)
	return nil
}

// encodeScalar maps a runtime Value to the store's inline wire
// representation, mirroring decodePropValue's inverse. List/Map values
// are not inline-storable (spec §3.1 property values are scalar);
// encodeScalar rejects those, and node/relationship values, with a
// ConstraintViolated error before setNodeProp/setRelProp write anything.
func encodeScalar(ctx *Ctx, v Value) (store.ValueType, uint64, error) {
	switch v.Kind {
	case KindNull:
		return store.TypeNull, 0, nil
	case KindBool:
		if v.Bool {
			return store.TypeBool, 1, nil
		}
		return store.TypeBool, 0, nil
	case KindInt:
		return store.TypeI64, uint64(v.Int), nil
	case KindFloat:
		return store.TypeF64, math.Float64bits(v.Float), nil
	case KindString:
		off, err := ctx.Graph.Blobs.Put([]byte(v.Str))
		if err != nil {
			return store.TypeNull, 0, err
		}
		return store.TypeStringRef, uint64(off), nil
	default:
		return store.TypeNull, 0, xerrors.New(xerrors.ConstraintViolated, "exec.encodeScalar", nil).With("kind", v.Kind)
	}
}

func setNodeProp(ctx *Ctx, nodeID uint64, keyID uint32, v Value) error {
	typ, val, err := encodeScalar(ctx, v)
	if err != nil {
		return err
	}
	epoch := ctx.Txn.OwnWriteEpoch()
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindSetProperty,
		Payload: wal.EncodeSetProperty(wal.SetPropertyPayload{Owner: wal.OwnerNode, OwnerID: nodeID, KeyID: keyID, ValType: uint8(typ), Value: val}),
	}); err != nil {
		return err
	}
	n, err := ctx.Graph.Nodes.Read(nodeID)
	if err != nil {
		return err
	}
	var old *store.Prop
	if len(ctx.Graph.PropertyIndexes) > 0 {
		if existing, findErr := ctx.Graph.Props.Find(n.FirstPropPtr, keyID); findErr == nil && existing != nil {
			old = existing
		}
	}
	slot, err := ctx.Graph.Props.Prepend(keyID, typ, val, n.FirstPropPtr)
	if err != nil {
		return err
	}
	if err := ctx.Graph.Nodes.SetFirstPropPtr(nodeID, store.HeadPtr(slot)); err != nil {
		return err
	}
	if typ != store.TypeNull {
		ctx.Graph.Catalog.AdjustPropertyCount(1)
	}
	maintainNodePropertyIndex(ctx, nodeID, n.Labels, keyID, old, v)
	return nil
}

func removeNodeProp(ctx *Ctx, nodeID uint64, keyID uint32) error {
	return setNodeProp(ctx, nodeID, keyID, Null)
}

func setRelProp(ctx *Ctx, relID uint64, keyID uint32, v Value) error {
	typ, val, err := encodeScalar(ctx, v)
	if err != nil {
		return err
	}
	epoch := ctx.Txn.OwnWriteEpoch()
	if _, err := ctx.Graph.WAL.Append(wal.Entry{
		Epoch: epoch, TxID: ctx.Txn.TxID(), Kind: wal.KindSetProperty,
		Payload: wal.EncodeSetProperty(wal.SetPropertyPayload{Owner: wal.OwnerRel, OwnerID: relID, KeyID: keyID, ValType: uint8(typ), Value: val}),
	}); err != nil {
		return err
	}
	r, err := ctx.Graph.Rels.Read(relID)
	if err != nil {
		return err
	}
	slot, err := ctx.Graph.Props.Prepend(keyID, typ, val, r.PropPtr)
	if err != nil {
		return err
	}
	if err := ctx.Graph.Rels.SetPropPtr(relID, store.HeadPtr(slot)); err != nil {
		return err
	}
	if typ != store.TypeNull {
		ctx.Graph.Catalog.AdjustPropertyCount(1)
	}
	return nil
}

func removeRelProp(ctx *Ctx, relID uint64, keyID uint32) error {
	return setRelProp(ctx, relID, keyID, Null)
}

// CreateNode, DeleteNode, CreateRel, DeleteRel, SetNodeProp,
// RemoveNodeProp, SetRelProp and RemoveRelProp are the unexported
// mutation primitives above, exported for the engine facade: a
// create_node/set_property call (spec §6.1) mutates the graph directly
// rather than through a Cypher CREATE/SET operator, most importantly
// so it can attach a vector to a node's label-scoped HNSW index, which
// PropStore's ValueType enum has no representation for.
func CreateNode(ctx *Ctx, labels uint64) (uint64, error) { return createNode(ctx, labels) }
func DeleteNode(ctx *Ctx, id uint64) error               { return deleteNode(ctx, id) }
func CreateRel(ctx *Ctx, src, dst uint64, typeID uint32) (uint64, error) {
	return createRel(ctx, src, dst, typeID)
}
func DeleteRel(ctx *Ctx, id uint64) error { return deleteRel(ctx, id) }
func SetNodeProp(ctx *Ctx, nodeID uint64, keyID uint32, v Value) error {
	return setNodeProp(ctx, nodeID, keyID, v)
}
func RemoveNodeProp(ctx *Ctx, nodeID uint64, keyID uint32) error {
	return removeNodeProp(ctx, nodeID, keyID)
}
func SetRelProp(ctx *Ctx, relID uint64, keyID uint32, v Value) error {
	return setRelProp(ctx, relID, keyID, v)
}
func RemoveRelProp(ctx *Ctx, relID uint64, keyID uint32) error {
	return removeRelProp(ctx, relID, keyID)
}
