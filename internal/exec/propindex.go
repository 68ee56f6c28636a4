package exec

import (
	"math"

	"github.com/graphcore/engine/internal/index/btree"
	"github.com/graphcore/engine/internal/store"
)

// PropertyIndexKey names one (label, property key) property B-tree
// index (spec §4.6 "Property B-tree", the optional V1 index).
type PropertyIndexKey struct {
	LabelID uint32
	KeyID   uint32
}

// indexableKey encodes v into the btree package's order-preserving byte
// form, for the scalar types the property index supports — int, float
// and string. Bool and null carry no useful range ordering and lists/
// maps never reach property storage at all, so none of those are ever
// indexed.
func indexableKey(v Value) ([]byte, bool) {
	switch v.Kind {
	case KindInt:
		return btree.EncodeInt64(v.Int), true
	case KindFloat:
		return btree.EncodeFloat64(v.Float), true
	case KindString:
		return btree.EncodeString(v.Str), true
	default:
		return nil, false
	}
}

// decodeIndexedValue turns an on-disk Prop record back into the runtime
// Value indexableKey expects, resolving a string property's blob
// reference same as the read path does.
func decodeIndexedValue(ctx *Ctx, p *store.Prop) (Value, bool) {
	switch p.Type {
	case store.TypeI64:
		return VInt(int64(p.Value)), true
	case store.TypeF64:
		return VFloat(math.Float64frombits(p.Value)), true
	case store.TypeStringRef:
		data, err := ctx.Graph.Blobs.Get(int64(p.Value))
		if err != nil {
			return Null, false
		}
		return VString(string(data)), true
	default:
		return Null, false
	}
}

// IndexableValue and EncodeIndexKey are exported for
// Engine.CreatePropertyIndex and Engine.PropertyIndexEqual, which need
// the same decode/encode rules maintainNodePropertyIndex uses when it
// keeps an index in sync with live writes.
func IndexableValue(ctx *Ctx, p *store.Prop) (Value, bool) { return decodeIndexedValue(ctx, p) }
func EncodeIndexKey(v Value) ([]byte, bool)                { return indexableKey(v) }

// currentNodeProps walks a node's property chain once, keeping only the
// first (most recent) record per key — later records in the chain are
// shadowed history, the same rule the keys() builtin in exec/funcs.go
// applies.
func currentNodeProps(ctx *Ctx, headPtr uint64) (map[uint32]store.Prop, error) {
	out := map[uint32]store.Prop{}
	seen := map[uint32]bool{}
	err := ctx.Graph.Props.IterChain(headPtr, func(p *store.Prop) bool {
		if seen[p.KeyID] {
			return true
		}
		seen[p.KeyID] = true
		out[p.KeyID] = *p
		return true
	})
	return out, err
}

// maintainNodePropertyIndex keeps every property index touching keyID in
// sync with one SET/REMOVE on nodeID: old's value (if indexable) is
// removed under every label the node carries, then newVal (if
// indexable) is inserted under the same labels. Indexes are created
// opt-in via Engine.CreatePropertyIndex, so most (label, key)
// combinations have no index and this is a no-op lookup away from
// mattering at all.
func maintainNodePropertyIndex(ctx *Ctx, nodeID uint64, labels uint64, keyID uint32, old *store.Prop, newVal Value) {
	if len(ctx.Graph.PropertyIndexes) == 0 {
		return
	}
	newBytes, newOK := indexableKey(newVal)
	var oldBytes []byte
	var oldOK bool
	if old != nil {
		if oldVal, ok := decodeIndexedValue(ctx, old); ok {
			oldBytes, oldOK = indexableKey(oldVal)
		}
	}
	if !newOK && !oldOK {
		return
	}
	for bit := uint(0); bit < 64; bit++ {
		if labels&(1<<bit) == 0 {
			continue
		}
		idx, ok := ctx.Graph.PropertyIndexes[PropertyIndexKey{LabelID: uint32(bit), KeyID: keyID}]
		if !ok {
			continue
		}
		if oldOK {
			idx.Remove(btree.Key{LabelID: uint32(bit), KeyID: keyID, Value: oldBytes, NodeID: nodeID})
		}
		if newOK {
			idx.Insert(btree.Key{LabelID: uint32(bit), KeyID: keyID, Value: newBytes, NodeID: nodeID})
		}
	}
}

// removeNodeFromPropertyIndexes drops every indexed property nodeID
// contributed, called when the node itself is deleted.
func removeNodeFromPropertyIndexes(ctx *Ctx, nodeID uint64, labels uint64, headPtr uint64) error {
	if len(ctx.Graph.PropertyIndexes) == 0 {
		return nil
	}
	props, err := currentNodeProps(ctx, headPtr)
	if err != nil {
		return err
	}
	for keyID, p := range props {
		v, ok := decodeIndexedValue(ctx, &p)
		if !ok {
			continue
		}
		b, ok := indexableKey(v)
		if !ok {
			continue
		}
		for bit := uint(0); bit < 64; bit++ {
			if labels&(1<<bit) == 0 {
				continue
			}
			idx, ok := ctx.Graph.PropertyIndexes[PropertyIndexKey{LabelID: uint32(bit), KeyID: keyID}]
			if !ok {
				continue
			}
			idx.Remove(btree.Key{LabelID: uint32(bit), KeyID: keyID, Value: b, NodeID: nodeID})
		}
	}
	return nil
}
