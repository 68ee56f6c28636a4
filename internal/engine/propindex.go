package engine

import (
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/index/btree"
)

// CreatePropertyIndex builds (or no-ops if already built) a property
// B-tree index over label's key values (spec §4.6 "optional V1" index).
// Like Compact, it holds the writer lock for its duration: it populates
// a brand-new index from every currently-visible node carrying label,
// and a concurrent writer must not create nodes the scan could
// half-see. Once built, every subsequent SET/REMOVE/CREATE/DELETE on a
// node carrying label keeps the index current (see
// exec.maintainNodePropertyIndex, wired from exec/mutate.go's
// setNodeProp and deleteNode).
func (e *Engine) CreatePropertyIndex(label, key string) error {
	w, err := e.txns.BeginWrite(nil)
	if err != nil {
		return err
	}
	defer w.Release()

	labelID, err := e.graph.Catalog.GetOrCreateLabel(label)
	if err != nil {
		return err
	}
	keyID, err := e.graph.Catalog.GetOrCreatePropertyKey(key)
	if err != nil {
		return err
	}
	pk := exec.PropertyIndexKey{LabelID: labelID, KeyID: keyID}
	if _, exists := e.graph.PropertyIndexes[pk]; exists {
		return nil
	}

	idx := btree.New()
	readEpoch := e.txns.CurrentEpoch()
	ctx := &exec.Ctx{Graph: e.graph}
	for _, id := range e.graph.Labels.Iterator(labelID) {
		visible, err := e.graph.Nodes.VisibleAt(id, readEpoch)
		if err != nil {
			return err
		}
		if !visible {
			continue
		}
		n, err := e.graph.Nodes.Read(id)
		if err != nil {
			return err
		}
		p, err := e.graph.Props.Find(n.FirstPropPtr, keyID)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}
		v, ok := exec.IndexableValue(ctx, p)
		if !ok {
			continue
		}
		b, ok := exec.EncodeIndexKey(v)
		if !ok {
			continue
		}
		idx.Insert(btree.Key{LabelID: labelID, KeyID: keyID, Value: b, NodeID: id})
	}
	e.graph.PropertyIndexes[pk] = idx
	e.log.Info("property index created",
		zap.String("label", label), zap.String("key", key), zap.Int("entries", idx.Len()))
	return nil
}

// PropertyIndexEqual returns the node ids carrying label whose key
// property equals v, using the B-tree index if one has been built for
// (label, key); ok is false when no such index exists, signalling the
// caller to fall back to a full scan.
func (e *Engine) PropertyIndexEqual(label, key string, v exec.Value) (ids []uint64, ok bool) {
	labelID, found := e.graph.Catalog.TryLookupLabel(label)
	if !found {
		return nil, false
	}
	keyID, found := e.graph.Catalog.TryLookupPropertyKey(key)
	if !found {
		return nil, false
	}
	idx, found := e.graph.PropertyIndexes[exec.PropertyIndexKey{LabelID: labelID, KeyID: keyID}]
	if !found {
		return nil, false
	}
	b, encodable := exec.EncodeIndexKey(v)
	if !encodable {
		return nil, true
	}
	return idx.Equal(labelID, keyID, b), true
}
