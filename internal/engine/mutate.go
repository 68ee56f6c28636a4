package engine

import (
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/xerrors"
)

// CreateNode creates a node with the given labels and properties (spec
// §6.1 create_node()), then attaches vectors keyed by label name for
// any label present in both labels and vectors — the HNSW index has no
// representation inside a Cypher CREATE/SET operator, so this is the
// only path a caller has to give a node an embedding (see
// internal/exec's CreateNode/SetNodeProp doc comment).
func (t *WriteTxn) CreateNode(labels []string, properties map[string]exec.Value, vectors map[string][]float32) (uint64, error) {
	var bitmap uint64
	labelIDs := make(map[string]uint32, len(labels))
	for _, name := range labels {
		id, err := t.e.graph.Catalog.GetOrCreateLabel(name)
		if err != nil {
			return 0, err
		}
		if id >= 64 {
			return 0, xerrors.New(xerrors.ConstraintViolated, "engine.CreateNode", nil).With("reason", "more than 64 labels in catalog")
		}
		labelIDs[name] = id
		bitmap |= 1 << id
	}
	ctx := t.ctx(nil, nil)
	id, err := exec.CreateNode(ctx, bitmap)
	if err != nil {
		return 0, err
	}
	for key, v := range properties {
		if err := t.setNodeProperty(ctx, id, key, v); err != nil {
			return 0, err
		}
	}
	for label, vec := range vectors {
		labelID, ok := labelIDs[label]
		if !ok {
			return 0, xerrors.New(xerrors.ConstraintViolated, "engine.CreateNode", nil).With("reason", "vector label not among node's labels").With("label", label)
		}
		if err := t.attachVector(labelID, id, vec); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DeleteNode deletes a node (spec §6.1 delete_node()), including its
// vector-index membership under every label it carried.
func (t *WriteTxn) DeleteNode(id uint64) error {
	return exec.DeleteNode(t.ctx(nil, nil), id)
}

// CreateRelationship creates a typed relationship (spec §6.1
// create_relationship()).
func (t *WriteTxn) CreateRelationship(src, dst uint64, relType string, properties map[string]exec.Value) (uint64, error) {
	typeID, err := t.e.graph.Catalog.GetOrCreateRelType(relType)
	if err != nil {
		return 0, err
	}
	ctx := t.ctx(nil, nil)
	id, err := exec.CreateRel(ctx, src, dst, typeID)
	if err != nil {
		return 0, err
	}
	for key, v := range properties {
		if err := t.setRelProperty(ctx, id, key, v); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// DeleteRelationship deletes a relationship (spec §6.1
// delete_relationship()).
func (t *WriteTxn) DeleteRelationship(id uint64) error {
	return exec.DeleteRel(t.ctx(nil, nil), id)
}

// SetNodeProperty sets one property on a node (spec §6.1
// set_property()); SetRelProperty is the relationship counterpart, each
// taking the id CreateNode/CreateRelationship returned.
func (t *WriteTxn) SetNodeProperty(nodeID uint64, key string, v exec.Value) error {
	return t.setNodeProperty(t.ctx(nil, nil), nodeID, key, v)
}

func (t *WriteTxn) RemoveNodeProperty(nodeID uint64, key string) error {
	keyID, err := t.e.graph.Catalog.GetOrCreatePropertyKey(key)
	if err != nil {
		return err
	}
	return exec.RemoveNodeProp(t.ctx(nil, nil), nodeID, keyID)
}

func (t *WriteTxn) SetRelProperty(relID uint64, key string, v exec.Value) error {
	return t.setRelProperty(t.ctx(nil, nil), relID, key, v)
}

func (t *WriteTxn) RemoveRelProperty(relID uint64, key string) error {
	keyID, err := t.e.graph.Catalog.GetOrCreatePropertyKey(key)
	if err != nil {
		return err
	}
	return exec.RemoveRelProp(t.ctx(nil, nil), relID, keyID)
}

func (t *WriteTxn) setNodeProperty(ctx *exec.Ctx, nodeID uint64, key string, v exec.Value) error {
	keyID, err := t.e.graph.Catalog.GetOrCreatePropertyKey(key)
	if err != nil {
		return err
	}
	return exec.SetNodeProp(ctx, nodeID, keyID, v)
}

func (t *WriteTxn) setRelProperty(ctx *exec.Ctx, relID uint64, key string, v exec.Value) error {
	keyID, err := t.e.graph.Catalog.GetOrCreatePropertyKey(key)
	if err != nil {
		return err
	}
	return exec.SetRelProp(ctx, relID, keyID, v)
}

// AttachVector gives node an embedding under label's HNSW index (spec
// §4.1 "HNSW index for label L contains exactly one embedding slot per
// (node-id, vector) pair present for that label"); node need not
// already carry label in its bitmap — a vector-only label used purely
// for ANN search is allowed, matching §4.6's index being addressed
// by label id rather than node-label membership.
func (t *WriteTxn) AttachVector(nodeID uint64, label string, vector []float32) error {
	labelID, err := t.e.graph.Catalog.GetOrCreateLabel(label)
	if err != nil {
		return err
	}
	return t.attachVector(labelID, nodeID, vector)
}

func (t *WriteTxn) attachVector(labelID uint32, nodeID uint64, vector []float32) error {
	g, err := t.e.vectorGraphFor(labelID, len(vector))
	if err != nil {
		return err
	}
	return g.Insert(nodeID, vector)
}

// DetachVector removes node's embedding from label's HNSW index, if
// present.
func (t *WriteTxn) DetachVector(nodeID uint64, label string) error {
	labelID, ok := t.e.graph.Catalog.TryLookupLabel(label)
	if !ok {
		return nil
	}
	if g, ok := t.e.graph.Vectors[labelID]; ok {
		g.Remove(nodeID)
	}
	return nil
}
