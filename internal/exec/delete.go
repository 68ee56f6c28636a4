package exec

import (
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/xerrors"
)

// Delete executes a DELETE/DETACH DELETE clause (spec §4.9
// "Delete(vars, detach, child)"). Deleting a node with remaining
// relationships without DETACH is a constraint violation; DETACH
// deletes the node's incident relationships first.
type Delete struct {
	Vars   []string
	Detach bool
	Child  Operator

	ctx *Ctx
}

func (o *Delete) Open(ctx *Ctx) error {
	o.ctx = ctx
	if o.ctx.Txn == nil {
		return xerrors.New(xerrors.ConstraintViolated, "exec.Delete", nil).With("reason", "no write transaction")
	}
	return o.Child.Open(ctx)
}

func (o *Delete) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	// Relationships first (whether explicitly listed or pulled in via
	// DETACH), then nodes, so a node is never deleted while a
	// relationship record still points at it.
	for _, v := range o.Vars {
		val, ok := row[v]
		if !ok || val.Kind != KindRel {
			continue
		}
		if err := deleteRel(o.ctx, val.Rel); err != nil {
			return nil, false, err
		}
	}
	for _, v := range o.Vars {
		val, ok := row[v]
		if !ok || val.Kind != KindNode {
			continue
		}
		if o.Detach {
			if err := detachRels(o.ctx, val.Node); err != nil {
				return nil, false, err
			}
		} else {
			has, err := hasAnyRel(o.ctx, val.Node)
			if err != nil {
				return nil, false, err
			}
			if has {
				return nil, false, xerrors.New(xerrors.ConstraintViolated, "exec.Delete", nil).With("node_id", val.Node)
			}
		}
		if err := deleteNode(o.ctx, val.Node); err != nil {
			return nil, false, err
		}
	}
	return row, true, nil
}

func hasAnyRel(ctx *Ctx, nodeID uint64) (bool, error) {
	found := false
	err := ctx.Graph.Rels.IterChain(nodeID, ctx.Graph.Nodes, func(r *store.Rel) bool {
		visible, verr := ctx.Graph.Rels.VisibleAt(r.ID, ctx.ReadEpoch())
		if verr == nil && visible {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// detachRels deletes every relationship currently incident to nodeID.
// It collects ids first because deleteRel splices the adjacency chain
// as it goes, which would otherwise invalidate IterChain's own cursor.
func detachRels(ctx *Ctx, nodeID uint64) error {
	var ids []uint64
	err := ctx.Graph.Rels.IterChain(nodeID, ctx.Graph.Nodes, func(r *store.Rel) bool {
		visible, verr := ctx.Graph.Rels.VisibleAt(r.ID, ctx.ReadEpoch())
		if verr == nil && visible {
			ids = append(ids, r.ID)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := deleteRel(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (o *Delete) Close() error { return o.Child.Close() }
