package exec

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/xerrors"
)

// SetItem is one `var.key = expr` or `var += {...}` assignment.
type SetItem struct {
	Var   string
	KeyID uint32
	Value ast.Expr
}

// Set executes a SET clause: evaluates Value for each row and writes
// it onto the bound node/relationship (spec §4.9 "Set(items, child)").
type Set struct {
	Items []SetItem
	Child Operator

	ctx *Ctx
}

func (o *Set) Open(ctx *Ctx) error {
	o.ctx = ctx
	if o.ctx.Txn == nil {
		return xerrors.New(xerrors.ConstraintViolated, "exec.Set", nil).With("reason", "no write transaction")
	}
	return o.Child.Open(ctx)
}

func (o *Set) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	for _, item := range o.Items {
		target, ok := row[item.Var]
		if !ok {
			continue
		}
		v, err := Eval(o.ctx, row, item.Value)
		if err != nil {
			return nil, false, err
		}
		switch target.Kind {
		case KindNode:
			if err := setNodeProp(o.ctx, target.Node, item.KeyID, v); err != nil {
				return nil, false, err
			}
		case KindRel:
			if err := setRelProp(o.ctx, target.Rel, item.KeyID, v); err != nil {
				return nil, false, err
			}
		}
	}
	return row, true, nil
}

func (o *Set) Close() error { return o.Child.Close() }

// RemoveItem is one `var.key` removal or `var:Label` label removal.
type RemoveItem struct {
	Var     string
	KeyID   uint32 // property removal when nonzero and !IsLabel
	LabelID uint32
	IsLabel bool
}

// Remove executes a REMOVE clause (spec §4.9 "Remove(items, child)").
// Property removal tombstones the key (see removeNodeProp); label
// removal clears the node's label bit and evicts it from that label's
// bitmap and vector indexes.
type Remove struct {
	Items []RemoveItem
	Child Operator

	ctx *Ctx
}

func (o *Remove) Open(ctx *Ctx) error {
	o.ctx = ctx
	if o.ctx.Txn == nil {
		return xerrors.New(xerrors.ConstraintViolated, "exec.Remove", nil).With("reason", "no write transaction")
	}
	return o.Child.Open(ctx)
}

func (o *Remove) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	for _, item := range o.Items {
		target, ok := row[item.Var]
		if !ok {
			continue
		}
		if item.IsLabel {
			if target.Kind != KindNode {
				continue
			}
			if err := removeNodeLabel(o.ctx, target.Node, item.LabelID); err != nil {
				return nil, false, err
			}
			continue
		}
		switch target.Kind {
		case KindNode:
			if err := removeNodeProp(o.ctx, target.Node, item.KeyID); err != nil {
				return nil, false, err
			}
		case KindRel:
			if err := removeRelProp(o.ctx, target.Rel, item.KeyID); err != nil {
				return nil, false, err
			}
		}
	}
	return row, true, nil
}

func (o *Remove) Close() error { return o.Child.Close() }

// AddNodeLabel sets a node's label bit and indexes it under that
// label, used by SET var:Label (spec §4.9 "Set"). Exported for the
// planner, which builds the add-label step as a thin wrapper operator
// rather than a full exec type.
func AddNodeLabel(ctx *Ctx, nodeID uint64, labelID uint32) error {
	n, err := ctx.Graph.Nodes.Read(nodeID)
	if err != nil {
		return err
	}
	bit := uint64(1) << uint(labelID)
	if n.Labels&bit != 0 {
		return nil
	}
	if err := ctx.Graph.Nodes.SetLabels(nodeID, n.Labels|bit); err != nil {
		return err
	}
	ctx.Graph.Labels.Add(labelID, nodeID)
	ctx.Graph.Catalog.AdjustNodeCount(labelID, 1)
	return nil
}

func removeNodeLabel(ctx *Ctx, nodeID uint64, labelID uint32) error {
	n, err := ctx.Graph.Nodes.Read(nodeID)
	if err != nil {
		return err
	}
	bit := uint64(1) << uint(labelID)
	if n.Labels&bit == 0 {
		return nil
	}
	n.Labels &^= bit
	if err := ctx.Graph.Nodes.SetLabels(nodeID, n.Labels); err != nil {
		return err
	}
	ctx.Graph.Labels.Remove(labelID, nodeID)
	ctx.Graph.Catalog.AdjustNodeCount(labelID, -1)
	if idx, ok := ctx.Graph.Vectors[labelID]; ok {
		idx.Remove(nodeID)
	}
	return nil
}
