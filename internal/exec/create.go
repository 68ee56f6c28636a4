package exec

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/xerrors"
)

// NodeCreateSpec describes one node pattern to create per input row.
type NodeCreateSpec struct {
	Var      string
	LabelIDs []uint32
	Props    map[uint32]ast.Expr // key id -> value expression
}

// RelCreateSpec describes one relationship pattern to create per input
// row; SrcVar/DstVar must already be bound (either from an earlier
// NodeCreateSpec in the same clause or from the outer row).
type RelCreateSpec struct {
	Var             string
	TypeID          uint32
	Props           map[uint32]ast.Expr
	SrcVar, DstVar  string
	DirectionToDst  bool // true: SrcVar->DstVar stored as (src,dst); false: reversed
}

// Create executes a CREATE clause's pattern against every input row,
// allocating new nodes/rels under the current write transaction and
// binding them into the output row (spec §4.9 "Create(pattern, child)",
// §4.6 "index maintenance must happen before COMMIT").
type Create struct {
	Nodes []NodeCreateSpec
	Rels  []RelCreateSpec
	Child Operator

	ctx *Ctx
}

func (o *Create) Open(ctx *Ctx) error {
	o.ctx = ctx
	if o.ctx.Txn == nil {
		return xerrors.New(xerrors.ConstraintViolated, "exec.Create", nil).With("reason", "no write transaction")
	}
	return o.Child.Open(ctx)
}

func (o *Create) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	out := row.Clone()
	for _, ns := range o.Nodes {
		var bitmap uint64
		for _, l := range ns.LabelIDs {
			bitmap |= 1 << uint(l)
		}
		id, err := createNode(o.ctx, bitmap)
		if err != nil {
			return nil, false, err
		}
		out[ns.Var] = VNode(id)
		for keyID, expr := range ns.Props {
			v, err := Eval(o.ctx, out, expr)
			if err != nil {
				return nil, false, err
			}
			if err := setNodeProp(o.ctx, id, keyID, v); err != nil {
				return nil, false, err
			}
		}
	}
	for _, rs := range o.Rels {
		srcVal, ok := out[rs.SrcVar]
		if !ok || srcVal.Kind != KindNode {
			return nil, false, xerrors.New(xerrors.EvalError, "exec.Create", nil).With("var", rs.SrcVar)
		}
		dstVal, ok := out[rs.DstVar]
		if !ok || dstVal.Kind != KindNode {
			return nil, false, xerrors.New(xerrors.EvalError, "exec.Create", nil).With("var", rs.DstVar)
		}
		src, dst := srcVal.Node, dstVal.Node
		if !rs.DirectionToDst {
			src, dst = dst, src
		}
		id, err := createRel(o.ctx, src, dst, rs.TypeID)
		if err != nil {
			return nil, false, err
		}
		out[rs.Var] = VRel(id)
		for keyID, expr := range rs.Props {
			v, err := Eval(o.ctx, out, expr)
			if err != nil {
				return nil, false, err
			}
			if err := setRelProp(o.ctx, id, keyID, v); err != nil {
				return nil, false, err
			}
		}
	}
	return out, true, nil
}

func (o *Create) Close() error { return o.Child.Close() }
