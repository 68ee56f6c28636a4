package exec

import "github.com/graphcore/engine/internal/xerrors"

// Merge executes a MERGE clause: for each Outer row, tries Build(seed)
// (a sub-pattern scan rooted at a RowFeed, same contract as
// OptionalMatch.Build); every matched row gets OnMatch applied, and if
// no row matched, Nodes/Rels are created (as Create does) and OnCreate
// is applied to the freshly bound row (spec §4.9 "Merge(pattern,
// on_create, on_match, child)").
type Merge struct {
	Outer    Operator
	Build    func(seed Row) Operator
	Nodes    []NodeCreateSpec
	Rels     []RelCreateSpec
	OnCreate []SetItem
	OnMatch  []SetItem

	ctx     *Ctx
	inner   Operator
	matched bool
	seed    Row
}

func (o *Merge) Open(ctx *Ctx) error {
	o.ctx = ctx
	if o.ctx.Txn == nil {
		return xerrors.New(xerrors.ConstraintViolated, "exec.Merge", nil).With("reason", "no write transaction")
	}
	return o.Outer.Open(ctx)
}

func (o *Merge) openNextInner() (bool, error) {
	row, ok, err := o.Outer.Next()
	if err != nil || !ok {
		return false, err
	}
	o.seed = row
	o.matched = false
	o.inner = o.Build(row)
	if err := o.inner.Open(o.ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Merge) applySet(row Row, items []SetItem) error {
	for _, item := range items {
		target, ok := row[item.Var]
		if !ok {
			continue
		}
		v, err := Eval(o.ctx, row, item.Value)
		if err != nil {
			return err
		}
		switch target.Kind {
		case KindNode:
			if err := setNodeProp(o.ctx, target.Node, item.KeyID, v); err != nil {
				return err
			}
		case KindRel:
			if err := setRelProp(o.ctx, target.Rel, item.KeyID, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Merge) createPattern(seed Row) (Row, error) {
	out := seed.Clone()
	for _, ns := range o.Nodes {
		var bitmap uint64
		for _, l := range ns.LabelIDs {
			bitmap |= 1 << uint(l)
		}
		id, err := createNode(o.ctx, bitmap)
		if err != nil {
			return nil, err
		}
		out[ns.Var] = VNode(id)
		for keyID, expr := range ns.Props {
			v, err := Eval(o.ctx, out, expr)
			if err != nil {
				return nil, err
			}
			if err := setNodeProp(o.ctx, id, keyID, v); err != nil {
				return nil, err
			}
		}
	}
	for _, rs := range o.Rels {
		srcVal, dstVal := out[rs.SrcVar], out[rs.DstVar]
		if srcVal.Kind != KindNode || dstVal.Kind != KindNode {
			return nil, xerrors.New(xerrors.EvalError, "exec.Merge", nil)
		}
		src, dst := srcVal.Node, dstVal.Node
		if !rs.DirectionToDst {
			src, dst = dst, src
		}
		id, err := createRel(o.ctx, src, dst, rs.TypeID)
		if err != nil {
			return nil, err
		}
		out[rs.Var] = VRel(id)
		for keyID, expr := range rs.Props {
			v, err := Eval(o.ctx, out, expr)
			if err != nil {
				return nil, err
			}
			if err := setRelProp(o.ctx, id, keyID, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (o *Merge) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		if o.inner == nil {
			ok, err := o.openNextInner()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
		}
		row, ok, err := o.inner.Next()
		if err != nil {
			return nil, false, err
		}
		if ok {
			o.matched = true
			if err := o.applySet(row, o.OnMatch); err != nil {
				return nil, false, err
			}
			return row, true, nil
		}
		if err := o.inner.Close(); err != nil {
			return nil, false, err
		}
		o.inner = nil
		if !o.matched {
			created, err := o.createPattern(o.seed)
			if err != nil {
				return nil, false, err
			}
			if err := o.applySet(created, o.OnCreate); err != nil {
				return nil, false, err
			}
			return created, true, nil
		}
	}
}

func (o *Merge) Close() error {
	if o.inner != nil {
		if err := o.inner.Close(); err != nil {
			return err
		}
	}
	return o.Outer.Close()
}
