package exec

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/store"
)

// Expand walks SrcVar's adjacency chain for each child row, emitting
// one row per matching relationship with RelVar/DstVar bound (spec
// §4.9 "Expand"). Bidirectional direction walks the chain once (each
// relationship record is already reachable from both endpoints' chains
// independently) and relies on the direction check, not a second walk,
// to avoid the emit-twice hazard on self-loops.
type Expand struct {
	SrcVar, RelVar, DstVar string
	TypeIDs                []uint32 // nil/empty = any type
	Direction              ast.Direction
	Child                  Operator

	ctx      *Ctx
	pending  []candRel
	pendPos  int
	baseRow  Row
	seen     map[[3]uint64]bool
}

type candRel struct {
	relID, dstID uint64
}

func (o *Expand) Open(ctx *Ctx) error {
	o.ctx = ctx
	o.seen = make(map[[3]uint64]bool)
	return o.Child.Open(ctx)
}

func (o *Expand) typeMatches(typeID uint32) bool {
	if len(o.TypeIDs) == 0 {
		return true
	}
	for _, t := range o.TypeIDs {
		if t == typeID {
			return true
		}
	}
	return false
}

func (o *Expand) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		for o.pendPos < len(o.pending) {
			c := o.pending[o.pendPos]
			o.pendPos++
			row := o.baseRow.Clone()
			row[o.RelVar] = VRel(c.relID)
			row[o.DstVar] = VNode(c.dstID)
			return row, true, nil
		}

		row, ok, err := o.Child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		srcVal, ok := row[o.SrcVar]
		if !ok || srcVal.Kind != KindNode {
			continue
		}
		o.baseRow = row
		o.pending = o.pending[:0]
		o.pendPos = 0
		err = o.ctx.Graph.Rels.IterChain(srcVal.Node, o.ctx.Graph.Nodes, func(r *store.Rel) bool {
			if !o.typeMatches(r.TypeID) {
				return true
			}
			if !relMatchesDirection(r, srcVal.Node, o.Direction) {
				return true
			}
			visible, verr := o.ctx.Graph.Rels.VisibleAt(r.ID, o.ctx.ReadEpoch())
			if verr != nil || !visible {
				return true
			}
			dst := r.Dst
			if dst == srcVal.Node {
				dst = r.Src
			}
			// dedup key is (src, dst, rel_id), not dst alone (spec §4.9
			// "Deduplication of relationship rows").
			key := [3]uint64{srcVal.Node, dst, r.ID}
			if o.seen[key] {
				return true
			}
			o.seen[key] = true
			o.pending = append(o.pending, candRel{relID: r.ID, dstID: dst})
			return true
		})
		if err != nil {
			return nil, false, err
		}
	}
}

func (o *Expand) Close() error { return o.Child.Close() }
