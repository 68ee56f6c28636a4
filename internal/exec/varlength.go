package exec

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/store"
)

// VariableLengthPath expands SrcVar between MinHops and MaxHops
// relationship-hops, emitting one row per distinct reachable endpoint
// (spec §4.9 "VariableLengthPath"). Traversal is a bounded BFS with a
// per-source visited set so a cyclic graph cannot loop forever and so
// the same endpoint isn't emitted twice for the same source, matching
// Cypher's path semantics (node-distinct, not relationship-count
// distinct).
type VariableLengthPath struct {
	SrcVar, DstVar string
	TypeIDs        []uint32
	Direction      ast.Direction
	MinHops        int
	MaxHops        int // <= 0 (the parser's -1) = unbounded, capped defensively below
	Child          Operator

	ctx     *Ctx
	baseRow Row
	pending []uint64
	pendPos int
}

const maxVarLengthHopsDefault = 15

func (o *VariableLengthPath) typeMatches(typeID uint32) bool {
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

func (o *VariableLengthPath) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Child.Open(ctx)
}

func (o *VariableLengthPath) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		for o.pendPos < len(o.pending) {
			dst := o.pending[o.pendPos]
			o.pendPos++
			row := o.baseRow.Clone()
			row[o.DstVar] = VNode(dst)
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
		reached, err := o.bfs(srcVal.Node)
		if err != nil {
			return nil, false, err
		}
		o.pending = reached
		o.pendPos = 0
	}
}

func (o *VariableLengthPath) bfs(start uint64) ([]uint64, error) {
	maxHops := o.MaxHops
	if maxHops <= 0 || maxHops > maxVarLengthHopsDefault {
		maxHops = maxVarLengthHopsDefault
	}
	visited := map[uint64]bool{start: true}
	frontier := []uint64{start}
	var results []uint64
	resultSet := map[uint64]bool{}

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []uint64
		for _, node := range frontier {
			var iterErr error
			err := o.ctx.Graph.Rels.IterChain(node, o.ctx.Graph.Nodes, func(r *store.Rel) bool {
				if !o.typeMatches(r.TypeID) {
					return true
				}
				if !relMatchesDirection(r, node, o.Direction) {
					return true
				}
				visible, verr := o.ctx.Graph.Rels.VisibleAt(r.ID, o.ctx.ReadEpoch())
				if verr != nil {
					iterErr = verr
					return false
				}
				if !visible {
					return true
				}
				dst := r.Dst
				if dst == node {
					dst = r.Src
				}
				if visited[dst] {
					return true
				}
				visited[dst] = true
				next = append(next, dst)
				if hop >= o.MinHops && !resultSet[dst] {
					resultSet[dst] = true
					results = append(results, dst)
				}
				return true
			})
			if err != nil {
				return nil, err
			}
			if iterErr != nil {
				return nil, iterErr
			}
		}
		frontier = next
	}
	return results, nil
}

func (o *VariableLengthPath) Close() error { return o.Child.Close() }
