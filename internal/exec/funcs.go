package exec

import (
	"math"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/xerrors"
)

// decodePropValue converts a stored property record to a runtime
// Value, resolving blob-backed strings through the blob store.
func decodePropValue(ctx *Ctx, p *store.Prop) (Value, error) {
	switch p.Type {
	case store.TypeNull:
		return Null, nil
	case store.TypeBool:
		return VBool(p.Value != 0), nil
	case store.TypeI64:
		return VInt(int64(p.Value)), nil
	case store.TypeF64:
		return VFloat(math.Float64frombits(p.Value)), nil
	case store.TypeTimestamp:
		return VInt(int64(p.Value)), nil
	case store.TypeStringRef:
		data, err := ctx.Graph.Blobs.Get(int64(p.Value))
		if err != nil {
			return Null, err
		}
		return VString(string(data)), nil
	default:
		return Null, nil
	}
}

// isAggregateName reports whether name is one of the aggregate
// functions of spec §4.7, which the Aggregate operator evaluates
// itself rather than Eval.
func isAggregateName(name string) bool {
	switch name {
	case "count", "sum", "avg", "min", "max", "collect", "stDev", "percentileCont", "percentileDisc":
		return true
	default:
		return false
	}
}

// IsAggregateName is isAggregateName exported for the planner, which
// needs to detect aggregate function calls in RETURN/WITH items to
// decide whether to insert an Aggregate stage.
func IsAggregateName(name string) bool { return isAggregateName(name) }

func evalFunc(ctx *Ctx, row Row, e *ast.FuncCall) (Value, error) {
	switch e.Name {
	case "id":
		if len(e.Args) != 1 {
			return Null, xerrors.New(xerrors.EvalError, "exec.id", nil)
		}
		v, err := Eval(ctx, row, e.Args[0])
		if err != nil {
			return Null, err
		}
		switch v.Kind {
		case KindNode:
			return VInt(int64(v.Node)), nil
		case KindRel:
			return VInt(int64(v.Rel)), nil
		default:
			return Null, nil
		}
	case "labels":
		if len(e.Args) != 1 {
			return Null, xerrors.New(xerrors.EvalError, "exec.labels", nil)
		}
		v, err := Eval(ctx, row, e.Args[0])
		if err != nil {
			return Null, err
		}
		if v.Kind != KindNode {
			return Null, nil
		}
		n, err := ctx.Graph.Nodes.Read(v.Node)
		if err != nil {
			return Null, err
		}
		var items []Value
		for bit := uint(0); bit < 64; bit++ {
			if n.Labels&(1<<bit) != 0 {
				name := ctx.Graph.Catalog.NameOfLabel(uint32(bit))
				if name != "" {
					items = append(items, VString(name))
				}
			}
		}
		return Value{Kind: KindList, List: items}, nil
	case "type":
		if len(e.Args) != 1 {
			return Null, xerrors.New(xerrors.EvalError, "exec.type", nil)
		}
		v, err := Eval(ctx, row, e.Args[0])
		if err != nil {
			return Null, err
		}
		if v.Kind != KindRel {
			return Null, nil
		}
		r, err := ctx.Graph.Rels.Read(v.Rel)
		if err != nil {
			return Null, err
		}
		return VString(ctx.Graph.Catalog.NameOfRelType(r.TypeID)), nil
	case "keys":
		if len(e.Args) != 1 {
			return Null, xerrors.New(xerrors.EvalError, "exec.keys", nil)
		}
		v, err := Eval(ctx, row, e.Args[0])
		if err != nil {
			return Null, err
		}
		var headPtr uint64
		switch v.Kind {
		case KindNode:
			n, err := ctx.Graph.Nodes.Read(v.Node)
			if err != nil {
				return Null, err
			}
			headPtr = n.FirstPropPtr
		case KindRel:
			r, err := ctx.Graph.Rels.Read(v.Rel)
			if err != nil {
				return Null, err
			}
			headPtr = r.PropPtr
		default:
			return Null, nil
		}
		// A key may appear more than once in the chain (each SET prepends
		// a new record rather than mutating in place), so only the first
		// occurrence — the most recent value — counts; a tombstoned
		// (TypeNull) head means the key was removed.
		var items []Value
		seen := map[uint32]bool{}
		err = ctx.Graph.Props.IterChain(headPtr, func(p *store.Prop) bool {
			if seen[p.KeyID] {
				return true
			}
			seen[p.KeyID] = true
			if p.Type != store.TypeNull {
				items = append(items, VString(ctx.Graph.Catalog.NameOfPropertyKey(p.KeyID)))
			}
			return true
		})
		if err != nil {
			return Null, err
		}
		return Value{Kind: KindList, List: items}, nil
	case "exists":
		if len(e.Args) != 1 {
			return Null, xerrors.New(xerrors.EvalError, "exec.exists", nil)
		}
		if pe, ok := e.Args[0].(*ast.PatternExpr); ok {
			return evalExistsPattern(ctx, row, pe.Pattern)
		}
		v, err := Eval(ctx, row, e.Args[0])
		if err != nil {
			return Null, err
		}
		return VBool(!v.IsNull()), nil
	default:
		return Null, xerrors.New(xerrors.EvalError, "exec.Eval", nil).With("func", e.Name)
	}
}

// evalExistsPattern evaluates exists(pattern) (spec §4.7
// "exists(pattern)") by walking the start node's adjacency chain for one
// visible relationship matching the first hop's direction and types.
// Built here rather than through the planner since it only ever needs a
// yes/no answer.
func evalExistsPattern(ctx *Ctx, row Row, pattern *ast.PatternPath) (Value, error) {
	if len(pattern.Nodes) == 0 {
		return VBool(false), nil
	}
	startVar := pattern.Nodes[0].Variable
	startVal, ok := row[startVar]
	if !ok || startVal.Kind != KindNode {
		return VBool(false), nil
	}
	if len(pattern.Rels) == 0 {
		return VBool(true), nil
	}
	rel := pattern.Rels[0]
	hop := &Expand{}
	for _, name := range rel.Types {
		if id, ok := ctx.Graph.Catalog.TryLookupRelType(name); ok {
			hop.TypeIDs = append(hop.TypeIDs, id)
		}
	}
	if len(rel.Types) > 0 && len(hop.TypeIDs) == 0 {
		return VBool(false), nil
	}
	found := false
	err := ctx.Graph.Rels.IterChain(startVal.Node, ctx.Graph.Nodes, func(r *store.Rel) bool {
		if !relMatchesDirection(r, startVal.Node, rel.Direction) || !hop.typeMatches(r.TypeID) {
			return true
		}
		visible, verr := ctx.Graph.Rels.VisibleAt(r.ID, ctx.ReadEpoch())
		if verr != nil || !visible {
			return true
		}
		found = true
		return false
	})
	if err != nil {
		return Null, err
	}
	return VBool(found), nil
}

func relMatchesDirection(r *store.Rel, from uint64, dir ast.Direction) bool {
	switch dir {
	case ast.DirOutgoing:
		return r.Src == from
	case ast.DirIncoming:
		return r.Dst == from
	default:
		return r.Src == from || r.Dst == from
	}
}
