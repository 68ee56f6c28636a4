package plan

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
)

func falseFilter(child exec.Operator) exec.Operator {
	return &exec.Filter{Predicate: &ast.Literal{Kind: ast.LitBool, Bool: false}, Child: child}
}

// planMatch compiles one MATCH/OPTIONAL MATCH clause onto current:
// each pattern path gets a seed (spec §4.8 rule 2) and is expanded in
// the order written, and the clause's WHERE runs as one Filter once the
// full pattern is bound. Patterns are not reordered and WHERE
// predicates are not pushed below that point.
func (s *state) planMatch(current exec.Operator, cl *ast.MatchClause) (exec.Operator, error) {
	if !cl.Optional {
		for _, pp := range cl.Patterns {
			var err error
			current, err = s.planPattern(current, pp)
			if err != nil {
				return nil, err
			}
		}
		if cl.Where != nil {
			current = &exec.Filter{Predicate: cl.Where, Child: current}
		}
		return current, nil
	}

	// OPTIONAL MATCH: build a standalone sub-plan seeded per outer row,
	// with its own fresh bound-set (so newly-introduced variables in
	// the optional pattern don't leak into the outer scope's binding
	// tracking), then run it through exec.OptionalMatch.
	outerBound := map[string]bool{}
	for k := range s.bound {
		outerBound[k] = true
	}
	newVars := s.collectPatternVars(cl.Patterns)
	build := func(seed exec.Row) exec.Operator {
		sub := &state{p: s.p, bound: cloneBoolMap(outerBound)}
		var inner exec.Operator = &exec.RowFeed{Seed: seed}
		for _, pp := range cl.Patterns {
			var err error
			inner, err = sub.planPattern(inner, pp)
			if err != nil {
				return errOperator{err}
			}
		}
		if cl.Where != nil {
			inner = &exec.Filter{Predicate: cl.Where, Child: inner}
		}
		return inner
	}
	for v := range newVars {
		s.bound[v] = true
	}
	return &exec.OptionalMatch{Outer: current, Build: build, Vars: setToSlice(newVars)}, nil
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func setToSlice(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (s *state) collectPatternVars(paths []*ast.PatternPath) map[string]bool {
	out := map[string]bool{}
	for _, pp := range paths {
		for _, n := range pp.Nodes {
			if n.Variable != "" {
				out[n.Variable] = true
			}
		}
		for _, r := range pp.Rels {
			if r.Variable != "" {
				out[r.Variable] = true
			}
		}
	}
	return out
}

// errOperator wraps a planning error discovered lazily inside an
// OptionalMatch/Merge Build thunk, surfacing it as an Open() error
// instead of a panic.
type errOperator struct{ err error }

func (e errOperator) Open(ctx *exec.Ctx) error      { return e.err }
func (e errOperator) Next() (exec.Row, bool, error) { return nil, false, nil }
func (e errOperator) Close() error                  { return nil }

// planPattern compiles one comma-separated pattern path onto current.
func (s *state) planPattern(current exec.Operator, pp *ast.PatternPath) (exec.Operator, error) {
	if len(pp.Nodes) == 0 {
		return current, nil
	}
	current, firstVar, err := s.bindNode(current, pp.Nodes[0])
	if err != nil {
		return nil, err
	}
	prevVar := firstVar
	for i, rel := range pp.Rels {
		nextNode := pp.Nodes[i+1]
		current, prevVar, err = s.expandStep(current, prevVar, rel, nextNode)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// bindNode binds a pattern node's variable into the row stream,
// seeding a fresh scan if the variable isn't already bound (spec §4.8
// rule 2: label-bitmap scan on smallest-cardinality label, else full
// scan).
func (s *state) bindNode(current exec.Operator, np *ast.NodePattern) (exec.Operator, string, error) {
	v := np.Variable
	if v == "" {
		v = s.freshVar("n")
	}
	if s.bound[v] {
		out, err := s.applyNodePropFilter(current, v, np)
		return out, v, err
	}
	s.bound[v] = true

	var seed exec.Operator
	if len(np.Labels) > 0 {
		labelID, ok := s.seedLabel(np.Labels)
		if !ok {
			seed = exec.Empty{}
		} else {
			seed = &exec.NodeByLabel{LabelID: labelID, Var: v}
			for _, name := range np.Labels {
				id, ok := s.resolveLabel(name)
				if !ok {
					seed = exec.Empty{}
					break
				}
				if id == labelID {
					continue
				}
				seed = &labelFilterWrap{labelID: id, v: v, child: seed}
			}
		}
	} else {
		seed = &exec.AllNodes{Var: v}
	}

	joined := &exec.NestedLoop{Outer: current, Build: func(seedRow exec.Row) exec.Operator {
		return &exec.SeedMerge{Base: seedRow, Child: seed}
	}}
	out, err := s.applyNodePropFilter(joined, v, np)
	return out, v, err
}

// labelFilterWrap filters rows where v's node doesn't also carry an
// additional required label (spec: `(n:Label1:Label2)`) by testing
// that label's bit in the node record's label bitmap.
type labelFilterWrap struct {
	labelID uint32
	v       string
	child   exec.Operator
	ctx     *exec.Ctx
}

func (w *labelFilterWrap) Open(ctx *exec.Ctx) error { w.ctx = ctx; return w.child.Open(ctx) }
func (w *labelFilterWrap) Next() (exec.Row, bool, error) {
	for {
		row, ok, err := w.child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		val, ok := row[w.v]
		if !ok || val.Kind != exec.KindNode {
			continue
		}
		n, err := w.ctx.Graph.Nodes.Read(val.Node)
		if err != nil {
			return nil, false, err
		}
		if n.Labels&(1<<w.labelID) == 0 {
			continue
		}
		return row, true, nil
	}
}
func (w *labelFilterWrap) Close() error { return w.child.Close() }

func (s *state) applyNodePropFilter(current exec.Operator, v string, np *ast.NodePattern) (exec.Operator, error) {
	if len(np.Properties) == 0 {
		return current, nil
	}
	for key, expr := range np.Properties {
		_, ok := s.resolveKey(key)
		if !ok {
			return falseFilter(current), nil
		}
		pred := &ast.BinaryExpr{Op: "=", Left: &ast.PropertyAccess{Target: &ast.VarRef{Name: v}, Prop: key}, Right: expr}
		current = &exec.Filter{Predicate: pred, Child: current}
	}
	return current, nil
}

// expandStep compiles one relationship hop, reusing Expand for a fixed
// hop and VariableLengthPath for `*m..n` (spec §4.9).
func (s *state) expandStep(current exec.Operator, srcVar string, rel *ast.RelPattern, dstNode *ast.NodePattern) (exec.Operator, string, error) {
	var typeIDs []uint32
	for _, t := range rel.Types {
		id, ok := s.resolveRelType(t)
		if !ok {
			return exec.Empty{}, "", nil
		}
		typeIDs = append(typeIDs, id)
	}

	dstVar := dstNode.Variable
	rebind := dstVar != "" && s.bound[dstVar]
	if dstVar == "" {
		dstVar = s.freshVar("n")
	}
	emitVar := dstVar
	if rebind {
		emitVar = s.freshVar("n")
	}

	relVar := rel.Variable
	if relVar == "" {
		relVar = s.freshVar("r")
	}

	var out exec.Operator
	if rel.VarLength {
		out = &exec.VariableLengthPath{
			SrcVar: srcVar, DstVar: emitVar, TypeIDs: typeIDs, Direction: rel.Direction,
			MinHops: rel.MinHops, MaxHops: rel.MaxHops, Child: current,
		}
	} else {
		out = &exec.Expand{
			SrcVar: srcVar, RelVar: relVar, DstVar: emitVar, TypeIDs: typeIDs, Direction: rel.Direction,
			Child: current,
		}
	}

	if rebind {
		pred := &ast.BinaryExpr{Op: "=",
			Left:  &ast.FuncCall{Name: "id", Args: []ast.Expr{&ast.VarRef{Name: emitVar}}},
			Right: &ast.FuncCall{Name: "id", Args: []ast.Expr{&ast.VarRef{Name: dstVar}}},
		}
		out = &exec.Filter{Predicate: pred, Child: out}
	} else {
		s.bound[dstVar] = true
	}
	if relVar != "" {
		s.bound[relVar] = true
	}

	var err error
	out, err = s.applyNodePropFilter(out, emitVar, dstNode)
	if err != nil {
		return nil, "", err
	}
	if len(rel.Properties) > 0 {
		for key, expr := range rel.Properties {
			_, ok := s.resolveKey(key)
			if !ok {
				return falseFilter(out), dstVar, nil
			}
			pred := &ast.BinaryExpr{Op: "=", Left: &ast.PropertyAccess{Target: &ast.VarRef{Name: relVar}, Prop: key}, Right: expr}
			out = &exec.Filter{Predicate: pred, Child: out}
		}
	}
	return out, dstVar, nil
}
