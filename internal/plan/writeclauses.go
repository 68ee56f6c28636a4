package plan

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/xerrors"
)

// planCreate compiles a CREATE clause, binding new ids for every
// variable that isn't already bound (repeated variables reference an
// existing endpoint) and creating every relationship endpoint in
// pattern order (spec §4.9 "Create(graph_ops)").
func (s *state) planCreate(current exec.Operator, cl *ast.CreateClause) (exec.Operator, error) {
	for _, pp := range cl.Patterns {
		var err error
		current, err = s.planCreatePattern(current, pp)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func (s *state) planCreatePattern(current exec.Operator, pp *ast.PatternPath) (exec.Operator, error) {
	var nodeSpecs []exec.NodeCreateSpec
	var relSpecs []exec.RelCreateSpec
	varsOfNode := make([]string, len(pp.Nodes))

	for i, np := range pp.Nodes {
		v := np.Variable
		if v == "" {
			v = s.freshVar("n")
		}
		varsOfNode[i] = v
		if s.bound[v] {
			continue // reused endpoint, e.g. `(a)-[:X]->(b)` where b exists
		}
		s.bound[v] = true
		spec := exec.NodeCreateSpec{Var: v, Props: map[uint32]ast.Expr{}}
		for _, label := range np.Labels {
			id, err := s.getOrCreateLabel(label)
			if err != nil {
				return nil, err
			}
			spec.LabelIDs = append(spec.LabelIDs, id)
		}
		for key, expr := range np.Properties {
			id, err := s.getOrCreateKey(key)
			if err != nil {
				return nil, err
			}
			spec.Props[id] = expr
		}
		nodeSpecs = append(nodeSpecs, spec)
	}

	for i, rel := range pp.Rels {
		v := rel.Variable
		if v == "" {
			v = s.freshVar("r")
		}
		s.bound[v] = true
		var typeID uint32
		if len(rel.Types) > 0 {
			id, err := s.getOrCreateRelType(rel.Types[0])
			if err != nil {
				return nil, err
			}
			typeID = id
		}
		spec := exec.RelCreateSpec{
			Var: v, TypeID: typeID, Props: map[uint32]ast.Expr{},
			SrcVar: varsOfNode[i], DstVar: varsOfNode[i+1],
			DirectionToDst: rel.Direction != ast.DirIncoming,
		}
		for key, expr := range rel.Properties {
			id, err := s.getOrCreateKey(key)
			if err != nil {
				return nil, err
			}
			spec.Props[id] = expr
		}
		relSpecs = append(relSpecs, spec)
	}

	return &exec.Create{Nodes: nodeSpecs, Rels: relSpecs, Child: current}, nil
}

// planMerge compiles a MERGE clause. The match sub-plan runs against a
// fresh bound-set rooted at the outer row so pattern variables that
// are new to this MERGE are correctly treated as unbound inside the
// match attempt (spec §4.9 "Merge(pattern, on_create, on_match)").
func (s *state) planMerge(current exec.Operator, cl *ast.MergeClause) (exec.Operator, error) {
	pp := cl.Pattern
	outerBound := cloneBoolMap(s.bound)

	build := func(seed exec.Row) exec.Operator {
		sub := &state{p: s.p, bound: cloneBoolMap(outerBound)}
		inner, err := sub.planPattern(&exec.RowFeed{Seed: seed}, pp)
		if err != nil {
			return errOperator{err}
		}
		return inner
	}

	createState := &state{p: s.p, bound: cloneBoolMap(outerBound)}
	createOp, err := createState.planCreatePattern(&exec.RowFeed{Seed: exec.Row{}}, pp)
	if err != nil {
		return nil, err
	}
	create, ok := createOp.(*exec.Create)
	if !ok {
		return nil, xerrors.New(xerrors.PlanError, "plan.planMerge", nil)
	}
	for v := range createState.bound {
		s.bound[v] = true
	}

	onCreate, err := s.setItemsFromAST(cl.OnCreate)
	if err != nil {
		return nil, err
	}
	onMatch, err := s.setItemsFromAST(cl.OnMatch)
	if err != nil {
		return nil, err
	}

	return &exec.Merge{
		Outer: current, Build: build,
		Nodes: create.Nodes, Rels: create.Rels,
		OnCreate: onCreate, OnMatch: onMatch,
	}, nil
}

func (s *state) setItemsFromAST(items []*ast.SetItem) ([]exec.SetItem, error) {
	var out []exec.SetItem
	for _, it := range items {
		if it.Label != "" {
			continue // label-add SET items are handled by planSet below
		}
		keyID, err := s.getOrCreateKey(it.Property)
		if err != nil {
			return nil, err
		}
		out = append(out, exec.SetItem{Var: it.Variable, KeyID: keyID, Value: it.Value})
	}
	return out, nil
}

func (s *state) planSet(current exec.Operator, cl *ast.SetClause) (exec.Operator, error) {
	items, err := s.setItemsFromAST(cl.Items)
	if err != nil {
		return nil, err
	}
	current = &exec.Set{Items: items, Child: current}
	// SET var:Label items add a label rather than a property; reuse
	// Remove's label machinery in reverse via a dedicated add-label set.
	for _, it := range cl.Items {
		if it.Label == "" {
			continue
		}
		labelID, err := s.getOrCreateLabel(it.Label)
		if err != nil {
			return nil, err
		}
		current = &addLabel{v: it.Variable, labelID: labelID, child: current}
	}
	return current, nil
}

// addLabel is SET var:Label's mechanism: set the bit and add the node
// to that label's bitmap and, if a vector index exists for it, leaves
// vector membership to the caller (SET never carries an embedding).
type addLabel struct {
	v       string
	labelID uint32
	child   exec.Operator
	ctx     *exec.Ctx
}

func (a *addLabel) Open(ctx *exec.Ctx) error { a.ctx = ctx; return a.child.Open(ctx) }
func (a *addLabel) Next() (exec.Row, bool, error) {
	row, ok, err := a.child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	val, ok := row[a.v]
	if ok && val.Kind == exec.KindNode {
		if err := exec.AddNodeLabel(a.ctx, val.Node, a.labelID); err != nil {
			return nil, false, err
		}
	}
	return row, true, nil
}
func (a *addLabel) Close() error { return a.child.Close() }

func (s *state) planRemove(current exec.Operator, cl *ast.RemoveClause) (exec.Operator, error) {
	var items []exec.RemoveItem
	for _, it := range cl.Items {
		if it.Label != "" {
			labelID, ok := s.resolveLabel(it.Label)
			if !ok {
				continue
			}
			items = append(items, exec.RemoveItem{Var: it.Variable, LabelID: labelID, IsLabel: true})
			continue
		}
		keyID, ok := s.resolveKey(it.Property)
		if !ok {
			continue
		}
		items = append(items, exec.RemoveItem{Var: it.Variable, KeyID: keyID})
	}
	return &exec.Remove{Items: items, Child: current}, nil
}

func (s *state) planDelete(current exec.Operator, cl *ast.DeleteClause) (exec.Operator, error) {
	return &exec.Delete{Vars: cl.Variables, Detach: cl.Detach, Child: current}, nil
}

func (s *state) planUnwind(current exec.Operator, cl *ast.UnwindClause) (exec.Operator, error) {
	s.bound[cl.As] = true
	return &exec.Unwind{List: cl.List, As: cl.As, Child: current}, nil
}
