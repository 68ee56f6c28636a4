// Package plan turns a parsed Cypher AST into an executable operator
// tree (spec §4.8). It resolves catalog names to ids, chooses scan
// seeds by estimated selectivity, and folds LIMIT into the ordering
// operator as a top-k bound; WHERE filters are not pushed down.
package plan

import (
	"fmt"
	"sort"

	"github.com/graphcore/engine/internal/catalog"
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/xerrors"
)

// Planner compiles ASTs against one catalog's resolved ids and
// cardinality estimates.
type Planner struct {
	Catalog *catalog.Catalog
	EfSearch int
}

func New(cat *catalog.Catalog) *Planner {
	return &Planner{Catalog: cat, EfSearch: 100}
}

// Result is everything the engine facade needs to drive one query:
// the operator tree, the ordered output column names, and whether any
// clause performs a write (so the caller can require a WriteTxn).
type Result struct {
	Root    exec.Operator
	Columns []string
	Write   bool
}

type state struct {
	p       *Planner
	bound   map[string]bool
	anon    int
	write   bool
}

func (s *state) freshVar(prefix string) string {
	s.anon++
	return fmt.Sprintf("__%s%d", prefix, s.anon)
}

// Plan compiles q into a Result. Query parameters are not consulted
// here; they are resolved at eval time.
func (p *Planner) Plan(q *ast.Query) (*Result, error) {
	if len(q.Parts) == 0 {
		return &Result{Root: exec.Empty{}}, nil
	}
	first, err := p.planSingleQuery(q.Parts[0])
	if err != nil {
		return nil, err
	}
	root := first.Root
	write := first.Write
	columns := first.Columns
	for i := 1; i < len(q.Parts); i++ {
		next, err := p.planSingleQuery(q.Parts[i])
		if err != nil {
			return nil, err
		}
		write = write || next.Write
		root = &exec.Union{Children: []exec.Operator{root, next.Root}, All: q.UnionAll[i-1]}
	}
	return &Result{Root: root, Columns: columns, Write: write}, nil
}

func (p *Planner) planSingleQuery(sq *ast.SingleQuery) (*Result, error) {
	st := &state{p: p, bound: map[string]bool{}}
	var current exec.Operator = &exec.RowFeed{Seed: exec.Row{}}
	var columns []string

	for _, c := range sq.Clauses {
		var err error
		switch cl := c.(type) {
		case *ast.MatchClause:
			current, err = st.planMatch(current, cl)
		case *ast.CreateClause:
			current, err = st.planCreate(current, cl)
			st.write = true
		case *ast.MergeClause:
			current, err = st.planMerge(current, cl)
			st.write = true
		case *ast.SetClause:
			current, err = st.planSet(current, cl)
			st.write = true
		case *ast.RemoveClause:
			current, err = st.planRemove(current, cl)
			st.write = true
		case *ast.DeleteClause:
			current, err = st.planDelete(current, cl)
			st.write = true
		case *ast.UnwindClause:
			current, err = st.planUnwind(current, cl)
		case *ast.CallClause:
			current, err = st.planCall(current, cl)
		case *ast.WithClause:
			current, columns, err = st.planProjection(current, cl.Items, cl.Distinct, cl.Where, cl.OrderBy, cl.Skip, cl.Limit, true)
		case *ast.ReturnClause:
			current, columns, err = st.planProjection(current, cl.Items, cl.Distinct, nil, cl.OrderBy, cl.Skip, cl.Limit, false)
		default:
			err = xerrors.New(xerrors.PlanError, "plan.planSingleQuery", nil).With("clause", fmt.Sprintf("%T", c))
		}
		if err != nil {
			return nil, err
		}
	}
	return &Result{Root: current, Columns: columns, Write: st.write}, nil
}

// resolveLabel turns a label name into an id, or reports ok=false for
// an unknown name (spec §4.8 rule 1).
func (s *state) resolveLabel(name string) (uint32, bool) {
	return s.p.Catalog.TryLookupLabel(name)
}

func (s *state) resolveRelType(name string) (uint32, bool) {
	return s.p.Catalog.TryLookupRelType(name)
}

func (s *state) resolveKey(name string) (uint32, bool) {
	return s.p.Catalog.TryLookupPropertyKey(name)
}

// getOrCreateLabel/RelType/Key are used by write clauses, where an
// unknown name must be created (CREATE/MERGE/SET can introduce new
// labels, types, and keys), unlike read clauses where it's an
// empty-result sentinel.
func (s *state) getOrCreateLabel(name string) (uint32, error) {
	return s.p.Catalog.GetOrCreateLabel(name)
}
func (s *state) getOrCreateRelType(name string) (uint32, error) {
	return s.p.Catalog.GetOrCreateRelType(name)
}
func (s *state) getOrCreateKey(name string) (uint32, error) {
	return s.p.Catalog.GetOrCreatePropertyKey(name)
}

// seedLabel picks the lowest-cardinality label among candidates, per
// spec §4.8 rule 3 ("min(|V_label|, ...)").
func (s *state) seedLabel(names []string) (uint32, bool) {
	type cand struct {
		id    uint32
		count uint64
	}
	counts := s.p.Catalog.SnapshotCounts().NodesPerLabel
	var cands []cand
	for _, n := range names {
		id, ok := s.resolveLabel(n)
		if !ok {
			return 0, false
		}
		cands = append(cands, cand{id: id, count: counts[id]})
	}
	if len(cands) == 0 {
		return 0, false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].count < cands[j].count })
	return cands[0].id, true
}
