package plan

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/xerrors"
)

// planCall compiles CALL for the closed set of built-in procedures
// (spec §4.7 "CALL for a closed set of built-in procedures (e.g.,
// vector KNN)"). `vector.knn(label, vector, k) YIELD node, score` is
// the only procedure in that set.
func (s *state) planCall(current exec.Operator, cl *ast.CallClause) (exec.Operator, error) {
	if cl.Procedure != "vector.knn" {
		return nil, xerrors.New(xerrors.PlanError, "plan.planCall", nil).With("procedure", cl.Procedure)
	}
	if len(cl.Args) != 3 {
		return nil, xerrors.New(xerrors.PlanError, "plan.planCall", nil).With("procedure", cl.Procedure).With("reason", "expected 3 args")
	}
	labelLit, ok := cl.Args[0].(*ast.Literal)
	if !ok || labelLit.Kind != ast.LitString {
		return nil, xerrors.New(xerrors.PlanError, "plan.planCall", nil).With("reason", "label must be a string literal")
	}
	labelID, ok := s.resolveLabel(labelLit.Str)
	kLit, ok2 := cl.Args[2].(*ast.Literal)
	if !ok2 || (kLit.Kind != ast.LitInt) {
		return nil, xerrors.New(xerrors.PlanError, "plan.planCall", nil).With("reason", "k must be an integer literal")
	}

	nodeVar, scoreVar := "node", "score"
	if len(cl.Yield) > 0 {
		nodeVar = cl.Yield[0]
	}
	if len(cl.Yield) > 1 {
		scoreVar = cl.Yield[1]
	}
	s.bound[nodeVar] = true
	s.bound[scoreVar] = true

	knn := &vectorKNNPlanned{
		ok: ok, labelID: labelID, queryExpr: cl.Args[1], k: int(kLit.Int),
		nodeVar: nodeVar, scoreVar: scoreVar,
	}
	return &exec.NestedLoop{Outer: current, Build: func(seed exec.Row) exec.Operator {
		return &exec.SeedMerge{Base: seed, Child: knn}
	}}, nil
}

// vectorKNNPlanned resolves its query vector lazily at Open time (it
// may reference a $parameter, not known until execution), then
// delegates to exec.VectorKNN.
type vectorKNNPlanned struct {
	ok        bool
	labelID   uint32
	queryExpr ast.Expr
	k         int
	nodeVar   string
	scoreVar  string

	inner *exec.VectorKNN
}

func (v *vectorKNNPlanned) Open(ctx *exec.Ctx) error {
	if !v.ok {
		v.inner = nil
		return nil
	}
	val, err := exec.Eval(ctx, exec.Row{}, v.queryExpr)
	if err != nil {
		return err
	}
	vec := make([]float32, len(val.List))
	for i, item := range val.List {
		vec[i] = float32(item.Float)
		if item.Kind == exec.KindInt {
			vec[i] = float32(item.Int)
		}
	}
	v.inner = &exec.VectorKNN{LabelID: v.labelID, Query: vec, K: v.k, NodeVar: v.nodeVar, ScoreVar: v.scoreVar}
	return v.inner.Open(ctx)
}

func (v *vectorKNNPlanned) Next() (exec.Row, bool, error) {
	if v.inner == nil {
		return nil, false, nil
	}
	return v.inner.Next()
}

func (v *vectorKNNPlanned) Close() error {
	if v.inner == nil {
		return nil
	}
	return v.inner.Close()
}
