package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphcore/engine/internal/cypher/ast"
)

func evalExpr(t *testing.T, row Row, expr ast.Expr) Value {
	t.Helper()
	ctx := &Ctx{Params: map[string]Value{}}
	v, err := Eval(ctx, row, expr)
	require.NoError(t, err)
	return v
}

func TestEvalLiteral(t *testing.T) {
	v := evalExpr(t, nil, &ast.Literal{Kind: ast.LitInt, Int: 42})
	assert.Equal(t, int64(42), v.Int)
}

func TestEvalVarRefMissingYieldsNull(t *testing.T) {
	v := evalExpr(t, Row{}, &ast.VarRef{Name: "x"})
	assert.True(t, v.IsNull())
}

func TestEvalVarRefBound(t *testing.T) {
	row := Row{"x": VInt(7)}
	v := evalExpr(t, row, &ast.VarRef{Name: "x"})
	assert.Equal(t, int64(7), v.Int)
}

func TestEvalParamRef(t *testing.T) {
	ctx := &Ctx{Params: map[string]Value{"p": VString("hi")}}
	v, err := Eval(ctx, Row{}, &ast.ParamRef{Name: "p"})
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Str)

	v2, err := Eval(ctx, Row{}, &ast.ParamRef{Name: "missing"})
	require.NoError(t, err)
	assert.True(t, v2.IsNull())
}

func TestEvalArithmeticIntAndFloat(t *testing.T) {
	sum := evalExpr(t, nil, &ast.BinaryExpr{Op: "+",
		Left: &ast.Literal{Kind: ast.LitInt, Int: 2}, Right: &ast.Literal{Kind: ast.LitInt, Int: 3}})
	assert.Equal(t, int64(5), sum.Int)

	mixed := evalExpr(t, nil, &ast.BinaryExpr{Op: "*",
		Left: &ast.Literal{Kind: ast.LitInt, Int: 2}, Right: &ast.Literal{Kind: ast.LitFloat, Float: 1.5}})
	assert.Equal(t, KindFloat, mixed.Kind)
	assert.Equal(t, 3.0, mixed.Float)
}

func TestEvalArithmeticNullPropagates(t *testing.T) {
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: "+",
		Left: &ast.Literal{Kind: ast.LitNull}, Right: &ast.Literal{Kind: ast.LitInt, Int: 1}})
	assert.True(t, v.IsNull())
}

func TestEvalDivisionByZeroYieldsNull(t *testing.T) {
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: "/",
		Left: &ast.Literal{Kind: ast.LitFloat, Float: 1}, Right: &ast.Literal{Kind: ast.LitFloat, Float: 0}})
	assert.True(t, v.IsNull())
}

func TestEvalComparisonNullPropagates(t *testing.T) {
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: ">",
		Left: &ast.Literal{Kind: ast.LitNull}, Right: &ast.Literal{Kind: ast.LitInt, Int: 1}})
	assert.True(t, v.IsNull())
}

func TestEvalLogicalShortCircuit(t *testing.T) {
	// FALSE AND <anything> is FALSE even when the right side is an
	// unbound variable.
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: "AND",
		Left:  &ast.Literal{Kind: ast.LitBool, Bool: false},
		Right: &ast.VarRef{Name: "unbound"},
	})
	assert.False(t, v.IsNull())
	assert.False(t, v.Bool)

	v2 := evalExpr(t, nil, &ast.BinaryExpr{Op: "OR",
		Left:  &ast.Literal{Kind: ast.LitBool, Bool: true},
		Right: &ast.VarRef{Name: "unbound"},
	})
	assert.True(t, v2.Bool)
}

func TestEvalLogicalNullPropagation(t *testing.T) {
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: "AND",
		Left:  &ast.Literal{Kind: ast.LitBool, Bool: true},
		Right: &ast.Literal{Kind: ast.LitNull},
	})
	assert.True(t, v.IsNull())
}

func TestEvalUnaryNotAndNegate(t *testing.T) {
	v := evalExpr(t, nil, &ast.UnaryExpr{Op: "NOT", Operand: &ast.Literal{Kind: ast.LitBool, Bool: false}})
	assert.True(t, v.Bool)

	v2 := evalExpr(t, nil, &ast.UnaryExpr{Op: "-", Operand: &ast.Literal{Kind: ast.LitInt, Int: 5}})
	assert.Equal(t, int64(-5), v2.Int)
}

func TestEvalIsNullIsNotNull(t *testing.T) {
	v := evalExpr(t, nil, &ast.UnaryExpr{Op: "IS NULL", Operand: &ast.Literal{Kind: ast.LitNull}})
	assert.True(t, v.Bool)

	v2 := evalExpr(t, nil, &ast.UnaryExpr{Op: "IS NOT NULL", Operand: &ast.Literal{Kind: ast.LitInt, Int: 1}})
	assert.True(t, v2.Bool)
}

func TestEvalStringPredicates(t *testing.T) {
	contains := evalExpr(t, nil, &ast.BinaryExpr{Op: "CONTAINS",
		Left: &ast.Literal{Kind: ast.LitString, Str: "hello world"}, Right: &ast.Literal{Kind: ast.LitString, Str: "world"}})
	assert.True(t, contains.Bool)

	starts := evalExpr(t, nil, &ast.BinaryExpr{Op: "STARTS WITH",
		Left: &ast.Literal{Kind: ast.LitString, Str: "hello"}, Right: &ast.Literal{Kind: ast.LitString, Str: "he"}})
	assert.True(t, starts.Bool)

	ends := evalExpr(t, nil, &ast.BinaryExpr{Op: "ENDS WITH",
		Left: &ast.Literal{Kind: ast.LitString, Str: "hello"}, Right: &ast.Literal{Kind: ast.LitString, Str: "lo"}})
	assert.True(t, ends.Bool)
}

func TestEvalInList(t *testing.T) {
	list := &ast.ListLiteral{Items: []ast.Expr{
		&ast.Literal{Kind: ast.LitInt, Int: 1},
		&ast.Literal{Kind: ast.LitInt, Int: 2},
	}}
	v := evalExpr(t, nil, &ast.BinaryExpr{Op: "IN", Left: &ast.Literal{Kind: ast.LitInt, Int: 2}, Right: list})
	assert.True(t, v.Bool)

	v2 := evalExpr(t, nil, &ast.BinaryExpr{Op: "IN", Left: &ast.Literal{Kind: ast.LitInt, Int: 9}, Right: list})
	assert.False(t, v2.Bool)
}

func TestEvalCaseGeneric(t *testing.T) {
	expr := &ast.CaseExpr{
		Whens: []ast.CaseWhen{
			{Cond: &ast.Literal{Kind: ast.LitBool, Bool: false}, Result: &ast.Literal{Kind: ast.LitInt, Int: 1}},
			{Cond: &ast.Literal{Kind: ast.LitBool, Bool: true}, Result: &ast.Literal{Kind: ast.LitInt, Int: 2}},
		},
		Else: &ast.Literal{Kind: ast.LitInt, Int: 3},
	}
	v := evalExpr(t, nil, expr)
	assert.Equal(t, int64(2), v.Int)
}

func TestEvalCaseFallsThroughToElse(t *testing.T) {
	expr := &ast.CaseExpr{
		Whens: []ast.CaseWhen{
			{Cond: &ast.Literal{Kind: ast.LitBool, Bool: false}, Result: &ast.Literal{Kind: ast.LitInt, Int: 1}},
		},
		Else: &ast.Literal{Kind: ast.LitInt, Int: 99},
	}
	v := evalExpr(t, nil, expr)
	assert.Equal(t, int64(99), v.Int)
}

func TestEvalCaseWithTest(t *testing.T) {
	expr := &ast.CaseExpr{
		Test: &ast.Literal{Kind: ast.LitInt, Int: 2},
		Whens: []ast.CaseWhen{
			{Cond: &ast.Literal{Kind: ast.LitInt, Int: 1}, Result: &ast.Literal{Kind: ast.LitString, Str: "one"}},
			{Cond: &ast.Literal{Kind: ast.LitInt, Int: 2}, Result: &ast.Literal{Kind: ast.LitString, Str: "two"}},
		},
	}
	v := evalExpr(t, nil, expr)
	assert.Equal(t, "two", v.Str)
}

func TestEvalListLiteral(t *testing.T) {
	v := evalExpr(t, nil, &ast.ListLiteral{Items: []ast.Expr{
		&ast.Literal{Kind: ast.LitInt, Int: 1},
		&ast.Literal{Kind: ast.LitInt, Int: 2},
	}})
	require.Equal(t, KindList, v.Kind)
	require.Len(t, v.List, 2)
	assert.Equal(t, int64(1), v.List[0].Int)
}
