package exec

import (
	"math"
	"regexp"
	"strings"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/xerrors"
)

// Eval evaluates expr against row under ctx, resolving variable
// references, parameters, and property lookups through the graph.
// This is the "executor's filter evaluator" of spec §4.8; the planner
// and this evaluator share the same ast.Expr representation in-process
// rather than a serialized string, so the round-trip contract of spec
// §4.8 (operator spellings agreeing between emitter and re-parser) is
// honored structurally by construction instead of by re-parsing.
func Eval(ctx *Ctx, row Row, expr ast.Expr) (Value, error) {
	switch e := expr.(type) {
	case *ast.Literal:
		return evalLiteral(e), nil
	case *ast.ParamRef:
		if v, ok := ctx.Params[e.Name]; ok {
			return v, nil
		}
		return Null, nil
	case *ast.VarRef:
		if v, ok := row[e.Name]; ok {
			return v, nil
		}
		return Null, nil
	case *ast.PropertyAccess:
		return evalPropertyAccess(ctx, row, e)
	case *ast.UnaryExpr:
		return evalUnary(ctx, row, e)
	case *ast.BinaryExpr:
		return evalBinary(ctx, row, e)
	case *ast.ListLiteral:
		items := make([]Value, len(e.Items))
		for i, it := range e.Items {
			v, err := Eval(ctx, row, it)
			if err != nil {
				return Null, err
			}
			items[i] = v
		}
		return Value{Kind: KindList, List: items}, nil
	case *ast.FuncCall:
		return evalFunc(ctx, row, e)
	case *ast.CaseExpr:
		return evalCase(ctx, row, e)
	default:
		return Null, xerrors.New(xerrors.EvalError, "exec.Eval", nil).With("expr_type", "unsupported")
	}
}

func evalLiteral(l *ast.Literal) Value {
	switch l.Kind {
	case ast.LitInt:
		return VInt(l.Int)
	case ast.LitFloat:
		return VFloat(l.Float)
	case ast.LitString:
		return VString(l.Str)
	case ast.LitBool:
		return VBool(l.Bool)
	default:
		return Null
	}
}

func evalPropertyAccess(ctx *Ctx, row Row, e *ast.PropertyAccess) (Value, error) {
	target, err := Eval(ctx, row, e.Target)
	if err != nil {
		return Null, err
	}
	keyID, ok := ctx.Graph.Catalog.TryLookupPropertyKey(e.Prop)
	if !ok {
		return Null, nil
	}
	var headPtr uint64
	switch target.Kind {
	case KindNode:
		n, err := ctx.Graph.Nodes.Read(target.Node)
		if err != nil {
			return Null, err
		}
		headPtr = n.FirstPropPtr
	case KindRel:
		r, err := ctx.Graph.Rels.Read(target.Rel)
		if err != nil {
			return Null, err
		}
		headPtr = r.PropPtr
	default:
		return Null, nil
	}
	p, err := ctx.Graph.Props.Find(headPtr, keyID)
	if err != nil {
		return Null, err
	}
	if p == nil {
		return Null, nil
	}
	return decodePropValue(ctx, p)
}

func evalUnary(ctx *Ctx, row Row, e *ast.UnaryExpr) (Value, error) {
	switch e.Op {
	case "NOT":
		v, err := Eval(ctx, row, e.Operand)
		if err != nil {
			return Null, err
		}
		if v.IsNull() {
			return Null, nil
		}
		return VBool(!v.Truthy()), nil
	case "-":
		v, err := Eval(ctx, row, e.Operand)
		if err != nil {
			return Null, err
		}
		if v.Kind == KindInt {
			return VInt(-v.Int), nil
		}
		if v.Kind == KindFloat {
			return VFloat(-v.Float), nil
		}
		return Null, nil
	case "IS NULL":
		v, err := Eval(ctx, row, e.Operand)
		if err != nil {
			return Null, err
		}
		return VBool(v.IsNull()), nil
	case "IS NOT NULL":
		v, err := Eval(ctx, row, e.Operand)
		if err != nil {
			return Null, err
		}
		return VBool(!v.IsNull()), nil
	default:
		return Null, xerrors.New(xerrors.EvalError, "exec.Eval", nil).With("unary_op", e.Op)
	}
}

func evalBinary(ctx *Ctx, row Row, e *ast.BinaryExpr) (Value, error) {
	// NULL propagation in arithmetic/comparison (spec §6.3): evaluate
	// both sides before short-circuiting only for AND/OR.
	if e.Op == "AND" || e.Op == "OR" {
		return evalLogical(ctx, row, e)
	}
	l, err := Eval(ctx, row, e.Left)
	if err != nil {
		return Null, err
	}
	r, err := Eval(ctx, row, e.Right)
	if err != nil {
		return Null, err
	}
	switch e.Op {
	case "=":
		eq, isNull := Equal(l, r)
		if isNull {
			return Null, nil
		}
		return VBool(eq), nil
	case "!=":
		eq, isNull := Equal(l, r)
		if isNull {
			return Null, nil
		}
		return VBool(!eq), nil
	case "<":
		if l.IsNull() || r.IsNull() {
			return Null, nil
		}
		return VBool(Less(l, r)), nil
	case "<=":
		if l.IsNull() || r.IsNull() {
			return Null, nil
		}
		return VBool(Less(l, r) || mustEqual(l, r)), nil
	case ">":
		if l.IsNull() || r.IsNull() {
			return Null, nil
		}
		return VBool(!Less(l, r) && !mustEqual(l, r)), nil
	case ">=":
		if l.IsNull() || r.IsNull() {
			return Null, nil
		}
		return VBool(!Less(l, r)), nil
	case "+", "-", "*", "/", "%", "^":
		return evalArith(e.Op, l, r)
	case "CONTAINS":
		if l.Kind != KindString || r.Kind != KindString {
			return Null, nil
		}
		return VBool(strings.Contains(l.Str, r.Str)), nil
	case "STARTS WITH":
		if l.Kind != KindString || r.Kind != KindString {
			return Null, nil
		}
		return VBool(strings.HasPrefix(l.Str, r.Str)), nil
	case "ENDS WITH":
		if l.Kind != KindString || r.Kind != KindString {
			return Null, nil
		}
		return VBool(strings.HasSuffix(l.Str, r.Str)), nil
	case "=~":
		if l.Kind != KindString || r.Kind != KindString {
			return Null, nil
		}
		matched, err := regexp.MatchString(r.Str, l.Str)
		if err != nil {
			return Null, nil
		}
		return VBool(matched), nil
	case "IN":
		if r.Kind != KindList {
			return Null, nil
		}
		for _, item := range r.List {
			if eq, isNull := Equal(l, item); !isNull && eq {
				return VBool(true), nil
			}
		}
		return VBool(false), nil
	default:
		return Null, xerrors.New(xerrors.EvalError, "exec.Eval", nil).With("binary_op", e.Op)
	}
}

func mustEqual(a, b Value) bool {
	eq, _ := Equal(a, b)
	return eq
}

func evalLogical(ctx *Ctx, row Row, e *ast.BinaryExpr) (Value, error) {
	l, err := Eval(ctx, row, e.Left)
	if err != nil {
		return Null, err
	}
	if e.Op == "AND" && l.Kind == KindBool && !l.Bool {
		return VBool(false), nil
	}
	if e.Op == "OR" && l.Kind == KindBool && l.Bool {
		return VBool(true), nil
	}
	r, err := Eval(ctx, row, e.Right)
	if err != nil {
		return Null, err
	}
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	if e.Op == "AND" {
		return VBool(l.Truthy() && r.Truthy()), nil
	}
	return VBool(l.Truthy() || r.Truthy()), nil
}

// NULL propagates through arithmetic per spec §6.3 ("NULL + x = NULL").
func evalArith(op string, l, r Value) (Value, error) {
	if l.IsNull() || r.IsNull() {
		return Null, nil
	}
	if !isNumeric(l) || !isNumeric(r) {
		if op == "+" && l.Kind == KindString && r.Kind == KindString {
			return VString(l.Str + r.Str), nil
		}
		return Null, nil
	}
	if l.Kind == KindInt && r.Kind == KindInt && op != "/" {
		switch op {
		case "+":
			return VInt(l.Int + r.Int), nil
		case "-":
			return VInt(l.Int - r.Int), nil
		case "*":
			return VInt(l.Int * r.Int), nil
		case "%":
			if r.Int == 0 {
				return Null, nil
			}
			return VInt(l.Int % r.Int), nil
		}
	}
	lf, rf := asFloat(l), asFloat(r)
	switch op {
	case "+":
		return VFloat(lf + rf), nil
	case "-":
		return VFloat(lf - rf), nil
	case "*":
		return VFloat(lf * rf), nil
	case "/":
		if rf == 0 {
			return Null, nil
		}
		return VFloat(lf / rf), nil
	case "^":
		return VFloat(math.Pow(lf, rf)), nil
	default:
		return Null, nil
	}
}

func evalCase(ctx *Ctx, row Row, e *ast.CaseExpr) (Value, error) {
	var testVal Value
	hasTest := e.Test != nil
	if hasTest {
		v, err := Eval(ctx, row, e.Test)
		if err != nil {
			return Null, err
		}
		testVal = v
	}
	for _, w := range e.Whens {
		cond, err := Eval(ctx, row, w.Cond)
		if err != nil {
			return Null, err
		}
		matched := false
		if hasTest {
			if eq, isNull := Equal(testVal, cond); !isNull && eq {
				matched = true
			}
		} else {
			matched = cond.Truthy()
		}
		if matched {
			return Eval(ctx, row, w.Result)
		}
	}
	if e.Else != nil {
		return Eval(ctx, row, e.Else)
	}
	return Null, nil
}
