package plan

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
)

// planProjection compiles a RETURN or WITH clause: detects aggregate
// function calls to decide whether an Aggregate stage is required
// (spec §4.9 "Aggregate" is only inserted when the projection actually
// aggregates), then layers DISTINCT / ORDER BY / SKIP / LIMIT in the
// order spec §4.8 rule 5 expects (LIMIT pushed into OrderByLimit as
// top-k when both are present).
//
// isWith controls whether the output rebinds the query's variable
// scope (WITH) or produces final result columns (RETURN); both share
// the same compilation, since the only behavioral difference is that
// WITH's bound-variable bookkeeping continues into later clauses.
func (s *state) planProjection(
	current exec.Operator,
	items []*ast.ProjectItem,
	distinct bool,
	where ast.Expr,
	orderBy []*ast.OrderItem,
	skip, limit ast.Expr,
	isWith bool,
) (exec.Operator, []string, error) {
	hasAgg := false
	for _, it := range items {
		if it.Star {
			continue
		}
		if exprHasAggregate(it.Expr) {
			hasAgg = true
			break
		}
	}

	var columns []string
	if hasAgg {
		var groupKeys []ast.Expr
		var groupAs []string
		var aggs []exec.AggSpec
		for _, it := range items {
			if it.Star {
				continue
			}
			alias := it.Alias
			if alias == "" {
				alias = exprText(it.Expr)
			}
			if fc, ok := it.Expr.(*ast.FuncCall); ok && exec.IsAggregateName(fc.Name) {
				var arg ast.Expr
				if len(fc.Args) == 1 {
					arg = fc.Args[0]
				}
				aggs = append(aggs, exec.AggSpec{Alias: alias, Func: fc.Name, Arg: arg, Distinct: fc.Distinct})
			} else {
				groupKeys = append(groupKeys, it.Expr)
				groupAs = append(groupAs, alias)
			}
			columns = append(columns, alias)
			s.bound[alias] = true
		}
		current = &exec.Aggregate{GroupKeys: groupKeys, GroupAs: groupAs, Aggs: aggs, Child: current}
	} else {
		exprs := make([]exec.ProjectExpr, 0, len(items))
		newBound := map[string]bool{}
		for _, it := range items {
			if it.Star {
				exprs = append(exprs, exec.ProjectExpr{Star: true})
				columns = append(columns, "*")
				continue
			}
			alias := it.Alias
			if alias == "" {
				alias = exprText(it.Expr)
			}
			exprs = append(exprs, exec.ProjectExpr{Expr: it.Expr, Alias: alias})
			columns = append(columns, alias)
			newBound[alias] = true
		}
		current = &exec.Project{Exprs: exprs, Child: current}
		if isWith {
			// WITH narrows scope to exactly its projected names (plus
			// `*` carries everything forward unchanged).
			hasStar := false
			for _, it := range items {
				if it.Star {
					hasStar = true
				}
			}
			if !hasStar {
				s.bound = newBound
			} else {
				for k := range newBound {
					s.bound[k] = true
				}
			}
		}
	}

	if distinct {
		current = &distinctOp{Child: current}
	}
	if where != nil {
		current = &exec.Filter{Predicate: where, Child: current}
	}

	if len(orderBy) > 0 || skip != nil || limit != nil {
		keys := make([]exec.OrderKey, len(orderBy))
		for i, ob := range orderBy {
			keys[i] = exec.OrderKey{Expr: ob.Expr, Descending: ob.Descending}
		}
		n := 0
		if limit != nil {
			if lit, ok := limit.(*ast.Literal); ok && lit.Kind == ast.LitInt {
				n = int(lit.Int)
				if n == 0 {
					// LIMIT 0: OrderByLimit reads N == 0 as unbounded.
					return falseFilter(current), columns, nil
				}
			}
		}
		skipN := 0
		if skip != nil {
			if lit, ok := skip.(*ast.Literal); ok && lit.Kind == ast.LitInt {
				skipN = int(lit.Int)
			}
		}
		current = &exec.OrderByLimit{Keys: keys, Skip: skipN, N: n, Child: current}
	}

	return current, columns, nil
}

func exprHasAggregate(e ast.Expr) bool {
	switch v := e.(type) {
	case *ast.FuncCall:
		if exec.IsAggregateName(v.Name) {
			return true
		}
		for _, a := range v.Args {
			if exprHasAggregate(a) {
				return true
			}
		}
	case *ast.BinaryExpr:
		return exprHasAggregate(v.Left) || exprHasAggregate(v.Right)
	case *ast.UnaryExpr:
		return exprHasAggregate(v.Operand)
	case *ast.PropertyAccess:
		return exprHasAggregate(v.Target)
	case *ast.CaseExpr:
		if v.Test != nil && exprHasAggregate(v.Test) {
			return true
		}
		for _, w := range v.Whens {
			if exprHasAggregate(w.Cond) || exprHasAggregate(w.Result) {
				return true
			}
		}
		if v.Else != nil {
			return exprHasAggregate(v.Else)
		}
	}
	return false
}

// exprText renders a default alias for an unaliased projection item.
// It is a best-effort textual form, not a full round-trip of the
// original query text — good enough for the common `RETURN n.name` /
// `RETURN count(n)` cases where Cypher itself would reuse the text.
func exprText(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.VarRef:
		return v.Name
	case *ast.ParamRef:
		return "$" + v.Name
	case *ast.PropertyAccess:
		return exprText(v.Target) + "." + v.Prop
	case *ast.Literal:
		switch v.Kind {
		case ast.LitInt:
			return strconv.FormatInt(v.Int, 10)
		case ast.LitFloat:
			return strconv.FormatFloat(v.Float, 'g', -1, 64)
		case ast.LitString:
			return strconv.Quote(v.Str)
		case ast.LitBool:
			return strconv.FormatBool(v.Bool)
		default:
			return "null"
		}
	case *ast.FuncCall:
		s := v.Name + "("
		if v.Distinct {
			s += "DISTINCT "
		}
		for i, a := range v.Args {
			if i > 0 {
				s += ", "
			}
			s += exprText(a)
		}
		return s + ")"
	case *ast.BinaryExpr:
		return exprText(v.Left) + " " + v.Op + " " + exprText(v.Right)
	case *ast.UnaryExpr:
		return v.Op + " " + exprText(v.Operand)
	default:
		return fmt.Sprintf("%T", e)
	}
}

// distinctOp deduplicates rows by their full value set, used for
// RETURN/WITH DISTINCT (spec §4.7).
type distinctOp struct {
	Child exec.Operator

	ctx  *exec.Ctx
	seen map[string]bool
}

func (o *distinctOp) Open(ctx *exec.Ctx) error {
	o.ctx = ctx
	o.seen = map[string]bool{}
	return o.Child.Open(ctx)
}

func (o *distinctOp) Next() (exec.Row, bool, error) {
	for {
		row, ok, err := o.Child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		k := projDistinctKey(row)
		if o.seen[k] {
			continue
		}
		o.seen[k] = true
		return row, true, nil
	}
}

func (o *distinctOp) Close() error { return o.Child.Close() }

func projDistinctKey(row exec.Row) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := ""
	for _, k := range keys {
		s += k + "=" + row[k].String() + "\x1f"
	}
	return s
}
