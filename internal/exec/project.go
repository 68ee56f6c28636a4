package exec

import "github.com/graphcore/engine/internal/cypher/ast"

// ProjectExpr is one evaluated output column: Expr (nil for `*`) paired
// with the Alias it binds to in the emitted row.
type ProjectExpr struct {
	Expr  ast.Expr
	Alias string
	Star  bool
}

// Project evaluates Exprs over each child row, producing the output
// schema (spec §4.9 "Project"). `*` re-emits every input binding
// unchanged alongside any explicit expressions.
type Project struct {
	Exprs []ProjectExpr
	Child Operator

	ctx *Ctx
}

func (o *Project) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Child.Open(ctx)
}

func (o *Project) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make(Row, len(o.Exprs))
	for _, pe := range o.Exprs {
		if pe.Star {
			for k, v := range row {
				out[k] = v
			}
			continue
		}
		v, err := Eval(o.ctx, row, pe.Expr)
		if err != nil {
			return nil, false, err
		}
		out[pe.Alias] = v
	}
	return out, true, nil
}

func (o *Project) Close() error { return o.Child.Close() }
