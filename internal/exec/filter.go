package exec

import "github.com/graphcore/engine/internal/cypher/ast"

// Filter evaluates Predicate over each child row, dropping rows where
// it is not true (spec §4.9 "Filter(predicate, child)").
type Filter struct {
	Predicate ast.Expr
	Child     Operator

	ctx *Ctx
}

func (o *Filter) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Child.Open(ctx)
}

func (o *Filter) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		row, ok, err := o.Child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		v, err := Eval(o.ctx, row, o.Predicate)
		if err != nil {
			return nil, false, err
		}
		if v.Truthy() {
			return row, true, nil
		}
	}
}

func (o *Filter) Close() error { return o.Child.Close() }
