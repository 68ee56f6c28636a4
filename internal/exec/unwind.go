package exec

import "github.com/graphcore/engine/internal/cypher/ast"

// Unwind expands a list-valued expression into one row per element,
// binding each to As (spec §4.7 "UNWIND"). A non-list value unwinds to
// a single row with As bound to that value; NULL unwinds to zero rows.
type Unwind struct {
	List  ast.Expr
	As    string
	Child Operator

	ctx     *Ctx
	pending []Value
	pendPos int
	baseRow Row
}

func (o *Unwind) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Child.Open(ctx)
}

func (o *Unwind) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		for o.pendPos < len(o.pending) {
			v := o.pending[o.pendPos]
			o.pendPos++
			row := o.baseRow.Clone()
			row[o.As] = v
			return row, true, nil
		}
		row, ok, err := o.Child.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		v, err := Eval(o.ctx, row, o.List)
		if err != nil {
			return nil, false, err
		}
		o.baseRow = row
		o.pendPos = 0
		switch v.Kind {
		case KindNull:
			o.pending = nil
		case KindList:
			o.pending = v.List
		default:
			o.pending = []Value{v}
		}
	}
}

func (o *Unwind) Close() error { return o.Child.Close() }
