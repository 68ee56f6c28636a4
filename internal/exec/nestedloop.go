package exec

// NestedLoop joins Outer rows against Build(seed), a sub-plan rooted at
// a RowFeed seeded with the outer row (same construction OptionalMatch
// uses). Unlike OptionalMatch, rows with zero inner matches simply
// disappear — this is an inner join, used by the planner to chain
// independent pattern elements (additional comma-separated MATCH
// patterns, or a fresh label scan joined against already-bound rows).
type NestedLoop struct {
	Outer Operator
	Build func(seed Row) Operator

	ctx   *Ctx
	inner Operator
}

func (o *NestedLoop) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Outer.Open(ctx)
}

func (o *NestedLoop) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		if o.inner == nil {
			row, ok, err := o.Outer.Next()
			if err != nil || !ok {
				return nil, ok, err
			}
			o.inner = o.Build(row)
			if err := o.inner.Open(o.ctx); err != nil {
				return nil, false, err
			}
		}
		row, ok, err := o.inner.Next()
		if err != nil {
			return nil, false, err
		}
		if ok {
			return row, true, nil
		}
		if err := o.inner.Close(); err != nil {
			return nil, false, err
		}
		o.inner = nil
	}
}

func (o *NestedLoop) Close() error {
	if o.inner != nil {
		if err := o.inner.Close(); err != nil {
			return err
		}
	}
	return o.Outer.Close()
}
