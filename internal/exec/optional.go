package exec

// RowFeed is a single-row leaf operator: it emits exactly one seed row
// and then ends. OptionalMatch uses it to re-seed a sub-pattern's scan
// for each outer row (nested-loop apply).
type RowFeed struct {
	Seed Row

	emitted bool
}

func (f *RowFeed) Open(ctx *Ctx) error {
	f.emitted = false
	return nil
}

func (f *RowFeed) Next() (Row, bool, error) {
	if f.emitted {
		return nil, false, nil
	}
	f.emitted = true
	return f.Seed.Clone(), true, nil
}

func (f *RowFeed) Close() error { return nil }

// OptionalMatch runs Build(seed) for each row from Outer, a nested
// sub-pattern rooted at a RowFeed seeded with that row. If the
// sub-pattern yields no rows, one row is emitted with Vars bound to
// NULL instead (spec §4.9 "OptionalMatch" — "emit one null-bound row
// if inner yields none").
type OptionalMatch struct {
	Outer Operator
	Build func(seed Row) Operator
	Vars  []string

	ctx     *Ctx
	inner   Operator
	started bool
	matched bool
	seed    Row
}

func (o *OptionalMatch) Open(ctx *Ctx) error {
	o.ctx = ctx
	return o.Outer.Open(ctx)
}

func (o *OptionalMatch) openNextInner() (bool, error) {
	row, ok, err := o.Outer.Next()
	if err != nil || !ok {
		return false, err
	}
	o.seed = row
	o.matched = false
	o.inner = o.Build(row)
	if err := o.inner.Open(o.ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (o *OptionalMatch) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		if o.inner == nil {
			ok, err := o.openNextInner()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
		}
		row, ok, err := o.inner.Next()
		if err != nil {
			return nil, false, err
		}
		if ok {
			o.matched = true
			return row, true, nil
		}
		if err := o.inner.Close(); err != nil {
			return nil, false, err
		}
		o.inner = nil
		if !o.matched {
			out := o.seed.Clone()
			for _, v := range o.Vars {
				out[v] = Null
			}
			return out, true, nil
		}
	}
}

func (o *OptionalMatch) Close() error {
	if o.inner != nil {
		if err := o.inner.Close(); err != nil {
			return err
		}
	}
	return o.Outer.Close()
}
