package exec

// SeedMerge clones Base into every row Child emits, used to carry an
// outer row's bindings across a fresh, outer-row-independent scan
// (e.g. a label scan for the next comma-separated MATCH pattern). Built
// as the Build thunk NestedLoop calls per outer row.
type SeedMerge struct {
	Base  Row
	Child Operator
}

func (o *SeedMerge) Open(ctx *Ctx) error { return o.Child.Open(ctx) }

func (o *SeedMerge) Next() (Row, bool, error) {
	row, ok, err := o.Child.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	out := o.Base.Clone()
	for k, v := range row {
		out[k] = v
	}
	return out, true, nil
}

func (o *SeedMerge) Close() error { return o.Child.Close() }
