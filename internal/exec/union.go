package exec

import "sort"

// Union concatenates rows from Children in order (spec §4.9 "Union").
// Unless All is set, rows are deduplicated across the whole stream by
// their string representation, matching Cypher's UNION (distinct) vs
// UNION ALL semantics.
type Union struct {
	Children []Operator
	All      bool

	ctx     *Ctx
	idx     int
	seen    map[string]bool
}

func (o *Union) Open(ctx *Ctx) error {
	o.ctx = ctx
	o.idx = 0
	if !o.All {
		o.seen = make(map[string]bool)
	}
	if len(o.Children) == 0 {
		return nil
	}
	return o.Children[0].Open(ctx)
}

func rowKey(row Row) string {
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

func (o *Union) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		if o.idx >= len(o.Children) {
			return nil, false, nil
		}
		row, ok, err := o.Children[o.idx].Next()
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if err := o.Children[o.idx].Close(); err != nil {
				return nil, false, err
			}
			o.idx++
			if o.idx < len(o.Children) {
				if err := o.Children[o.idx].Open(o.ctx); err != nil {
					return nil, false, err
				}
			}
			continue
		}
		if !o.All {
			k := rowKey(row)
			if o.seen[k] {
				continue
			}
			o.seen[k] = true
		}
		return row, true, nil
	}
}

func (o *Union) Close() error {
	if o.idx < len(o.Children) {
		return o.Children[o.idx].Close()
	}
	return nil
}
