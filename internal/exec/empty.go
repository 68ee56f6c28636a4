package exec

// Empty yields no rows; the planner substitutes it for any pattern
// element that resolves to an unknown label/type/key name (spec §4.8
// rule 1 "unknown names become empty-result sentinels").
type Empty struct{}

func (Empty) Open(ctx *Ctx) error          { return nil }
func (Empty) Next() (Row, bool, error)     { return nil, false, nil }
func (Empty) Close() error                 { return nil }
