package exec

import (
	"container/heap"
	"sort"

	"github.com/graphcore/engine/internal/cypher/ast"
)

// OrderKey is one ORDER BY term.
type OrderKey struct {
	Expr       ast.Expr
	Descending bool
}

// OrderByLimit sorts (or, with N set, maintains a top-k heap of) child
// rows by Keys, then emits at most N rows (spec §4.9 "OrderByLimit").
// Ordering is stable; NULL sorts last ascending and first descending
// (spec §6.3).
type OrderByLimit struct {
	Keys  []OrderKey
	Skip  int
	N     int // 0 = unbounded
	Child Operator

	ctx  *Ctx
	rows []Row
	pos  int
}

func (o *OrderByLimit) Open(ctx *Ctx) error {
	o.ctx = ctx
	if err := o.Child.Open(ctx); err != nil {
		return err
	}
	if o.N > 0 {
		return o.openTopK()
	}
	return o.openFullSort()
}

type scoredRow struct {
	row    Row
	scores []Value
	seq    int
}

func (o *OrderByLimit) score(row Row) ([]Value, error) {
	scores := make([]Value, len(o.Keys))
	for i, k := range o.Keys {
		v, err := Eval(o.ctx, row, k.Expr)
		if err != nil {
			return nil, err
		}
		scores[i] = v
	}
	return scores, nil
}

func (o *OrderByLimit) less(a, b scoredRow) bool {
	for i, k := range o.Keys {
		cmp := compareOrdered(a.scores[i], b.scores[i])
		if cmp == 0 {
			continue
		}
		if k.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return a.seq < b.seq // stable
}

// compareOrdered returns -1/0/1; NULL always sorts last.
func compareOrdered(a, b Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return 1
	}
	if b.IsNull() {
		return -1
	}
	if Less(a, b) {
		return -1
	}
	if eq, _ := Equal(a, b); eq {
		return 0
	}
	return 1
}

func (o *OrderByLimit) openFullSort() error {
	var scored []scoredRow
	seq := 0
	for {
		row, ok, err := o.Child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		scores, err := o.score(row)
		if err != nil {
			return err
		}
		scored = append(scored, scoredRow{row: row, scores: scores, seq: seq})
		seq++
	}
	sort.Slice(scored, func(i, j int) bool { return o.less(scored[i], scored[j]) })
	o.rows = make([]Row, 0, len(scored))
	for _, s := range scored {
		o.rows = append(o.rows, s.row)
	}
	o.rows = applySkipLimit(o.rows, o.Skip, 0)
	o.pos = 0
	return nil
}

// topKHeap is a max-heap over scoredRow by the OrderByLimit's ordering,
// so the worst-of-the-best-N-so-far sits at the root for eviction —
// implementing spec §4.8's "push LIMIT n into the scan/order-by as
// top-k" at the operator itself.
type topKHeap struct {
	items []scoredRow
	less  func(a, b scoredRow) bool
}

func (h topKHeap) Len() int { return len(h.items) }
func (h topKHeap) Less(i, j int) bool {
	// inverted: we want the *worst* row (by the target order) on top.
	return h.less(h.items[j], h.items[i])
}
func (h topKHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topKHeap) Push(x interface{}) { h.items = append(h.items, x.(scoredRow)) }
func (h *topKHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

func (o *OrderByLimit) openTopK() error {
	h := &topKHeap{less: o.less}
	seq := 0
	capN := o.N + o.Skip
	for {
		row, ok, err := o.Child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		scores, err := o.score(row)
		if err != nil {
			return err
		}
		sr := scoredRow{row: row, scores: scores, seq: seq}
		seq++
		if h.Len() < capN {
			heap.Push(h, sr)
		} else if h.Len() > 0 && o.less(sr, h.items[0]) {
			heap.Pop(h)
			heap.Push(h, sr)
		}
	}
	out := make([]scoredRow, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scoredRow)
	}
	o.rows = make([]Row, 0, len(out))
	for _, s := range out {
		o.rows = append(o.rows, s.row)
	}
	o.rows = applySkipLimit(o.rows, o.Skip, o.N)
	o.pos = 0
	return nil
}

func applySkipLimit(rows []Row, skip, limit int) []Row {
	if skip > len(rows) {
		return nil
	}
	rows = rows[skip:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (o *OrderByLimit) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	if o.pos >= len(o.rows) {
		return nil, false, nil
	}
	row := o.rows[o.pos]
	o.pos++
	return row, true, nil
}

func (o *OrderByLimit) Close() error { return o.Child.Close() }
