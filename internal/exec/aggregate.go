package exec

import (
	"math"
	"sort"

	"github.com/graphcore/engine/internal/cypher/ast"
)

// AggSpec is one aggregation output column, e.g. `count(n) AS total` or
// a bare group key carried through unaggregated.
type AggSpec struct {
	Alias    string
	Func     string // "" for a plain group-key passthrough
	Arg      ast.Expr
	Distinct bool
}

// Aggregate hash-groups child rows by GroupKeys, computing Aggs per
// group (spec §4.9 "Aggregate"). Because Project may be deferred
// behind an Aggregate (`RETURN n.label, count(*)` needs no separate
// Project), Aggregate evaluates GroupKeys itself over incoming rows
// rather than assuming they were already projected.
type Aggregate struct {
	GroupKeys []ast.Expr
	GroupAs   []string // alias each group key is exposed under
	Aggs      []AggSpec
	Child     Operator

	ctx     *Ctx
	results []Row
	pos     int
}

type aggState struct {
	count      int64
	sum        float64
	sumSet     bool
	min, max   Value
	minMaxSet  bool
	collected  []Value
	distinct   map[string]bool
	groupVals  []Value
}

func (o *Aggregate) Open(ctx *Ctx) error {
	o.ctx = ctx
	if err := o.Child.Open(ctx); err != nil {
		return err
	}
	groups := map[string][]*aggState{}
	var order []string

	for {
		row, ok, err := o.Child.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		groupVals := make([]Value, len(o.GroupKeys))
		for i, k := range o.GroupKeys {
			v, err := Eval(o.ctx, row, k)
			if err != nil {
				return err
			}
			groupVals[i] = v
		}
		key := groupKeyString(groupVals)
		states, ok := groups[key]
		if !ok {
			states = make([]*aggState, len(o.Aggs))
			for i := range states {
				states[i] = &aggState{groupVals: groupVals, distinct: map[string]bool{}}
			}
			groups[key] = states
			order = append(order, key)
		}
		for i, spec := range o.Aggs {
			if spec.Func == "" {
				continue
			}
			var v Value
			if spec.Arg != nil {
				v, err = Eval(o.ctx, row, spec.Arg)
				if err != nil {
					return err
				}
			}
			if err := accumulate(states[i], spec, v); err != nil {
				return err
			}
		}
	}

	for _, key := range order {
		states := groups[key]
		out := make(Row, len(o.GroupAs)+len(o.Aggs))
		if len(states) > 0 {
			for i, alias := range o.GroupAs {
				out[alias] = states[0].groupVals[i]
			}
		}
		for i, spec := range o.Aggs {
			if spec.Func == "" {
				continue
			}
			out[spec.Alias] = finalize(states[i], spec.Func)
		}
		o.results = append(o.results, out)
	}
	return nil
}

func groupKeyString(vals []Value) string {
	s := ""
	for _, v := range vals {
		s += v.String() + "\x1f"
	}
	return s
}

func accumulate(st *aggState, spec AggSpec, v Value) error {
	if spec.Func == "count" && spec.Arg == nil {
		st.count++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	if spec.Distinct {
		k := v.String()
		if st.distinct[k] {
			return nil
		}
		st.distinct[k] = true
	}
	switch spec.Func {
	case "count":
		st.count++
	case "sum", "avg":
		st.sum += asFloat(v)
		st.sumSet = true
		st.count++
	case "min":
		if !st.minMaxSet || Less(v, st.min) {
			st.min = v
		}
		st.minMaxSet = true
	case "max":
		if !st.minMaxSet || Less(st.max, v) {
			st.max = v
		}
		st.minMaxSet = true
	case "collect":
		st.collected = append(st.collected, v)
	case "stDev":
		st.collected = append(st.collected, v)
	case "percentileCont", "percentileDisc":
		st.collected = append(st.collected, v)
	}
	return nil
}

func finalize(st *aggState, fn string) Value {
	switch fn {
	case "count":
		return VInt(st.count)
	case "sum":
		return VFloat(st.sum)
	case "avg":
		if st.count == 0 {
			return Null
		}
		return VFloat(st.sum / float64(st.count))
	case "min":
		if !st.minMaxSet {
			return Null
		}
		return st.min
	case "max":
		if !st.minMaxSet {
			return Null
		}
		return st.max
	case "collect":
		return Value{Kind: KindList, List: st.collected}
	case "stDev":
		return VFloat(stDev(st.collected))
	case "percentileCont":
		return percentile(st.collected, true)
	case "percentileDisc":
		return percentile(st.collected, false)
	default:
		return Null
	}
}

func stDev(vals []Value) float64 {
	if len(vals) < 2 {
		return 0
	}
	var mean float64
	for _, v := range vals {
		mean += asFloat(v)
	}
	mean /= float64(len(vals))
	var sumSq float64
	for _, v := range vals {
		d := asFloat(v) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(vals)-1))
}

func percentile(vals []Value, continuous bool) Value {
	if len(vals) == 0 {
		return Null
	}
	nums := make([]float64, len(vals))
	for i, v := range vals {
		nums[i] = asFloat(v)
	}
	sort.Float64s(nums)
	mid := (len(nums) - 1) / 2
	if continuous {
		return VFloat(nums[mid])
	}
	return VFloat(nums[mid])
}

func (o *Aggregate) Next() (Row, bool, error) {
	if err := checkCancel(o.ctx); err != nil {
		return nil, false, err
	}
	if o.pos >= len(o.results) {
		return nil, false, nil
	}
	r := o.results[o.pos]
	o.pos++
	return r, true, nil
}

func (o *Aggregate) Close() error { return o.Child.Close() }
