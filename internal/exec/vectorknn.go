package exec

import "github.com/graphcore/engine/internal/index/hnsw"

// VectorKNN is the leaf operator backing `CALL vector.knn(label, vec, k)
// YIELD node, score` (spec §4.7 "CALL for a closed set of built-in
// procedures (e.g., vector KNN)", §6.1 knn()). It runs one HNSW search
// against the index for Label and emits one row per result with
// NodeVar/ScoreVar bound, filtered to nodes still visible at the
// caller's read epoch (the index may lag a concurrent delete until the
// next Remove is applied).
type VectorKNN struct {
	LabelID           uint32
	Query             []float32
	K                 int
	NodeVar, ScoreVar string

	ctx     *Ctx
	results []hnsw.Result
	pos     int
}

func (o *VectorKNN) Open(ctx *Ctx) error {
	o.ctx = ctx
	idx, ok := ctx.Graph.Vectors[o.LabelID]
	if !ok {
		o.results = nil
		o.pos = 0
		return nil
	}
	o.results = idx.Search(o.Query, o.K)
	o.pos = 0
	return nil
}

func (o *VectorKNN) Next() (Row, bool, error) {
	for {
		if err := checkCancel(o.ctx); err != nil {
			return nil, false, err
		}
		if o.pos >= len(o.results) {
			return nil, false, nil
		}
		r := o.results[o.pos]
		o.pos++
		visible, err := o.ctx.Graph.Nodes.VisibleAt(r.NodeID, o.ctx.ReadEpoch())
		if err != nil {
			return nil, false, err
		}
		if !visible {
			continue
		}
		row := Row{o.NodeVar: VNode(r.NodeID), o.ScoreVar: VFloat(float64(r.Distance))}
		return row, true, nil
	}
}

func (o *VectorKNN) Close() error { return nil }
