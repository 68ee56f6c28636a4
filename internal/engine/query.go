package engine

import (
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/cypher/parser"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/index/hnsw"
	"github.com/graphcore/engine/internal/plan"
)

// compile parses then plans query, the two steps every execute() call
// shares (spec §4.8 takes a parsed AST; parsing itself is spec §4.7).
// The parse step alone is cached by query text — planning always runs
// fresh so every call gets its own, never-before-opened operator tree
// (see the planCache field doc on Engine for why the tree itself can't
// be cached).
func (e *Engine) compile(query string) (*plan.Result, error) {
	var (
		q   *ast.Query
		err error
	)
	if e.planCache != nil {
		if cached, ok := e.planCache.Get(query); ok {
			q = cached
		}
	}
	if q == nil {
		q, err = parser.Parse(query)
		if err != nil {
			return nil, err
		}
		if e.planCache != nil {
			e.planCache.Add(query, q)
		}
	}
	return e.planner.Plan(q)
}

// Explain compiles query without running it and renders the resulting
// operator tree, for callers that want to inspect a plan (spec's
// supplemented debug surface; no wire format of its own, just a
// human-readable tree, same spirit as each operator's own doc comment).
func (e *Engine) Explain(query string) (string, error) {
	res, err := e.compile(query)
	if err != nil {
		return "", err
	}
	return plan.Explain(res), nil
}

// ResultStream is the iterator returned by execute() (spec §6.1). It
// wraps one already-Open operator tree; Next pulls one row at a time so
// a caller never has to materialize a whole result set up front.
type ResultStream struct {
	Columns []string

	ctx  *exec.Ctx
	root exec.Operator
	done bool
}

func newResultStream(res *plan.Result, ctx *exec.Ctx) (*ResultStream, error) {
	if err := res.Root.Open(ctx); err != nil {
		return nil, err
	}
	return &ResultStream{Columns: res.Columns, ctx: ctx, root: res.Root}, nil
}

// Next returns the next row, or ok=false once the stream is exhausted.
func (r *ResultStream) Next() (exec.Row, bool, error) {
	if r.done {
		return nil, false, nil
	}
	row, ok, err := r.root.Next()
	if err != nil || !ok {
		r.done = true
	}
	return row, ok, err
}

// Close releases whatever resources the operator tree holds. Safe to
// call more than once.
func (r *ResultStream) Close() error {
	if r.root == nil {
		return nil
	}
	err := r.root.Close()
	r.root = nil
	return err
}

// Collect drains the stream into a slice, for callers that don't need
// streaming (tests, small administrative queries).
func (r *ResultStream) Collect() ([]exec.Row, error) {
	var out []exec.Row
	for {
		row, ok, err := r.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row)
	}
}

// KnnResult is one row of knn()'s result (spec §6.1 "[(node_id,
// score)]").
type KnnResult struct {
	NodeID uint64
	Score  float32
}

// Knn runs a direct vector search against label's HNSW index, bypassing
// Cypher entirely (spec §6.1 knn()). filter, if non-nil, is applied
// after the search narrows candidates — post-filtering rather than
// pre-filtering, matching how CALL vector.knn() itself works (spec §4.7
// has no pre-filtered ANN variant).
func (e *Engine) Knn(readEpoch uint64, label string, vector []float32, k int, filter func(nodeID uint64) bool) ([]KnnResult, error) {
	labelID, ok := e.graph.Catalog.TryLookupLabel(label)
	if !ok {
		return nil, nil
	}
	idx, ok := e.graph.Vectors[labelID]
	if !ok {
		return nil, nil
	}
	var results []hnsw.Result
	if filter == nil {
		results = idx.Search(vector, k)
	} else {
		// Over-fetch to leave room for post-filter rejection, capped at
		// the index's own size so this never spins looking for more
		// candidates than exist. SearchWithEf's result count is capped
		// to its own k argument, so the over-fetch width must be passed
		// as k itself, not just as the search breadth ef.
		want := k * 4
		if want > idx.Size() {
			want = idx.Size()
		}
		results = idx.SearchWithEf(vector, want, want)
	}
	out := make([]KnnResult, 0, len(results))
	for _, r := range results {
		visible, err := e.graph.Nodes.VisibleAt(r.NodeID, readEpoch)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		if filter != nil && !filter(r.NodeID) {
			continue
		}
		out = append(out, KnnResult{NodeID: r.NodeID, Score: r.Distance})
		if len(out) == k {
			break
		}
	}
	return out, nil
}
