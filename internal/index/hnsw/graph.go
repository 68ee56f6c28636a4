// Package hnsw implements the per-label HNSW (Hierarchical Navigable
// Small World) vector index (spec §4.6, §6.2): a multi-layer proximity
// graph supporting approximate k-nearest-neighbor search over
// fixed-dimension float32 embeddings.
package hnsw

import (
	"math"
	"sync"

	"github.com/graphcore/engine/internal/config"
	"github.com/graphcore/engine/internal/xerrors"
)

// element is one indexed vector's graph state.
type element struct {
	vector    []float32
	maxLayer  int
	neighbors [][]uint64 // neighbors[l] = out-edges at layer l
	deleted   bool
}

// Graph is one label's HNSW index: the layered graph plus the dense
// vector store backing it. Safe for concurrent search; Insert/Remove
// take the write lock (callers already hold the engine's single-writer
// lock, so this mutex only protects against concurrent readers).
type Graph struct {
	mu sync.RWMutex

	dim            int
	metric         config.VectorMetric
	m              int
	efConstruction int
	efSearch       int

	entryPoint uint64
	hasEntry   bool

	elements map[uint64]*element

	// visitedPool recycles the per-search visited-node map across
	// searchLayer calls so concurrent readers never allocate a fresh
	// map on every candidate expansion, while each search still gets
	// its own map (sharing one across concurrent searches would let
	// one query's visited marks suppress another's results).
	visitedPool sync.Pool

	rng *splitmix64
}

// New creates an empty graph for vectors of the given dimension.
func New(dim int, metric config.VectorMetric, m, efConstruction, efSearch int, seed uint64) (*Graph, error) {
	if dim <= 0 {
		return nil, xerrors.New(xerrors.IndexBuildFailed, "hnsw.New", nil).With("dim", dim)
	}
	return &Graph{
		dim: dim, metric: metric, m: m, efConstruction: efConstruction, efSearch: efSearch,
		elements: make(map[uint64]*element),
		rng:      newSplitmix64(seed),
	}, nil
}

// splitmix64 is a minimal deterministic PRNG used only to draw each
// inserted node's random max layer (spec §4.6 "geometric distribution
// of per-node max layer"); determinism makes index construction
// reproducible given the same insertion order and seed.
type splitmix64 struct{ state uint64 }

func newSplitmix64(seed uint64) *splitmix64 { return &splitmix64{state: seed} }

func (s *splitmix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (s *splitmix64) float64() float64 {
	return float64(s.next()>>11) / float64(uint64(1)<<53)
}

func (g *Graph) acquireVisited() map[uint64]bool {
	if v, ok := g.visitedPool.Get().(map[uint64]bool); ok {
		return v
	}
	return make(map[uint64]bool, 64)
}

func (g *Graph) releaseVisited(v map[uint64]bool) {
	for k := range v {
		delete(v, k)
	}
	g.visitedPool.Put(v)
}

// randomLevel draws a layer index from the exponential distribution
// used by HNSW, with mL = 1/ln(M).
func (g *Graph) randomLevel() int {
	if g.m <= 1 {
		return 0
	}
	mL := 1.0 / math.Log(float64(g.m))
	r := g.rng.float64()
	if r <= 0 {
		r = 1e-12
	}
	level := int(math.Floor(-math.Log(r) * mL))
	if level > 31 {
		level = 31
	}
	return level
}
