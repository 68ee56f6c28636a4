package hnsw

import (
	"sort"

	"github.com/graphcore/engine/internal/xerrors"
)

// Insert adds nodeID with the given embedding to the index (spec §4.6
// "insert(node_id, vector)"). vector must match the graph's configured
// dimension.
func (g *Graph) Insert(nodeID uint64, vector []float32) error {
	if len(vector) != g.dim {
		return xerrors.New(xerrors.ConstraintViolated, "hnsw.Insert", nil).With("node_id", nodeID).With("expected_dim", g.dim).With("got_dim", len(vector))
	}
	vec := append([]float32{}, vector...)

	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.randomLevel()
	el := &element{vector: vec, maxLayer: level, neighbors: make([][]uint64, level+1)}
	g.elements[nodeID] = el

	if !g.hasEntry {
		g.entryPoint = nodeID
		g.hasEntry = true
		return nil
	}

	entry := g.entryPoint
	topLayer := g.elements[entry].maxLayer
	curr := []uint64{entry}

	for l := topLayer; l > level; l-- {
		found := g.searchLayer(vec, curr, 1, l)
		if len(found) > 0 {
			curr = []uint64{found[0].id}
		}
	}

	for l := min(topLayer, level); l >= 0; l-- {
		found := g.searchLayer(vec, curr, g.efConstruction, l)
		neighbors := g.selectNeighbors(found, g.m)
		el.neighbors[l] = neighbors
		for _, n := range neighbors {
			g.addBacklink(n, nodeID, l)
		}
		curr = idsOf(found)
	}

	if level > topLayer {
		g.entryPoint = nodeID
	}
	return nil
}

// selectNeighbors picks up to m closest candidates by distance
// (spec §4.6's "out-degree M"); candidates arrive pre-sorted ascending.
func (g *Graph) selectNeighbors(candidates []candidate, m int) []uint64 {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	return idsOf(candidates)
}

func idsOf(cs []candidate) []uint64 {
	out := make([]uint64, len(cs))
	for i, c := range cs {
		out[i] = c.id
	}
	return out
}

// addBacklink adds nodeID to n's neighbor list at layer l, pruning the
// list back to M entries (keeping the closest) if it overflows.
func (g *Graph) addBacklink(n, nodeID uint64, l int) {
	el := g.elements[n]
	if el == nil || l >= len(el.neighbors) {
		return
	}
	el.neighbors[l] = append(el.neighbors[l], nodeID)
	if len(el.neighbors[l]) <= g.m {
		return
	}
	type scored struct {
		id   uint64
		dist float32
	}
	scoredList := make([]scored, 0, len(el.neighbors[l]))
	for _, id := range el.neighbors[l] {
		if other := g.elements[id]; other != nil {
			scoredList = append(scoredList, scored{id, g.distance(el.vector, other.vector)})
		}
	}
	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].dist < scoredList[j].dist })
	if len(scoredList) > g.m {
		scoredList = scoredList[:g.m]
	}
	pruned := make([]uint64, len(scoredList))
	for i, s := range scoredList {
		pruned[i] = s.id
	}
	el.neighbors[l] = pruned
}

// Remove tombstones nodeID: it is excluded from future search results
// and no longer contributes outgoing edges, but its incoming
// backlinks are left for lazy cleanup at the next compaction rather
// than triggering an expensive graph repair on every delete (spec
// §4.6 "Maintenance").
func (g *Graph) Remove(nodeID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	el, ok := g.elements[nodeID]
	if !ok {
		return
	}
	el.deleted = true
	if g.hasEntry && g.entryPoint == nodeID {
		g.reassignEntryPoint()
	}
}

// reassignEntryPoint picks any remaining non-deleted element as the
// new graph entry point after the current one is removed.
func (g *Graph) reassignEntryPoint() {
	for id, el := range g.elements {
		if !el.deleted {
			g.entryPoint = id
			g.hasEntry = true
			return
		}
	}
	g.hasEntry = false
}

// Compact drops tombstoned elements and their dangling backlinks,
// rebuilding neighbor lists; called from the engine's compaction pass
// (spec §4.6 "Maintenance").
func (g *Graph) Compact() {
	g.mu.Lock()
	defer g.mu.Unlock()
	live := make(map[uint64]bool, len(g.elements))
	for id, el := range g.elements {
		if !el.deleted {
			live[id] = true
		}
	}
	for id := range g.elements {
		if !live[id] {
			delete(g.elements, id)
			continue
		}
		el := g.elements[id]
		for l := range el.neighbors {
			filtered := el.neighbors[l][:0]
			for _, n := range el.neighbors[l] {
				if live[n] {
					filtered = append(filtered, n)
				}
			}
			el.neighbors[l] = filtered
		}
	}
}

// Size returns the number of live (non-tombstoned) elements.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, el := range g.elements {
		if !el.deleted {
			n++
		}
	}
	return n
}
