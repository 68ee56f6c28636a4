package hnsw

import (
	"container/heap"
	"sort"
)

// Result is one match returned by Search: the node id and its distance
// (lower is closer, regardless of metric — spec §4.6 "search(...) →
// [(node_id, distance)]").
type Result struct {
	NodeID   uint64
	Distance float32
}

// searchLayer runs the greedy beam search of spec §4.6 on a single
// layer, starting from entryPoints, returning up to ef closest
// candidates to query found among the explored frontier.
func (g *Graph) searchLayer(query []float32, entryPoints []uint64, ef int, layer int) []candidate {
	visited := g.acquireVisited()
	defer g.releaseVisited(visited)
	var candidates minHeap
	var results maxHeap

	for _, ep := range entryPoints {
		el := g.elements[ep]
		if el == nil || el.deleted {
			continue
		}
		d := g.distance(query, el.vector)
		visited[ep] = true
		heap.Push(&candidates, candidate{ep, d})
		heap.Push(&results, candidate{ep, d})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(candidate)
		if results.Len() > 0 && c.dist > results[0].dist {
			break
		}
		el := g.elements[c.id]
		if el == nil || layer >= len(el.neighbors) {
			continue
		}
		for _, n := range el.neighbors[layer] {
			if visited[n] {
				continue
			}
			visited[n] = true
			ne := g.elements[n]
			if ne == nil || ne.deleted {
				continue
			}
			d := g.distance(query, ne.vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, candidate{n, d})
				heap.Push(&results, candidate{n, d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]candidate, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}

// Search returns up to k approximate nearest neighbors of query,
// exploring with the configured ef_search beam width (spec §4.6).
func (g *Graph) Search(query []float32, k int) []Result {
	return g.SearchWithEf(query, k, g.efSearch)
}

// SearchWithEf is Search with an explicit ef override, used by
// Engine.Knn to over-fetch candidates when a post-filter is applied.
func (g *Graph) SearchWithEf(query []float32, k, ef int) []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.hasEntry || len(g.elements) == 0 {
		return nil
	}
	if ef < k {
		ef = k
	}

	entry := g.entryPoint
	topLayer := g.elements[entry].maxLayer
	curr := []uint64{entry}
	for l := topLayer; l > 0; l-- {
		found := g.searchLayer(query, curr, 1, l)
		if len(found) == 0 {
			break
		}
		curr = []uint64{found[0].id}
	}
	found := g.searchLayer(query, curr, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	out := make([]Result, len(found))
	for i, c := range found {
		out[i] = Result{NodeID: c.id, Distance: c.dist}
	}
	return out
}
