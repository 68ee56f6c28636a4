package hnsw

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"

	"github.com/graphcore/engine/internal/config"
	"github.com/graphcore/engine/internal/xerrors"
)

// fileMagic identifies an HNSW index file; version allows the on-disk
// layout to evolve without breaking older data directories silently.
const (
	fileMagic   uint32 = 0x484e5357 // "HNSW"
	fileVersion uint32 = 1
)

var le = binary.LittleEndian

// Save writes the graph to path in the format of spec §4.6/§6.2:
// header | per-element (node_id, max_layer, per-layer neighbor lists) |
// contiguous vectors array.
func (g *Graph) Save(path string) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	ids := make([]uint64, 0, len(g.elements))
	for id, el := range g.elements {
		if el.deleted {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var hdr [4 + 4 + 4 + 1 + 2 + 2 + 8 + 8]byte
	le.PutUint32(hdr[0:4], fileMagic)
	le.PutUint32(hdr[4:8], fileVersion)
	le.PutUint32(hdr[8:12], uint32(g.dim))
	hdr[12] = byte(g.metric)
	le.PutUint16(hdr[13:15], uint16(g.m))
	le.PutUint16(hdr[15:17], uint16(g.efConstruction))
	le.PutUint64(hdr[17:25], uint64(len(ids)))
	entry := uint64(0)
	if g.hasEntry {
		entry = g.entryPoint
	}
	le.PutUint64(hdr[25:33], entry)
	if _, err := w.Write(hdr[:]); err != nil {
		return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
	}

	for _, id := range ids {
		el := g.elements[id]
		var rec [8 + 1]byte
		le.PutUint64(rec[0:8], id)
		rec[8] = byte(el.maxLayer)
		if _, err := w.Write(rec[:]); err != nil {
			return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
		}
		for l := 0; l <= el.maxLayer; l++ {
			var neighbors []uint64
			if l < len(el.neighbors) {
				neighbors = el.neighbors[l]
			}
			var cntBuf [2]byte
			le.PutUint16(cntBuf[:], uint16(len(neighbors)))
			if _, err := w.Write(cntBuf[:]); err != nil {
				return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
			}
			for _, n := range neighbors {
				var nb [8]byte
				le.PutUint64(nb[:], n)
				if _, err := w.Write(nb[:]); err != nil {
					return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
				}
			}
		}
	}

	for _, id := range ids {
		el := g.elements[id]
		for _, f32 := range el.vector {
			var vb [4]byte
			le.PutUint32(vb[:], math.Float32bits(f32))
			if _, err := w.Write(vb[:]); err != nil {
				return xerrors.New(xerrors.IndexBuildFailed, "hnsw.Save", err)
			}
		}
	}

	return w.Flush()
}

// Load reads a graph previously written by Save. seed reseeds the
// level-assignment PRNG for any subsequent Insert calls; it does not
// affect already-persisted elements.
func Load(path string, seed uint64) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var hdr [33]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
	}
	if le.Uint32(hdr[0:4]) != fileMagic {
		return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", nil).With("reason", "bad magic")
	}
	dim := int(le.Uint32(hdr[8:12]))
	metric := config.VectorMetric(hdr[12])
	m := int(le.Uint16(hdr[13:15]))
	efConstruction := int(le.Uint16(hdr[15:17]))
	numElements := le.Uint64(hdr[17:25])
	entryPoint := le.Uint64(hdr[25:33])

	g, err := New(dim, metric, m, efConstruction, efConstruction, seed)
	if err != nil {
		return nil, err
	}

	ids := make([]uint64, numElements)
	maxLayers := make([]int, numElements)
	neighborLists := make([][][]uint64, numElements)

	for i := uint64(0); i < numElements; i++ {
		var rec [9]byte
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
		}
		id := le.Uint64(rec[0:8])
		maxLayer := int(rec[8])
		ids[i] = id
		maxLayers[i] = maxLayer
		layers := make([][]uint64, maxLayer+1)
		for l := 0; l <= maxLayer; l++ {
			var cntBuf [2]byte
			if _, err := io.ReadFull(r, cntBuf[:]); err != nil {
				return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
			}
			cnt := le.Uint16(cntBuf[:])
			neighbors := make([]uint64, cnt)
			for j := uint16(0); j < cnt; j++ {
				var nb [8]byte
				if _, err := io.ReadFull(r, nb[:]); err != nil {
					return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
				}
				neighbors[j] = le.Uint64(nb[:])
			}
			layers[l] = neighbors
		}
		neighborLists[i] = layers
	}

	for i := uint64(0); i < numElements; i++ {
		vec := make([]float32, dim)
		for d := 0; d < dim; d++ {
			var vb [4]byte
			if _, err := io.ReadFull(r, vb[:]); err != nil {
				return nil, xerrors.New(xerrors.IndexCorrupt, "hnsw.Load", err)
			}
			vec[d] = math.Float32frombits(le.Uint32(vb[:]))
		}
		g.elements[ids[i]] = &element{vector: vec, maxLayer: maxLayers[i], neighbors: neighborLists[i]}
	}

	if numElements > 0 {
		g.entryPoint = entryPoint
		g.hasEntry = true
	}
	return g, nil
}
