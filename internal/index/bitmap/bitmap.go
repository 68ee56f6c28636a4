// Package bitmap implements the per-label roaring-bitmap index (spec
// §4.6 "Label index"): one bitmap per label id, mapping to the set of
// node ids currently carrying that label. Persisted to
// indexes/label/<label_id>.bmp using roaring's native serialization.
package bitmap

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/xerrors"
)

// LabelIndex holds one roaring bitmap per label id and keeps each
// bitmap's on-disk copy in indexes/label/.
type LabelIndex struct {
	mu      sync.RWMutex
	dir     string
	bitmaps map[uint32]*roaring.Bitmap
	log     *zap.Logger
}

func Open(dataDir string, log *zap.Logger) (*LabelIndex, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dir := filepath.Join(dataDir, "indexes", "label")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.New(xerrors.IndexBuildFailed, "bitmap.Open", err)
	}
	idx := &LabelIndex{dir: dir, bitmaps: make(map[uint32]*roaring.Bitmap), log: log}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, xerrors.New(xerrors.IndexBuildFailed, "bitmap.Open", err)
	}
	for _, ent := range entries {
		labelID, ok := parseLabelFile(ent.Name())
		if !ok {
			continue
		}
		bm, err := loadBitmap(filepath.Join(dir, ent.Name()))
		if err != nil {
			return nil, xerrors.New(xerrors.IndexCorrupt, "bitmap.Open", err).With("label_id", labelID)
		}
		idx.bitmaps[labelID] = bm
	}
	return idx, nil
}

func parseLabelFile(name string) (uint32, bool) {
	var id uint32
	n, err := parseUint32(trimSuffix(name, ".bmp"))
	if err != nil {
		return 0, false
	}
	id = n
	return id, true
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}

func parseUint32(s string) (uint32, error) {
	var v uint64
	if s == "" {
		return 0, xerrors.New(xerrors.IndexCorrupt, "bitmap.parseUint32", nil)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, xerrors.New(xerrors.IndexCorrupt, "bitmap.parseUint32", nil)
		}
		v = v*10 + uint64(c-'0')
	}
	return uint32(v), nil
}

func loadBitmap(path string) (*roaring.Bitmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if _, err := bm.FromBuffer(data); err != nil {
		return nil, err
	}
	return bm, nil
}

func (idx *LabelIndex) bitmapFor(labelID uint32) *roaring.Bitmap {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	bm, ok := idx.bitmaps[labelID]
	if !ok {
		bm = roaring.New()
		idx.bitmaps[labelID] = bm
	}
	return bm
}

// Add records that nodeID now carries labelID.
func (idx *LabelIndex) Add(labelID uint32, nodeID uint64) {
	bm := idx.bitmapFor(labelID)
	idx.mu.Lock()
	bm.Add(uint32(nodeID))
	idx.mu.Unlock()
}

// Remove records that nodeID no longer carries labelID (label removal
// or node deletion).
func (idx *LabelIndex) Remove(labelID uint32, nodeID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if bm, ok := idx.bitmaps[labelID]; ok {
		bm.Remove(uint32(nodeID))
	}
}

func (idx *LabelIndex) Cardinality(labelID uint32) uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if bm, ok := idx.bitmaps[labelID]; ok {
		return bm.GetCardinality()
	}
	return 0
}

// Iterator returns the sorted node ids carrying labelID, as a fresh
// slice snapshot (spec §4.6 "seed selection" reads the whole set once
// per plan step; live-updating iteration is not required).
func (idx *LabelIndex) Iterator(labelID uint32) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bm, ok := idx.bitmaps[labelID]
	if !ok {
		return nil
	}
	ids := bm.ToArray()
	out := make([]uint64, len(ids))
	for i, v := range ids {
		out[i] = uint64(v)
	}
	return out
}

// And intersects the bitmaps for the given labels (multi-label MATCH
// predicates, spec §4.7 "label conjunctions").
func (idx *LabelIndex) And(labelIDs ...uint32) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(labelIDs) == 0 {
		return nil
	}
	result := idx.bitmaps[labelIDs[0]]
	if result == nil {
		return nil
	}
	result = result.Clone()
	for _, l := range labelIDs[1:] {
		other := idx.bitmaps[l]
		if other == nil {
			return nil
		}
		result.And(other)
	}
	ids := result.ToArray()
	out := make([]uint64, len(ids))
	for i, v := range ids {
		out[i] = uint64(v)
	}
	return out
}

// AndNot returns nodes carrying include but not exclude, used by the
// planner for negative label filters.
func (idx *LabelIndex) AndNot(include, exclude uint32) []uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	inc, ok := idx.bitmaps[include]
	if !ok {
		return nil
	}
	result := inc.Clone()
	if exc, ok := idx.bitmaps[exclude]; ok {
		result.AndNot(exc)
	}
	ids := result.ToArray()
	out := make([]uint64, len(ids))
	for i, v := range ids {
		out[i] = uint64(v)
	}
	return out
}

// Flush persists every bitmap to disk; called at checkpoint time
// (spec §4.4 "Checkpoints flush index state too").
func (idx *LabelIndex) Flush() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for labelID, bm := range idx.bitmaps {
		bm.RunOptimize()
		data, err := bm.ToBytes()
		if err != nil {
			return xerrors.New(xerrors.IndexBuildFailed, "bitmap.Flush", err).With("label_id", labelID)
		}
		path := filepath.Join(idx.dir, itoa(labelID)+".bmp")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return xerrors.New(xerrors.IndexBuildFailed, "bitmap.Flush", err).With("label_id", labelID)
		}
	}
	return nil
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
