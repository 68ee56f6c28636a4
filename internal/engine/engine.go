// Package engine is the embeddable facade of spec §6.1: it owns one
// data directory's storage, indexes, WAL and transaction manager, and
// is the only thing outside this module that a caller (an HTTP layer,
// a GUI, a tool) ever imports. It wires together every lower package
// rather than implementing storage or query logic itself.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/graphcore/engine/internal/catalog"
	"github.com/graphcore/engine/internal/config"
	"github.com/graphcore/engine/internal/cypher/ast"
	"github.com/graphcore/engine/internal/exec"
	"github.com/graphcore/engine/internal/index/bitmap"
	"github.com/graphcore/engine/internal/index/btree"
	"github.com/graphcore/engine/internal/index/hnsw"
	"github.com/graphcore/engine/internal/logging"
	"github.com/graphcore/engine/internal/pagecache"
	"github.com/graphcore/engine/internal/plan"
	"github.com/graphcore/engine/internal/store"
	"github.com/graphcore/engine/internal/txn"
	"github.com/graphcore/engine/internal/wal"
	"github.com/graphcore/engine/internal/xerrors"
)

// Engine is one open data directory. Exactly one process may hold an
// Engine open on a given directory at a time, enforced by an flock
// file lock (spec §6.4 "a single data directory"); any number of
// goroutines within that process may share it concurrently.
type Engine struct {
	dataDir string
	cfg     config.Config
	log     *zap.Logger

	lock *flock.Flock

	graph   *exec.Graph
	planner *plan.Planner
	txns    *txn.Manager

	lastCheckpointEpoch uint64 // epoch recovery restored the manager to at Open.

	vectorSeed uint64 // reseeds HNSW level assignment per label graph created this boot.

	// planCache holds parsed queries, not compiled operator trees: every
	// operator in a plan.Result carries its own mutable iteration state
	// (Open/Next/Close cursors), so reusing one tree across two
	// executions — sequential or, worse, concurrent — would corrupt
	// whichever query ran second. Planning a cached AST is cheap and
	// always yields a fresh tree, so a hit only skips the tokenize +
	// recursive-descent parse step, never the catalog-dependent planning
	// step — which is what keeps this safe without any version bookkeeping.
	planCache *lru.Cache[string, *ast.Query] // nil when cfg.PlanCacheSize == 0.
}

// Open performs the four-step boot sequence of spec §6.4: (1) integrity
// check on file headers — delegated to each store's own page
// validation on first touch, since pages are checked lazily rather
// than swept eagerly; (2) WAL replay from the last checkpoint; (3)
// catalog load; (4) lazy index load (bitmaps eagerly, since they are
// small; HNSW graphs eagerly too, since "lazy" here means "only the
// labels that have a file", not "deferred past Open").
func Open(dataDir string, cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.New(xerrors.CatalogCorrupt, "engine.Open", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.New(xerrors.FileGrowthFailed, "engine.Open", err)
	}

	lk := flock.New(filepath.Join(dataDir, "LOCK"))
	locked, err := lk.TryLock()
	if err != nil {
		return nil, xerrors.New(xerrors.Unknown, "engine.Open", err).With("reason", "flock")
	}
	if !locked {
		return nil, xerrors.New(xerrors.Unknown, "engine.Open", nil).With("reason", "data directory already locked by another process")
	}

	log := cfg.Logger
	if log == nil {
		log = logging.New(dataDir)
	}

	cat, err := catalog.Open(filepath.Join(dataDir, "catalog"), log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	nodes, err := store.OpenNodeStore(dataDir, cfg.PageCacheCapacityPages(), cfg.MaxDirtyPages, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	rels, err := store.OpenRelStore(dataDir, cfg.PageCacheCapacityPages(), cfg.MaxDirtyPages, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	props, err := store.OpenPropStore(dataDir, cfg.PageCacheCapacityPages(), cfg.MaxDirtyPages, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	blobs, err := store.OpenBlobStore(dataDir, cfg.PageCacheCapacityPages(), cfg.MaxDirtyPages, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	blobs.SetCompressionMinBytes(cfg.BlobCompressionMinBytes)
	labels, err := bitmap.Open(dataDir, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	w, err := wal.Open(dataDir, log)
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	vectors, err := loadVectorIndexes(dataDir, cfg)
	if err != nil {
		lk.Unlock()
		return nil, err
	}

	g := &exec.Graph{
		Catalog:         cat,
		Nodes:           nodes,
		Rels:            rels,
		Props:           props,
		Blobs:           blobs,
		Labels:          labels,
		Vectors:         vectors,
		WAL:             w,
		PropertyIndexes: map[exec.PropertyIndexKey]*btree.Index{},
	}

	mgr := txn.NewManager()
	lastCheckpointEpoch, lastCheckpointOff, err := recoverWAL(g, w)
	if err != nil {
		lk.Unlock()
		return nil, err
	}
	mgr.RestoreEpoch(lastCheckpointEpoch)
	log.Info("engine opened",
		zap.String("data_dir", dataDir),
		zap.Uint64("epoch", lastCheckpointEpoch),
		zap.Int64("wal_offset", lastCheckpointOff))

	e := &Engine{
		dataDir:             dataDir,
		cfg:                 cfg,
		log:                 log,
		lock:                lk,
		graph:               g,
		planner:             plan.New(cat),
		txns:                mgr,
		lastCheckpointEpoch: lastCheckpointEpoch,
	}
	if cfg.PlanCacheSize > 0 {
		pc, err := lru.New[string, *ast.Query](cfg.PlanCacheSize)
		if err != nil {
			lk.Unlock()
			return nil, xerrors.New(xerrors.Unknown, "engine.Open", err).With("reason", "plan cache")
		}
		e.planCache = pc
	}
	return e, nil
}

// Close flushes every dirty page, persists every HNSW index and label
// bitmap, and releases the directory lock.
func (e *Engine) Close() error {
	if err := e.graph.Labels.Flush(); err != nil {
		return err
	}
	if err := e.saveVectorIndexes(); err != nil {
		return err
	}
	for _, closer := range []interface{ Close() error }{e.graph.Nodes, e.graph.Rels, e.graph.Props, e.graph.Blobs, e.graph.Catalog, e.graph.WAL} {
		if err := closer.Close(); err != nil {
			return err
		}
	}
	e.log.Info("engine closed", zap.String("data_dir", e.dataDir))
	return e.lock.Unlock()
}

func hnswIndexPath(dataDir string, labelID uint32) string {
	return filepath.Join(dataDir, "indexes", "hnsw", fmt.Sprintf("L%d.bin", labelID))
}

// loadVectorIndexes loads every per-label HNSW index file already on
// disk (spec §6.4 "lazy index load" — a label with no vectors has no
// file and so costs nothing at boot); new label graphs are created on
// first AttachVector call for a label never seen before.
func loadVectorIndexes(dataDir string, cfg config.Config) (map[uint32]*hnsw.Graph, error) {
	dir := filepath.Join(dataDir, "indexes", "hnsw")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[uint32]*hnsw.Graph{}, nil
	}
	if err != nil {
		return nil, xerrors.New(xerrors.IndexCorrupt, "engine.loadVectorIndexes", err)
	}
	out := make(map[uint32]*hnsw.Graph, len(entries))
	for _, de := range entries {
		name := de.Name()
		if !strings.HasPrefix(name, "L") || !strings.HasSuffix(name, ".bin") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "L"), ".bin")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			continue
		}
		g, err := hnsw.Load(filepath.Join(dir, name), uint64(id)+1)
		if err != nil {
			return nil, err
		}
		out[uint32(id)] = g
	}
	return out, nil
}

func (e *Engine) saveVectorIndexes() error {
	if err := os.MkdirAll(filepath.Join(e.dataDir, "indexes", "hnsw"), 0o755); err != nil {
		return xerrors.New(xerrors.FileGrowthFailed, "engine.saveVectorIndexes", err)
	}
	ids := make([]uint32, 0, len(e.graph.Vectors))
	for id := range e.graph.Vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := e.graph.Vectors[id].Save(hnswIndexPath(e.dataDir, id)); err != nil {
			return err
		}
	}
	return nil
}

// vectorGraphFor returns the HNSW graph for label, creating it (sized
// to dim) on first use. Every label's graph is created with the same
// M/ef_construction/ef_search/metric from the engine's config (spec
// §6.1); only dim varies, fixed by whatever vector is attached first.
func (e *Engine) vectorGraphFor(labelID uint32, dim int) (*hnsw.Graph, error) {
	if g, ok := e.graph.Vectors[labelID]; ok {
		return g, nil
	}
	e.vectorSeed++
	g, err := hnsw.New(dim, e.cfg.VectorMetric, e.cfg.IndexHNSWM, e.cfg.IndexHNSWEfConstruction, e.cfg.IndexHNSWEfSearch, e.vectorSeed)
	if err != nil {
		return nil, err
	}
	e.graph.Vectors[labelID] = g
	return g, nil
}

// EngineStats is the shape returned by stats() (spec §6.1), gathering
// every counter the planner and the operator surface already maintain
// rather than introducing a separate metrics subsystem (explicit
// Non-goal of observability layers; this is the ambient counters the
// engine already has lying around).
type EngineStats struct {
	NodesPerLabel map[string]uint64
	RelsPerType   map[string]uint64
	PropertyCount uint64

	PageCacheHits      uint64
	PageCacheMisses    uint64
	PageCacheEvictions uint64

	WALOffset         int64
	LastCheckpointEpoch uint64

	CurrentEpoch uint64

	VectorsPerLabel map[string]int

	CatalogVersion uint64
}

func (e *Engine) Stats() EngineStats {
	counts := e.graph.Catalog.SnapshotCounts()
	st := EngineStats{
		NodesPerLabel:       map[string]uint64{},
		RelsPerType:         map[string]uint64{},
		PropertyCount:       counts.Properties,
		WALOffset:           e.graph.WAL.CurrentOffset(),
		LastCheckpointEpoch: e.lastCheckpointEpoch,
		CurrentEpoch:        e.txns.CurrentEpoch(),
		VectorsPerLabel:     map[string]int{},
		CatalogVersion:      e.graph.Catalog.Version(),
	}
	for id, n := range counts.NodesPerLabel {
		st.NodesPerLabel[e.graph.Catalog.NameOfLabel(id)] = n
	}
	for id, n := range counts.RelsPerType {
		st.RelsPerType[e.graph.Catalog.NameOfRelType(id)] = n
	}
	for id, g := range e.graph.Vectors {
		st.VectorsPerLabel[e.graph.Catalog.NameOfLabel(id)] = g.Size()
	}
	for _, ps := range []pagecache.Stats{e.graph.Nodes.Stats(), e.graph.Rels.Stats(), e.graph.Props.Stats(), e.graph.Blobs.Stats()} {
		st.PageCacheHits += ps.Hits
		st.PageCacheMisses += ps.Misses
		st.PageCacheEvictions += ps.Evictions
	}
	return st
}

// StatsJSON renders Stats as JSON, for callers that want to log or ship
// it rather than read it as a Go struct. Uses goccy/go-json rather than
// encoding/json: stats() can be polled on a tight interval by an external
// monitor, and go-json's faster struct encoding keeps that off the hot
// path of whatever write workload is running concurrently.
func (e *Engine) StatsJSON() ([]byte, error) {
	return json.Marshal(e.Stats())
}

// Checkpoint flushes every dirty page and index to disk, appends a
// Checkpoint WAL entry recording the epoch and offset covered, and
// truncates the WAL prefix that flush makes redundant (spec §4.4
// "Checkpoint").
func (e *Engine) Checkpoint() error {
	for _, s := range []interface{ Flush() error }{e.graph.Nodes, e.graph.Rels, e.graph.Props, e.graph.Blobs} {
		if err := s.Flush(); err != nil {
			return err
		}
	}
	if err := e.graph.Labels.Flush(); err != nil {
		return err
	}
	if err := e.saveVectorIndexes(); err != nil {
		return err
	}
	// Snapshot counts before the WAL is truncated below: once truncation
	// drops everything before off, recoverWAL on the next Open can only
	// replay deltas after this point, so this snapshot is the only
	// surviving record of everything counted before it (spec §4.1
	// snapshot_counts()).
	if err := e.graph.Catalog.PersistCounts(filepath.Join(e.dataDir, "catalog")); err != nil {
		return err
	}
	epoch := e.txns.CurrentEpoch()
	off := e.graph.WAL.CurrentOffset()
	if _, err := e.graph.WAL.Checkpoint(epoch, off); err != nil {
		return err
	}
	return e.graph.WAL.Truncate(off)
}

// Compact runs the three maintenance passes of spec §6.1 compact(): (1)
// blob GC of zero-refcount strings/bytes, (2) record-slot reuse
// compaction for tombstoned nodes/relationships whose deleted_epoch has
// fallen behind every active reader, and (3) HNSW rebuild-in-place to
// drop tombstoned vector elements (label bitmaps are already
// RunOptimize'd on every Flush, so they need no separate pass here).
// This holds the writer lock for its duration — it
// mutates slot free lists and index structures that a concurrent writer
// must not observe half-updated.
func (e *Engine) Compact() error {
	w, err := e.txns.BeginWrite(nil)
	if err != nil {
		return err
	}
	defer w.Release()

	for _, h := range e.graph.Blobs.ZeroRefHashes() {
		e.graph.Blobs.Forget(h)
	}

	watermark := e.txns.OldestActiveReadEpoch()

	// Node and rel reclaim sweeps touch disjoint stores (each its own
	// page-cache instance and freelist), so the two passes have nothing
	// to race on and run as a bounded worker group rather than
	// sequentially; HNSW compaction, keyed per-label, joins the same
	// group one goroutine per graph.
	var g errgroup.Group
	var nodesReclaimed, relsReclaimed int64
	g.Go(func() error {
		n, err := reclaimSweep(e.graph.Nodes, watermark)
		nodesReclaimed = n
		return err
	})
	g.Go(func() error {
		n, err := reclaimSweep(e.graph.Rels, watermark)
		relsReclaimed = n
		return err
	})
	for _, vg := range e.graph.Vectors {
		vg := vg
		g.Go(func() error {
			vg.Compact()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.log.Info("compaction complete",
		zap.Uint64("watermark_epoch", watermark),
		zap.Int64("nodes_reclaimed", nodesReclaimed),
		zap.Int64("rels_reclaimed", relsReclaimed))
	return nil
}

// reclaimable is the common shape node and rel stores both satisfy,
// letting the node and rel sweeps in Compact share one implementation.
type reclaimable interface {
	Count() uint64
	Epochs(id uint64) (created, deleted uint64, err error)
	Reclaim(id uint64)
}

func reclaimSweep(s reclaimable, watermark uint64) (int64, error) {
	var reclaimed int64
	for id := uint64(0); id < s.Count(); id++ {
		_, deleted, err := s.Epochs(id)
		if err != nil {
			return reclaimed, err
		}
		if deleted != store.AliveDeletedEpoch && deleted <= watermark {
			s.Reclaim(id)
			reclaimed++
		}
	}
	return reclaimed, nil
}
