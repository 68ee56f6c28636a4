// Package catalog implements the bidirectional name<->id maps for
// labels, relationship types, and property keys (spec §4.1). Id 0 is
// reserved as "invalid"; ids are assigned monotonically and are
// append-only once issued, so the compact 64-bit label bitmap embedded
// in every node record stays dense (spec §4.1 rationale).
package catalog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/xerrors"
)

// Kind distinguishes the three namespaces the catalog multiplexes onto a
// single journal file.
type Kind uint8

const (
	KindLabel Kind = iota + 1
	KindRelType
	KindPropertyKey
)

const invalidID uint32 = 0

// countsFileName holds the last Checkpoint's node/rel/property counts
// (see PersistCounts); countsMagic/countsVersion tag its header the same
// way hnsw's index files are tagged, so a format change can be detected
// rather than silently misparsed.
const (
	countsFileName        = "counts.snapshot"
	countsMagic    uint32 = 0x434e5453 // "CNTS"
	countsVersion  uint32 = 1
)

// Counts is the snapshot returned by Catalog.SnapshotCounts.
type Counts struct {
	NodesPerLabel map[uint32]uint64
	RelsPerType   map[uint32]uint64
	Properties    uint64
}

type namespace struct {
	mu       sync.RWMutex
	byName   map[string]uint32
	byID     map[uint32]string
	nextID   uint32
}

func newNamespace() *namespace {
	return &namespace{byName: make(map[string]uint32), byID: make(map[uint32]string), nextID: 1}
}

// Catalog owns the three namespaces plus the append-only journal they are
// replayed from at boot. Node/rel/property counts are plain in-memory
// counters, not a journal of their own: they're seeded at Open from
// whatever PersistCounts last wrote at a checkpoint, then kept current
// by WAL replay of every entry since that checkpoint (the WAL is only
// ever truncated up to a checkpoint boundary, so the two sources never
// overlap and never leave a gap).
type Catalog struct {
	labels  *namespace
	types   *namespace
	keys    *namespace

	mu      sync.Mutex // serializes journal appends across namespaces
	journal *os.File
	log     *zap.Logger

	countsMu   sync.Mutex
	nodeCounts map[uint32]uint64
	relCounts  map[uint32]uint64
	propCount  uint64

	// version increments each time getOrCreate mints a brand-new id. Names
	// are append-only once issued (see package doc), so a lookup of an
	// already-existing name never changes it — only first-creation of a
	// label, rel type, or property key does. It is exposed through Version
	// as a stat; nothing caches plans keyed on it.
	version atomic.Uint64
}

// Version returns the number of labels, rel types, and property keys
// ever minted by this catalog, surfaced via stats() as a cheap signal of
// schema churn (spec §6.1's counters already expose per-name cardinality;
// this is the aggregate "how many distinct names has this graph ever
// seen" complement to that).
func (c *Catalog) Version() uint64 { return c.version.Load() }

// Open loads (or creates) the catalog journal under dir/catalog and
// replays it to rebuild the in-memory maps, per spec §3.3 ("name-to-id
// maps are rebuilt from the catalog store at boot").
func Open(dir string, log *zap.Logger) (*Catalog, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.New(xerrors.CatalogCorrupt, "catalog.Open", err)
	}
	path := filepath.Join(dir, "catalog.journal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, xerrors.New(xerrors.CatalogCorrupt, "catalog.Open", err)
	}
	c := &Catalog{
		labels:     newNamespace(),
		types:      newNamespace(),
		keys:       newNamespace(),
		journal:    f,
		log:        log,
		nodeCounts: make(map[uint32]uint64),
		relCounts:  make(map[uint32]uint64),
	}
	if err := c.replay(); err != nil {
		f.Close()
		return nil, err
	}
	if err := c.loadCounts(dir); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	return c.journal.Close()
}

func (c *Catalog) nsFor(k Kind) *namespace {
	switch k {
	case KindLabel:
		return c.labels
	case KindRelType:
		return c.types
	case KindPropertyKey:
		return c.keys
	default:
		return nil
	}
}

// replay reconstructs the in-memory maps from the on-disk journal.
// Corruption (a truncated record) stops the scan and is reported as
// CatalogCorrupt, matching the WAL's "discard tail after first invalid
// entry" philosophy applied to the catalog's own tiny log.
func (c *Catalog) replay() error {
	if _, err := c.journal.Seek(0, io.SeekStart); err != nil {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.replay", err)
	}
	r := bufio.NewReader(c.journal)
	hdr := make([]byte, 7) // kind:1 id:4 namelen:2
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			if err == io.EOF {
				break
			}
			return xerrors.New(xerrors.CatalogCorrupt, "catalog.replay", err)
		}
		kind := Kind(hdr[0])
		id := binary.LittleEndian.Uint32(hdr[1:5])
		nameLen := binary.LittleEndian.Uint16(hdr[5:7])
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return xerrors.New(xerrors.CatalogCorrupt, "catalog.replay", err)
		}
		ns := c.nsFor(kind)
		if ns == nil {
			return xerrors.New(xerrors.CatalogCorrupt, "catalog.replay", nil).With("kind", kind)
		}
		ns.byName[string(name)] = id
		ns.byID[id] = string(name)
		if id >= ns.nextID {
			ns.nextID = id + 1
		}
	}
	if _, err := c.journal.Seek(0, io.SeekEnd); err != nil {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.replay", err)
	}
	return nil
}

func (c *Catalog) append(k Kind, id uint32, name string) error {
	buf := make([]byte, 7+len(name))
	buf[0] = byte(k)
	binary.LittleEndian.PutUint32(buf[1:5], id)
	binary.LittleEndian.PutUint16(buf[5:7], uint16(len(name)))
	copy(buf[7:], name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.journal.Write(buf); err != nil {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.append", err)
	}
	return c.journal.Sync()
}

// getOrCreate is idempotent: concurrent callers asking for the same name
// converge on the same id (spec §8.2 "Catalog id stability").
func (c *Catalog) getOrCreate(ns *namespace, k Kind, name string) (uint32, error) {
	ns.mu.RLock()
	if id, ok := ns.byName[name]; ok {
		ns.mu.RUnlock()
		return id, nil
	}
	ns.mu.RUnlock()

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if id, ok := ns.byName[name]; ok {
		return id, nil
	}
	id := ns.nextID
	ns.nextID++
	if err := c.append(k, id, name); err != nil {
		return 0, err
	}
	ns.byName[name] = id
	ns.byID[id] = name
	c.version.Add(1)
	return id, nil
}

func (c *Catalog) lookup(ns *namespace, id uint32) (string, error) {
	if id == invalidID {
		return "", xerrors.New(xerrors.CatalogMissing, "catalog.lookup", nil).With("id", id)
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	name, ok := ns.byID[id]
	if !ok {
		return "", xerrors.New(xerrors.CatalogMissing, "catalog.lookup", nil).With("id", id)
	}
	return name, nil
}

func (c *Catalog) GetOrCreateLabel(name string) (uint32, error) {
	return c.getOrCreate(c.labels, KindLabel, name)
}

func (c *Catalog) LookupLabel(id uint32) (string, error) { return c.lookup(c.labels, id) }

func (c *Catalog) GetOrCreateRelType(name string) (uint32, error) {
	return c.getOrCreate(c.types, KindRelType, name)
}

func (c *Catalog) LookupRelType(id uint32) (string, error) { return c.lookup(c.types, id) }

func (c *Catalog) GetOrCreatePropertyKey(name string) (uint32, error) {
	return c.getOrCreate(c.keys, KindPropertyKey, name)
}

func (c *Catalog) LookupPropertyKey(id uint32) (string, error) { return c.lookup(c.keys, id) }

// TryLookupLabel resolves a label name to its id without creating it,
// returning ok=false for unknown names; used by the planner to turn
// unresolved labels into empty-result sentinels (spec §4.8 rule 1)
// instead of errors.
func (c *Catalog) TryLookupLabel(name string) (uint32, bool) {
	c.labels.mu.RLock()
	defer c.labels.mu.RUnlock()
	id, ok := c.labels.byName[name]
	return id, ok
}

func (c *Catalog) TryLookupRelType(name string) (uint32, bool) {
	c.types.mu.RLock()
	defer c.types.mu.RUnlock()
	id, ok := c.types.byName[name]
	return id, ok
}

func (c *Catalog) TryLookupPropertyKey(name string) (uint32, bool) {
	c.keys.mu.RLock()
	defer c.keys.mu.RUnlock()
	id, ok := c.keys.byName[name]
	return id, ok
}

// NameOfLabel, NameOfRelType and NameOfPropertyKey are the no-error
// counterparts of Lookup*, returning "" for an unknown or invalid id;
// used by the executor's labels()/type()/keys() functions, where a
// stale bit or id should degrade to an absent name rather than fail
// the whole query.
func (c *Catalog) NameOfLabel(id uint32) string {
	name, err := c.lookup(c.labels, id)
	if err != nil {
		return ""
	}
	return name
}

func (c *Catalog) NameOfRelType(id uint32) string {
	name, err := c.lookup(c.types, id)
	if err != nil {
		return ""
	}
	return name
}

func (c *Catalog) NameOfPropertyKey(id uint32) string {
	name, err := c.lookup(c.keys, id)
	if err != nil {
		return ""
	}
	return name
}

// AdjustNodeCount and AdjustRelCount update the in-memory counters backing
// SnapshotCounts; callers (the record stores) invoke these within the
// same write transaction that changes label/type membership. They are
// never themselves journaled — PersistCounts snapshots their current
// values wholesale at each Checkpoint instead.
func (c *Catalog) AdjustNodeCount(labelID uint32, delta int64) {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	c.nodeCounts[labelID] = addDelta(c.nodeCounts[labelID], delta)
}

func (c *Catalog) AdjustRelCount(typeID uint32, delta int64) {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	c.relCounts[typeID] = addDelta(c.relCounts[typeID], delta)
}

func (c *Catalog) AdjustPropertyCount(delta int64) {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	c.propCount = addDelta(c.propCount, delta)
}

func addDelta(v uint64, delta int64) uint64 {
	if delta < 0 && uint64(-delta) > v {
		return 0
	}
	return uint64(int64(v) + delta)
}

// SnapshotCounts implements spec §4.1's snapshot_counts() contract.
func (c *Catalog) SnapshotCounts() Counts {
	c.countsMu.Lock()
	defer c.countsMu.Unlock()
	out := Counts{
		NodesPerLabel: make(map[uint32]uint64, len(c.nodeCounts)),
		RelsPerType:   make(map[uint32]uint64, len(c.relCounts)),
		Properties:    c.propCount,
	}
	for k, v := range c.nodeCounts {
		out.NodesPerLabel[k] = v
	}
	for k, v := range c.relCounts {
		out.RelsPerType[k] = v
	}
	return out
}

// PersistCounts atomically rewrites dir/counts.snapshot with the current
// node/rel/property counts (write-to-temp-then-rename, so a crash mid-
// write leaves the prior snapshot intact). Engine.Checkpoint calls this
// just before truncating the WAL: without it, every count contributed
// by an entry before the truncation point would be unrecoverable on the
// next Open, since recoverWAL can only replay what the (now-truncated)
// WAL still holds.
func (c *Catalog) PersistCounts(dir string) error {
	c.countsMu.Lock()
	nodeCounts := make(map[uint32]uint64, len(c.nodeCounts))
	for k, v := range c.nodeCounts {
		nodeCounts[k] = v
	}
	relCounts := make(map[uint32]uint64, len(c.relCounts))
	for k, v := range c.relCounts {
		relCounts[k] = v
	}
	propCount := c.propCount
	c.countsMu.Unlock()

	var buf bytes.Buffer
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], countsMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], countsVersion)
	binary.LittleEndian.PutUint64(hdr[8:16], propCount)
	buf.Write(hdr[:])
	writeCountMap(&buf, nodeCounts)
	writeCountMap(&buf, relCounts)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	var sumBuf [4]byte
	binary.LittleEndian.PutUint32(sumBuf[:], sum)
	buf.Write(sumBuf[:])

	finalPath := filepath.Join(dir, countsFileName)
	tmpPath := finalPath + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.PersistCounts", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.PersistCounts", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.PersistCounts", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.PersistCounts", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.PersistCounts", err)
	}
	return nil
}

func writeCountMap(buf *bytes.Buffer, m map[uint32]uint64) {
	ids := make([]uint32, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(ids)))
	buf.Write(n[:])
	for _, id := range ids {
		var rec [12]byte
		binary.LittleEndian.PutUint32(rec[0:4], id)
		binary.LittleEndian.PutUint64(rec[4:12], m[id])
		buf.Write(rec[:])
	}
}

// loadCounts seeds nodeCounts/relCounts/propCount from a snapshot
// previously written by PersistCounts, if one exists. A missing file
// (no checkpoint has ever run) leaves the zero-value maps Open already
// constructed — a brand new catalog has nothing to restore.
func (c *Catalog) loadCounts(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, countsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", err)
	}
	if len(data) < 16+4 {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", nil).With("reason", "short counts snapshot")
	}
	body, sumBuf := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(sumBuf) {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", nil).With("reason", "checksum mismatch")
	}
	if binary.LittleEndian.Uint32(body[0:4]) != countsMagic {
		return xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", nil).With("reason", "bad magic")
	}
	propCount := binary.LittleEndian.Uint64(body[8:16])
	off := 16
	readCountMap := func() (map[uint32]uint64, error) {
		if off+4 > len(body) {
			return nil, xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", nil).With("reason", "truncated map header")
		}
		n := int(binary.LittleEndian.Uint32(body[off : off+4]))
		off += 4
		m := make(map[uint32]uint64, n)
		for i := 0; i < n; i++ {
			if off+12 > len(body) {
				return nil, xerrors.New(xerrors.CatalogCorrupt, "catalog.loadCounts", nil).With("reason", "truncated map entry")
			}
			id := binary.LittleEndian.Uint32(body[off : off+4])
			m[id] = binary.LittleEndian.Uint64(body[off+4 : off+12])
			off += 12
		}
		return m, nil
	}
	nodeCounts, err := readCountMap()
	if err != nil {
		return err
	}
	relCounts, err := readCountMap()
	if err != nil {
		return err
	}

	c.countsMu.Lock()
	c.nodeCounts = nodeCounts
	c.relCounts = relCounts
	c.propCount = propCount
	c.countsMu.Unlock()
	return nil
}
