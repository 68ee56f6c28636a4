// Package config defines the engine's embeddable configuration surface
// (spec §6.1). No file-format parsing (YAML/TOML/flags) lives here: that
// is an external-collaborator concern (spec §1); callers construct a
// Config value programmatically, typically starting from DefaultConfig.
package config

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"
)

// VectorMetric selects the distance function used by the HNSW index.
type VectorMetric uint8

const (
	Cosine VectorMetric = iota
	Euclidean
)

func (m VectorMetric) String() string {
	if m == Euclidean {
		return "euclidean"
	}
	return "cosine"
}

// Config is the full set of options recognized by engine.Open (spec
// §6.1). Size-like fields accept datasize.ByteSize so callers can write
// "512MiB" instead of computing a page count by hand; PageCacheCapacity()
// does that conversion.
type Config struct {
	PageSizeBytes int // fixed at 8192 for the MVP; kept as a field for forward compatibility.

	PageCacheBudget datasize.ByteSize // converted to a page count against PageSizeBytes.
	MaxDirtyPages   int

	WALFsyncOnCommit bool
	AsyncWALBatch    int
	AsyncWALFlushMS  int

	IndexHNSWM             int
	IndexHNSWEfConstruction int
	IndexHNSWEfSearch      int
	VectorMetric           VectorMetric

	EnableNUMAAffinity bool

	PlanCacheSize int // parsed-query LRU entries; 0 disables the cache.

	BlobCompressionMinBytes int // blobs at or above this size are zstd-compressed at rest; 0 compresses every blob.

	Logger *zap.Logger // nil => a rotating file logger under <data_dir>/log is created.
}

// DefaultConfig returns the option defaults enumerated in spec §6.1.
func DefaultConfig() Config {
	return Config{
		PageSizeBytes:           8192,
		PageCacheBudget:         512 * datasize.MB,
		MaxDirtyPages:           4096,
		WALFsyncOnCommit:        true,
		AsyncWALBatch:           0,
		AsyncWALFlushMS:         0,
		IndexHNSWM:              16,
		IndexHNSWEfConstruction: 200,
		IndexHNSWEfSearch:       100,
		VectorMetric:            Cosine,
		EnableNUMAAffinity:      false,
		PlanCacheSize:           256,
		BlobCompressionMinBytes: 256,
	}
}

// PageCacheCapacityPages returns the configured page-cache budget
// expressed in pages, rounding down to whole pages.
func (c Config) PageCacheCapacityPages() int {
	if c.PageSizeBytes <= 0 {
		return 0
	}
	return int(uint64(c.PageCacheBudget) / uint64(c.PageSizeBytes))
}

// Validate rejects configurations the engine cannot safely open with.
func (c Config) Validate() error {
	if c.PageSizeBytes != 8192 {
		return fmt.Errorf("config: page_size_bytes must be 8192, got %d", c.PageSizeBytes)
	}
	if c.PageCacheCapacityPages() < 16 {
		return fmt.Errorf("config: page_cache_capacity_pages too small: %d", c.PageCacheCapacityPages())
	}
	if c.MaxDirtyPages <= 0 {
		return fmt.Errorf("config: max_dirty_pages must be positive")
	}
	if c.IndexHNSWM <= 0 || c.IndexHNSWEfConstruction <= 0 || c.IndexHNSWEfSearch <= 0 {
		return fmt.Errorf("config: hnsw parameters must be positive")
	}
	if c.PlanCacheSize < 0 {
		return fmt.Errorf("config: plan_cache_size must not be negative")
	}
	if c.BlobCompressionMinBytes < 0 {
		return fmt.Errorf("config: blob_compression_min_bytes must not be negative")
	}
	return nil
}
