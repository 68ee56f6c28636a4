package store

import (
	"math"

	"go.uber.org/zap"

	"github.com/graphcore/engine/internal/pagecache"
	"github.com/graphcore/engine/internal/xerrors"
)

// AliveDeletedEpoch is the deleted_epoch sentinel meaning "not deleted"
// (spec §3.1 "sentinel ∞ while alive").
const AliveDeletedEpoch = math.MaxUint64

const epochRecordSize = 16 // created_epoch:u64 | deleted_epoch:u64

// epochSidecar stores {created_epoch, deleted_epoch} per slot, indexed
// identically to the owning node/relationship store.
//
// The spec's bit-exact node (32B) and relationship (48B) record layouts
// (§6.2) leave a single flags field (u64 / u32 respectively) to carry
// "created/deleted epochs and status bits" together; two full 64-bit
// epochs do not fit alongside a label bitmap and two/three pointer
// fields in that budget. This store resolves that by keeping the two
// epochs in a side file per record store and using the in-record flags
// field for status bits only (in-use/deleted/locked/version-bits).
type epochSidecar struct {
	pages *pagecache.PagedStore
}

func openEpochSidecar(dir, name string, capacityPages, maxDirty int, log *zap.Logger) (*epochSidecar, error) {
	p, err := pagecache.Open(dir, name, capacityPages, maxDirty, log)
	if err != nil {
		return nil, err
	}
	return &epochSidecar{pages: p}, nil
}

func (e *epochSidecar) offset(slot uint64) int64 { return int64(slot) * epochRecordSize }

func (e *epochSidecar) stampCreated(slot, createdEpoch uint64) error {
	buf := make([]byte, epochRecordSize)
	le.PutUint64(buf[0:8], createdEpoch)
	le.PutUint64(buf[8:16], AliveDeletedEpoch)
	return e.pages.WriteAt(e.offset(slot), buf)
}

func (e *epochSidecar) markDeleted(slot, deletedEpoch uint64) error {
	buf := make([]byte, 8)
	le.PutUint64(buf, deletedEpoch)
	return e.pages.WriteAt(e.offset(slot)+8, buf)
}

func (e *epochSidecar) read(slot uint64) (created, deleted uint64, err error) {
	buf := make([]byte, epochRecordSize)
	if err := e.pages.ReadAt(e.offset(slot), buf); err != nil {
		return 0, 0, err
	}
	return le.Uint64(buf[0:8]), le.Uint64(buf[8:16]), nil
}

// visibleAt implements the visibility rule of spec §3.2/§4.5:
// created_epoch <= readEpoch < deleted_epoch.
func (e *epochSidecar) visibleAt(slot, readEpoch uint64) (bool, error) {
	created, deleted, err := e.read(slot)
	if err != nil {
		return false, err
	}
	return created <= readEpoch && readEpoch < deleted, nil
}

func (e *epochSidecar) close() error { return e.pages.Close() }

func errOutOfBounds(op string, slot uint64) error {
	return xerrors.New(xerrors.RecordOutOfBounds, op, nil).With("slot", slot)
}
