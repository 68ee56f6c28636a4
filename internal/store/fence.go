package store

import "sync/atomic"

// fenceCounter exists only so fenceSeqCst has something to atomically
// touch: as of the Go 1.19 memory model, sync/atomic operations are
// sequentially consistent, so a throwaway atomic add is a portable
// stand-in for an explicit seq-cst fence instruction. This backs the
// adjacency-chain memory-ordering contract of spec §4.3.
var fenceCounter int64

func fenceSeqCst() {
	atomic.AddInt64(&fenceCounter, 1)
}
