package exec

import "github.com/graphcore/engine/internal/xerrors"

// Operator is the pull-based (open/next/close) interface every
// pipeline stage implements (spec §4.9 "Model").
type Operator interface {
	Open(ctx *Ctx) error
	Next() (Row, bool, error)
	Close() error
}

func checkCancel(ctx *Ctx) error {
	if ctx.Cancel.Cancelled() {
		return xerrors.New(xerrors.Cancelled, "exec.Next", nil)
	}
	return nil
}
