// Package xerrors implements the engine's uniform tagged error model: a
// closed set of error kinds plus short operation/context propagation, so
// that callers can branch on *kind* without parsing message strings.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed taxonomy of engine error categories (see spec §7).
// Kind values are never used for happy-path control flow; every kind is
// either a hard failure surfaced to the caller or an empty-result case
// represented without an error at all.
type Kind uint8

const (
	Unknown Kind = iota
	CatalogMissing
	CatalogCorrupt
	RecordOutOfBounds
	RecordCorrupt
	FileGrowthFailed
	PageChecksum
	CacheExhausted
	WalCorrupt
	WalTruncated
	WalFsyncFailed
	TxnConflict
	TxnAborted
	TxnCancelled
	IndexMissing
	IndexCorrupt
	IndexBuildFailed
	ParseError
	PlanError
	EvalError
	ConstraintViolated
	Cancelled
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	CatalogMissing:     "catalog_missing",
	CatalogCorrupt:     "catalog_corrupt",
	RecordOutOfBounds:  "record_out_of_bounds",
	RecordCorrupt:      "record_corrupt",
	FileGrowthFailed:   "file_growth_failed",
	PageChecksum:       "page_checksum",
	CacheExhausted:     "cache_exhausted",
	WalCorrupt:         "wal_corrupt",
	WalTruncated:       "wal_truncated",
	WalFsyncFailed:     "wal_fsync_failed",
	TxnConflict:        "txn_conflict",
	TxnAborted:         "txn_aborted",
	TxnCancelled:       "txn_cancelled",
	IndexMissing:       "index_missing",
	IndexCorrupt:       "index_corrupt",
	IndexBuildFailed:   "index_build_failed",
	ParseError:         "parse_error",
	PlanError:          "plan_error",
	EvalError:          "eval_error",
	ConstraintViolated: "constraint_violated",
	Cancelled:          "cancelled",
	Timeout:            "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the engine's wrapped error type: a kind, the failing operation
// name, optional key/value context, and the underlying cause (captured
// with a stack trace via pkg/errors).
type Error struct {
	Kind Kind
	Op   string
	ctx  []kv
	Err  error
}

type kv struct {
	key string
	val interface{}
}

// New builds an Error of the given kind for operation op, wrapping cause.
// cause may be nil for errors that originate here (e.g. a checksum
// mismatch detected in-line).
func New(k Kind, op string, cause error) *Error {
	e := &Error{Kind: k, Op: op}
	if cause != nil {
		e.Err = errors.WithStack(cause)
	} else {
		e.Err = errors.New(k.String())
	}
	return e
}

// With attaches a key/value pair of diagnostic context (e.g. "page_id",
// 42) and returns the receiver for chaining.
func (e *Error) With(key string, val interface{}) *Error {
	e.ctx = append(e.ctx, kv{key, val})
	return e
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	for _, c := range e.ctx {
		s += fmt.Sprintf(" %s=%v", c.key, c.val)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given Kind, so that callers can
// write errors.Is(err, xerrors.Sentinel(xerrors.PageChecksum))-style
// checks against the sentinel Kind values below.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && e.Kind == Kind(k)
}

type kindSentinel Kind

// Sentinel returns a comparison target usable with errors.Is, e.g.
// errors.Is(err, xerrors.Sentinel(xerrors.PageChecksum)).
func Sentinel(k Kind) error { return kindSentinel(k) }

func (s kindSentinel) Error() string { return Kind(s).String() }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, else Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
