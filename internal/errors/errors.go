// Package errors provides error handling for mediacheck.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping,
// hints and details, marks) and declares the sentinel errors shared by the
// checker, the dispatcher and the batch controller.
//
// Usage:
//
//	if err := store.Upsert(ctx, j); err != nil {
//	    return errors.Wrap(err, "persist job")
//	}
//
//	if errors.Is(err, errors.ErrFileMissing) {
//	    // per-job failure, keep going
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
	Join         = crdb.Join
)

// User-facing messages and details
var (
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	WithDetail   = crdb.WithDetail
	WithDetailf  = crdb.WithDetailf
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Failure taxonomy. Per-job errors (file missing, tool failure, move) never
// abort a batch; ErrInvocation is the one environment-level condition.
var (
	// ErrFileMissing: the path was absent when the check was dispatched.
	ErrFileMissing = New("file not found")

	// ErrToolFailure: ffmpeg exited non-zero or wrote diagnostics.
	ErrToolFailure = New("verification tool reported a failure")

	// ErrInvocation: the external process could not be spawned at all.
	ErrInvocation = New("verification tool could not be invoked")

	// ErrToolNotFound: the ffmpeg binary is not on PATH or not executable.
	ErrToolNotFound = Mark(New("ffmpeg not found"), ErrInvocation)

	// ErrMove: a single file could not be moved.
	ErrMove = New("move failed")

	// ErrImport: a queue snapshot could not be read.
	ErrImport = New("import failed")
)

// Controller errors returned to collaborators.
var (
	ErrInvalidState    = New("operation not allowed in current state")
	ErrNothingToDo     = New("no matching jobs")
	ErrInvalidArgument = New("invalid argument")
	ErrToolUnavailable = New("verification tool unavailable")
	ErrRunActive       = New("a batch run is active")
	ErrClosed          = New("controller closed")
	ErrNotFound        = New("not found")
)
