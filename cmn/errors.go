// Package cmn holds configuration and error types shared by every component
// of the frame-streaming pipeline.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package cmn

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel error kinds. Call sites compare with errors.Is; wrapped causes
// are preserved via pkg/errors so %+v still prints a stack when that's
// useful during incident response.
var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrDiskIO            = errors.New("disk I/O error")
	ErrLookaheadGiveup   = errors.New("tailer: stability/lookahead giveup")
	ErrNoLeader          = errors.New("aggregator: no leader elected")
	ErrDangerousPath     = errors.New("refusing to operate outside dest_base")
	ErrCounterContended  = errors.New("counter store: lock contended past retry budget")
	ErrConfig            = errors.New("invalid configuration")
)

// Wrap attaches a sentinel kind to a cause, preserving it for errors.Is while
// keeping the underlying error's message and (via pkg/errors) a stack trace.
// A nil cause is not mistaken for "no error": callers use it to synthesize a
// fresh error carrying only a kind and message (e.g. a cap violation with no
// underlying I/O error), so Wrap always returns a non-nil error.
func Wrap(kind error, cause error, msg string) error {
	if cause == nil {
		return &kindError{kind: kind, cause: pkgerrors.New(msg)}
	}
	return &kindError{kind: kind, cause: pkgerrors.Wrap(cause, msg)}
}

func Wrapf(kind error, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return &kindError{kind: kind, cause: pkgerrors.Errorf(format, args...)}
	}
	return &kindError{kind: kind, cause: pkgerrors.Wrapf(cause, format, args...)}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string { return e.cause.Error() }
func (e *kindError) Unwrap() error { return e.cause }
func (e *kindError) Is(target error) bool {
	return target == e.kind
}
