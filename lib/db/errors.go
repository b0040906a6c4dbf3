package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// ErrorKind classifies engine failures
type ErrorKind uint8

const (
	KindIO            ErrorKind = iota + 1 // 1: filesystem or OS failure
	KindCorruption                         // 2: data corruption detected during a read
	KindCollision                          // 3: contention, the operation can be retried
	KindReportableBug                      // 4: an internal engine invariant was violated
	KindUnsupported                        // 5: operation not supported for the current configuration
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindCorruption:
		return "Corruption"
	case KindCollision:
		return "Collision"
	case KindReportableBug:
		return "ReportableBug"
	case KindUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by engines.
type Error struct {
	Kind ErrorKind // The failure class
	Msg  string    // Human-readable description
	Err  error     // Underlying cause (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("engine %s error: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind, so errors.Is(err, db.ErrCorruption) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && t.Msg == ""
	}
	return false
}

// NewError creates a new engine error of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{
		Kind: kind,
		Msg:  msg,
		Err:  cause,
	}
}

// Kind sentinels for errors.Is
var (
	ErrIO            = &Error{Kind: KindIO}
	ErrCorruption    = &Error{Kind: KindCorruption}
	ErrCollision     = &Error{Kind: KindCollision}
	ErrReportableBug = &Error{Kind: KindReportableBug}
	ErrUnsupported   = &Error{Kind: KindUnsupported}
)

// KindOf returns the kind of an engine error or 0 if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
