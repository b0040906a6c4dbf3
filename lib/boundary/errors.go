package boundary

import (
	"fmt"

	"github.com/ValentinKolb/nKV/lib/term"
)

// --------------------------------------------------------------------------
// Tags
// --------------------------------------------------------------------------

// Tag is the stable failure class visible to callers of the native module.
// Callers branch on the tag, never on the message text.
type Tag uint8

const (
	TagIO            Tag = iota + 1 // 1: filesystem or OS failure
	TagCorruption                   // 2: corrupt data detected while reading
	TagCollision                    // 3: retryable contention
	TagReportableBug                // 4: an engine invariant was violated
	TagUnsupported                  // 5: operation not supported by the current configuration
	TagConfig                       // 6: invalid configuration option
	TagWrongResource                // 7: a handle of the wrong kind (or a dead handle) was passed
	TagPanic                        // 8: a panic was caught at the call boundary
	TagBadArg                       // 9: an argument has the wrong shape
)

var tagAtoms = map[Tag]term.Atom{
	TagIO:            "io",
	TagCorruption:    "corruption",
	TagCollision:     "collision",
	TagReportableBug: "reportable_bug",
	TagUnsupported:   "unsupported",
	TagConfig:        "config",
	TagWrongResource: "wrong_resource",
	TagPanic:         "panic",
	TagBadArg:        "badarg",
}

// Atom returns the host atom of the tag
func (t Tag) Atom() term.Atom {
	if a, ok := tagAtoms[t]; ok {
		return a
	}
	return "unknown"
}

func (t Tag) String() string {
	return string(t.Atom())
}

// ParseTag returns the tag with the given atom
func ParseTag(a term.Atom) (Tag, bool) {
	for t, atom := range tagAtoms {
		if atom == a {
			return t, true
		}
	}
	return 0, false
}

// Tagged is implemented by errors of other packages that know their boundary tag
// (for example configuration validation errors).
type Tagged interface {
	BoundaryTag() Tag
}

// --------------------------------------------------------------------------
// Error Type
// --------------------------------------------------------------------------

// Error is the error returned by every operation of the native module
type Error struct {
	Tag   Tag    // The failure class
	Msg   string // The original diagnostic text
	Key   string // Offending option or argument (may be empty)
	Cause error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Tag, e.Msg, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is compares tags, so errors.Is(err, boundary.ErrPanic) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Tag == e.Tag && t.Msg == ""
}

// BoundaryTag implements Tagged
func (e *Error) BoundaryTag() Tag {
	return e.Tag
}

// NewError creates a new boundary error with the given tag and message.
func NewError(tag Tag, msg string) *Error {
	return &Error{
		Tag: tag,
		Msg: msg,
	}
}

// Tag sentinels for errors.Is
var (
	ErrIO            = &Error{Tag: TagIO}
	ErrCorruption    = &Error{Tag: TagCorruption}
	ErrCollision     = &Error{Tag: TagCollision}
	ErrReportableBug = &Error{Tag: TagReportableBug}
	ErrUnsupported   = &Error{Tag: TagUnsupported}
	ErrConfig        = &Error{Tag: TagConfig}
	ErrWrongResource = &Error{Tag: TagWrongResource}
	ErrPanic         = &Error{Tag: TagPanic}
	ErrBadArg        = &Error{Tag: TagBadArg}
)
