package boundary

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/term"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/sourcegraph/conc/panics"
)

var Logger = logger.GetLogger("boundary")

// --------------------------------------------------------------------------
// Translation
// --------------------------------------------------------------------------

var kindTags = map[db.ErrorKind]Tag{
	db.KindIO:            TagIO,
	db.KindCorruption:    TagCorruption,
	db.KindCollision:     TagCollision,
	db.KindReportableBug: TagReportableBug,
	db.KindUnsupported:   TagUnsupported,
}

// Translate maps err to a *Error. nil stays nil.
//
// Engine errors keep their kind, errors implementing Tagged keep their tag and
// malformed arguments become TagBadArg. Everything else is an engine invariant
// violation from the caller's point of view and becomes TagReportableBug.
func Translate(err error) error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return be
	}

	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		tag, ok := kindTags[dbErr.Kind]
		if !ok {
			tag = TagReportableBug
		}
		return &Error{Tag: tag, Msg: dbErr.Error(), Cause: err}
	}

	var tagged Tagged
	if errors.As(err, &tagged) {
		e := &Error{Tag: tagged.BoundaryTag(), Msg: err.Error(), Cause: err}
		if k, ok := err.(interface{ OptionKey() string }); ok {
			e.Key = k.OptionKey()
		}
		return e
	}

	if errors.Is(err, term.ErrBadArg) {
		return &Error{Tag: TagBadArg, Msg: err.Error(), Cause: err}
	}

	Logger.Warningf("untyped error reached the boundary: %v", err)
	return &Error{Tag: TagReportableBug, Msg: err.Error(), Cause: err}
}

// TagOf returns the tag err translates to, or 0 for nil.
func TagOf(err error) Tag {
	if err == nil {
		return 0
	}
	var be *Error
	_ = errors.As(Translate(err), &be)
	return be.Tag
}

// --------------------------------------------------------------------------
// Panic isolation
// --------------------------------------------------------------------------

// Guard runs fn and returns its translated error. A panic inside fn is caught,
// logged with its stack and returned as a TagPanic error. It is never re-raised.
func Guard(fn func() error) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = fn() })

	if r := pc.Recovered(); r != nil {
		Logger.Errorf("panic at call boundary: %v\n%s", r.Value, r.Stack)
		return &Error{
			Tag:   TagPanic,
			Msg:   fmt.Sprintf("%v", r.Value),
			Cause: r.AsError(),
		}
	}
	return Translate(err)
}

// GuardValue is Guard for functions that produce a value.
func GuardValue[T any](fn func() (T, error)) (T, error) {
	var v T
	err := Guard(func() error {
		var err error
		v, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Results
// --------------------------------------------------------------------------

// OK wraps a successful result: {ok, v}
func OK(v term.Term) term.Tuple {
	return term.Tuple{term.OK, v}
}

// ToTerm converts err into a tagged failure result: {error, tag, <<detail>>}
func ToTerm(err error) term.Tuple {
	var be *Error
	if !errors.As(Translate(err), &be) {
		be = NewError(TagReportableBug, "missing error")
	}
	detail := be.Msg
	if be.Key != "" && !strings.Contains(detail, be.Key) {
		detail = fmt.Sprintf("%s (%s)", be.Msg, be.Key)
	}
	return term.Tuple{term.Error, be.Tag.Atom(), term.Binary(detail)}
}

// Result converts a (value, error) pair into {ok, v} or {error, tag, detail}
func Result(v term.Term, err error) term.Tuple {
	if err != nil {
		return ToTerm(err)
	}
	return OK(v)
}
