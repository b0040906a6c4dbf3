package boundary

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/term"
)

type optionError struct{ key string }

func (e *optionError) Error() string    { return "unknown option " + e.key }
func (e *optionError) BoundaryTag() Tag { return TagConfig }
func (e *optionError) OptionKey() string {
	return e.key
}

func TestTranslateEngineKinds(t *testing.T) {
	cases := map[db.ErrorKind]Tag{
		db.KindIO:            TagIO,
		db.KindCorruption:    TagCorruption,
		db.KindCollision:     TagCollision,
		db.KindReportableBug: TagReportableBug,
		db.KindUnsupported:   TagUnsupported,
	}

	seen := make(map[Tag]bool)
	for kind, want := range cases {
		err := Translate(db.NewError(kind, "something failed", fs.ErrNotExist))
		if got := TagOf(err); got != want {
			t.Errorf("kind %s translated to %s, want %s", kind, got, want)
		}
		if seen[want] {
			t.Errorf("tag %s is used for more than one kind", want)
		}
		seen[want] = true

		// the original text survives as detail
		res := ToTerm(err)
		if detail := string(res[2].(term.Binary)); detail == "" {
			t.Errorf("detail for %s is empty", kind)
		}
	}
}

func TestTranslateKeepsWrappedEngineErrors(t *testing.T) {
	err := fmt.Errorf("opening tree: %w", db.NewError(db.KindCorruption, "bad header", nil))
	if TagOf(err) != TagCorruption {
		t.Errorf("wrapped engine error lost its kind: %v", Translate(err))
	}
}

func TestTranslateTagged(t *testing.T) {
	err := Translate(&optionError{key: "bogus_option"})

	var be *Error
	if !errors.As(err, &be) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if be.Tag != TagConfig || be.Key != "bogus_option" {
		t.Errorf("got tag %s key %q, want config bogus_option", be.Tag, be.Key)
	}
	if !errors.Is(err, ErrConfig) {
		t.Errorf("errors.Is(err, ErrConfig) should hold")
	}
}

func TestDetailNamesKeyOnce(t *testing.T) {
	res := ToTerm(&optionError{key: "bogus_option"})
	if detail := string(res[2].(term.Binary)); strings.Count(detail, "bogus_option") != 1 {
		t.Errorf("detail %q should name the key exactly once", detail)
	}

	// a message without the key gets it appended
	res = ToTerm(&Error{Tag: TagConfig, Msg: "rejected", Key: "mode"})
	if detail := string(res[2].(term.Binary)); detail != "rejected (mode)" {
		t.Errorf("detail = %q, want %q", detail, "rejected (mode)")
	}
}

func TestTranslateBadArgAndUnknown(t *testing.T) {
	if _, err := term.Decode(term.Integer(1)); TagOf(err) != TagBadArg {
		t.Errorf("term decoding error should translate to badarg, got %v", Translate(err))
	}
	if TagOf(errors.New("mystery")) != TagReportableBug {
		t.Errorf("unknown errors should translate to reportable_bug")
	}
	if Translate(nil) != nil {
		t.Errorf("nil must stay nil")
	}
}

func TestGuardCatchesPanic(t *testing.T) {
	err := Guard(func() error {
		var m map[string]int
		m["boom"] = 1
		return nil
	})
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected panic tag, got %v", err)
	}

	res := ToTerm(err)
	if res[0] != term.Error || res[1] != term.Atom("panic") {
		t.Errorf("unexpected result term %s", term.Format(res))
	}
}

func TestGuardValue(t *testing.T) {
	v, err := GuardValue(func() (int, error) { return 3, nil })
	if err != nil || v != 3 {
		t.Errorf("GuardValue = (%d, %v)", v, err)
	}

	v, err = GuardValue(func() (int, error) { panic("nope") })
	if v != 0 || !errors.Is(err, ErrPanic) {
		t.Errorf("GuardValue after panic = (%d, %v)", v, err)
	}
}

func TestResultTerms(t *testing.T) {
	ok := Result(term.Integer(5), nil)
	if ok[0] != term.OK || ok[1] != term.Integer(5) {
		t.Errorf("unexpected ok result %s", term.Format(ok))
	}

	failed := Result(nil, NewError(TagUnsupported, "read only"))
	if failed[0] != term.Error || failed[1] != term.Atom("unsupported") {
		t.Errorf("unexpected error result %s", term.Format(failed))
	}
}

func TestTagAtomsStable(t *testing.T) {
	want := map[Tag]term.Atom{
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
	for tag, atom := range want {
		if tag.Atom() != atom {
			t.Errorf("tag %d has atom %s, want %s", tag, tag.Atom(), atom)
		}
		if parsed, ok := ParseTag(atom); !ok || parsed != tag {
			t.Errorf("ParseTag(%s) = %d, %v", atom, parsed, ok)
		}
	}
}
