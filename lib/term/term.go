package term

import (
	"fmt"
	"strings"
)

// --------------------------------------------------------------------------
// Term Kinds
// --------------------------------------------------------------------------

// Kind identifies the shape of a host term
type Kind uint8

const (
	KindBinary   Kind = iota // raw byte sequence
	KindAtom                 // interned symbol (nil, true, ok, ...)
	KindInteger              // signed integer
	KindList                 // ordered sequence of terms
	KindTuple                // fixed-size group of terms
	KindMap                  // atom keyed option map
	KindResource             // opaque handle owned by a resource registry
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindAtom:
		return "atom"
	case KindInteger:
		return "integer"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindMap:
		return "map"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Term is a value that can cross the boundary between the host runtime and
// the binding layer. Resource handles implement Term as well.
type Term interface {
	Kind() Kind
}

// --------------------------------------------------------------------------
// Concrete Terms
// --------------------------------------------------------------------------

// Binary is a host-owned byte sequence.
type Binary []byte

// Atom is a host symbol.
type Atom string

// Integer is a host integer.
type Integer int64

// List is an ordered sequence of terms.
type List []Term

// Tuple is a fixed-size group of terms.
type Tuple []Term

// Map is an option map keyed by atoms.
type Map map[Atom]Term

func (Binary) Kind() Kind  { return KindBinary }
func (Atom) Kind() Kind    { return KindAtom }
func (Integer) Kind() Kind { return KindInteger }
func (List) Kind() Kind    { return KindList }
func (Tuple) Kind() Kind   { return KindTuple }
func (Map) Kind() Kind     { return KindMap }

// Well known atoms
const (
	Nil   Atom = "nil"
	True  Atom = "true"
	False Atom = "false"
	OK    Atom = "ok"
	Error Atom = "error"
)

// Bool converts a Go bool into the matching atom
func Bool(b bool) Atom {
	if b {
		return True
	}
	return False
}

// IsNil reports whether t is the nil atom (absence)
func IsNil(t Term) bool {
	a, ok := t.(Atom)
	return ok && a == Nil
}

// --------------------------------------------------------------------------
// Formatting
// --------------------------------------------------------------------------

// Format renders a term in a compact, human-readable form (used by the CLI and in error messages)
func Format(t Term) string {
	var sb strings.Builder
	format(&sb, t)
	return sb.String()
}

func format(sb *strings.Builder, t Term) {
	switch v := t.(type) {
	case nil:
		sb.WriteString("<nil>")
	case Binary:
		sb.WriteString(fmt.Sprintf("<<%q>>", []byte(v)))
	case Atom:
		sb.WriteString(string(v))
	case Integer:
		sb.WriteString(fmt.Sprintf("%d", int64(v)))
	case List:
		sb.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, e)
		}
		sb.WriteByte(']')
	case Tuple:
		sb.WriteByte('{')
		for i, e := range v {
			if i > 0 {
				sb.WriteString(", ")
			}
			format(sb, e)
		}
		sb.WriteByte('}')
	case Map:
		sb.WriteString("%{")
		first := true
		for k, e := range v {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(string(k))
			sb.WriteString(": ")
			format(sb, e)
		}
		sb.WriteByte('}')
	default:
		if s, ok := t.(fmt.Stringer); ok {
			sb.WriteString(s.String())
			return
		}
		sb.WriteString(fmt.Sprintf("#%s", t.Kind()))
	}
}
