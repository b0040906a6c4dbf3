package term

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrBadArg is returned when a term does not have the shape an operation expects.
var ErrBadArg = errors.New("bad argument")

// badArg wraps ErrBadArg with a description of the offending term
func badArg(want string, got Term) error {
	if got == nil {
		return fmt.Errorf("%w: expected %s, got nothing", ErrBadArg, want)
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrBadArg, want, got.Kind())
}

// --------------------------------------------------------------------------
// Host -> Engine
// --------------------------------------------------------------------------

// Decode borrows the bytes of a binary term.
// The returned slice aliases the host buffer: it must not be retained or
// modified after the call that received the term returns.
func Decode(t Term) ([]byte, error) {
	b, ok := t.(Binary)
	if !ok {
		return nil, badArg("binary", t)
	}
	return b, nil
}

// DecodeString decodes a binary (which must be valid UTF-8) or an atom into a string.
func DecodeString(t Term) (string, error) {
	switch v := t.(type) {
	case Binary:
		if !utf8.Valid(v) {
			return "", fmt.Errorf("%w: binary is not valid utf-8", ErrBadArg)
		}
		return string(v), nil
	case Atom:
		return string(v), nil
	default:
		return "", badArg("string", t)
	}
}

// DecodeMap decodes an option map
func DecodeMap(t Term) (Map, error) {
	m, ok := t.(Map)
	if !ok {
		return nil, badArg("map", t)
	}
	return m, nil
}

// ToOptions converts the map into plain Go values so it can be fed to a decoder.
// Binaries become strings, integers int64, true/false atoms bools, other atoms strings
// and lists []any.
func (m Map) ToOptions() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		plain, err := toPlain(v)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", k, err)
		}
		out[string(k)] = plain
	}
	return out, nil
}

func toPlain(t Term) (any, error) {
	switch v := t.(type) {
	case Binary:
		return string(v), nil
	case Integer:
		return int64(v), nil
	case Atom:
		switch v {
		case True:
			return true, nil
		case False:
			return false, nil
		default:
			return string(v), nil
		}
	case List:
		out := make([]any, 0, len(v))
		for _, e := range v {
			plain, err := toPlain(e)
			if err != nil {
				return nil, err
			}
			out = append(out, plain)
		}
		return out, nil
	default:
		return nil, badArg("binary, integer, atom or list", t)
	}
}

// --------------------------------------------------------------------------
// Engine -> Host
// --------------------------------------------------------------------------

// Encode copies an engine-owned byte sequence into a new host-owned binary.
// An empty input yields an empty (non-nil) binary, never the nil atom.
func Encode(b []byte) Binary {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// EncodeOptional encodes a value that may be absent. Absence is the nil atom.
func EncodeOptional(b []byte, found bool) Term {
	if !found {
		return Nil
	}
	return Encode(b)
}

// EncodeList encodes a sequence of byte sequences as a list of binaries.
func EncodeList(items [][]byte) List {
	out := make(List, 0, len(items))
	for _, item := range items {
		out = append(out, Encode(item))
	}
	return out
}
