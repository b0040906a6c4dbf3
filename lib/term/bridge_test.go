package term

import (
	"bytes"
	"errors"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("a"),
		[]byte("hello world"),
		{0x00, 0xff, 0x00},
		bytes.Repeat([]byte{0xab}, 64*1024),
	}

	for _, in := range inputs {
		out, err := Decode(Encode(in))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !bytes.Equal(in, out) {
			t.Errorf("round trip mismatch for input of length %d", len(in))
		}
	}
}

func TestEncodeEmptyIsNotAbsence(t *testing.T) {
	enc := EncodeOptional([]byte{}, true)
	if IsNil(enc) {
		t.Fatalf("empty value encoded as absence")
	}
	b, ok := enc.(Binary)
	if !ok {
		t.Fatalf("expected binary, got %s", enc.Kind())
	}
	if b == nil || len(b) != 0 {
		t.Errorf("expected non-nil empty binary, got %#v", b)
	}

	if !IsNil(EncodeOptional(nil, false)) {
		t.Errorf("absent value must encode as nil atom")
	}
}

func TestEncodeCopies(t *testing.T) {
	engineBuf := []byte("engine-owned")
	enc := Encode(engineBuf)

	engineBuf[0] = 'X'
	if enc[0] != 'e' {
		t.Errorf("Encode must copy, host binary changed with engine buffer")
	}
}

func TestDecodeBorrows(t *testing.T) {
	host := Binary("host-owned")
	dec, err := Decode(host)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if &dec[0] != &host[0] {
		t.Errorf("Decode must not copy")
	}
}

func TestDecodeBadArg(t *testing.T) {
	for _, in := range []Term{Atom("x"), Integer(1), List{}, nil} {
		if _, err := Decode(in); !errors.Is(err, ErrBadArg) {
			t.Errorf("expected ErrBadArg for %v, got %v", in, err)
		}
	}
}

func TestDecodeString(t *testing.T) {
	s, err := DecodeString(Binary("tree"))
	if err != nil || s != "tree" {
		t.Errorf("unexpected result %q, %v", s, err)
	}

	s, err = DecodeString(Atom("tree"))
	if err != nil || s != "tree" {
		t.Errorf("unexpected result %q, %v", s, err)
	}

	if _, err := DecodeString(Binary{0xff, 0xfe}); !errors.Is(err, ErrBadArg) {
		t.Errorf("expected ErrBadArg for invalid utf-8, got %v", err)
	}
}

func TestMapToOptions(t *testing.T) {
	m := Map{
		"path":            Binary("/tmp/db"),
		"cache_capacity":  Integer(1024),
		"use_compression": True,
		"mode":            Atom("create_new"),
	}

	opts, err := m.ToOptions()
	if err != nil {
		t.Fatalf("ToOptions failed: %v", err)
	}

	if opts["path"] != "/tmp/db" {
		t.Errorf("path = %v", opts["path"])
	}
	if opts["cache_capacity"] != int64(1024) {
		t.Errorf("cache_capacity = %v", opts["cache_capacity"])
	}
	if opts["use_compression"] != true {
		t.Errorf("use_compression = %v", opts["use_compression"])
	}
	if opts["mode"] != "create_new" {
		t.Errorf("mode = %v", opts["mode"])
	}

	if _, err := (Map{"nested": Map{}}).ToOptions(); !errors.Is(err, ErrBadArg) {
		t.Errorf("expected ErrBadArg for nested map, got %v", err)
	}
}

func TestEncodeList(t *testing.T) {
	list := EncodeList([][]byte{[]byte("a"), {}, []byte("c")})
	if len(list) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(list))
	}
	if got := Format(list); got != `[<<"a">>, <<"">>, <<"c">>]` {
		t.Errorf("unexpected format %s", got)
	}
}
