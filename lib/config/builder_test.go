package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/db"
)

func TestDefaults(t *testing.T) {
	cfg, err := Default("/tmp/nkv-defaults")
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	o := cfg.Options()
	if o.Path != "/tmp/nkv-defaults" {
		t.Errorf("Path = %q", o.Path)
	}
	if o.CacheCapacity != DefaultCacheCapacity {
		t.Errorf("CacheCapacity = %d", o.CacheCapacity)
	}
	if o.FlushEvery != 500*time.Millisecond {
		t.Errorf("FlushEvery = %s", o.FlushEvery)
	}
	if o.UseCompression || o.Compression != db.CompressionZstd || o.CompressionFactor != DefaultCompressionFactor {
		t.Errorf("unexpected compression defaults: %+v", o)
	}
	if o.Mode != db.CreateIfMissing || o.ReadOnly || o.Temporary {
		t.Errorf("unexpected mode defaults: %+v", o)
	}
}

func TestUnknownKeyTouchesNoFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	_, err := New(map[string]any{
		"path":         path,
		"bogus_option": 1,
	})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Key != "bogus_option" {
		t.Errorf("Key = %q, want bogus_option", ve.Key)
	}
	if boundary.TagOf(err) != boundary.TagConfig {
		t.Errorf("expected config tag, got %s", boundary.TagOf(err))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("config validation created files: %v", entries)
	}
}

func TestUnknownKeyCheckedBeforeValues(t *testing.T) {
	// the invalid value of a known key must not hide the unknown key
	_, err := New(map[string]any{
		"compression_factor": "not a number",
		"zzz":                true,
	})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Key != "zzz" {
		t.Errorf("expected unknown key zzz to be reported, got %v", err)
	}
}

func TestWeaklyTypedValues(t *testing.T) {
	cfg, err := New(map[string]any{
		"path":                  "/data/nkv",
		"cache_capacity":        "1048576",
		"flush_every_ms":        int64(250),
		"use_compression":       "true",
		"compression_factor":    9,
		"compression_algorithm": "LZ4",
		"mode":                  "open_existing",
		"segment_size":          4096,
		"print_profile_on_drop": true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	o := cfg.Options()
	if o.CacheCapacity != 1<<20 {
		t.Errorf("CacheCapacity = %d", o.CacheCapacity)
	}
	if o.FlushEvery != 250*time.Millisecond {
		t.Errorf("FlushEvery = %s", o.FlushEvery)
	}
	if !o.UseCompression || o.CompressionFactor != 9 || o.Compression != db.CompressionLZ4 {
		t.Errorf("unexpected compression options: %+v", o)
	}
	if o.Mode != db.OpenExisting || o.SegmentSize != 4096 || !o.PrintProfileOnDrop {
		t.Errorf("unexpected options: %+v", o)
	}
}

func TestFlushEveryAcceptsBool(t *testing.T) {
	cfg, err := New(map[string]any{"path": "x", "flush_every_ms": false})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Options().FlushEvery != 0 {
		t.Errorf("false should disable the background flush, got %s", cfg.Options().FlushEvery)
	}

	cfg, err = New(map[string]any{"path": "x", "flush_every_ms": true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Options().FlushEvery != DefaultFlushEveryMs*time.Millisecond {
		t.Errorf("true should keep the default interval, got %s", cfg.Options().FlushEvery)
	}
}

func TestInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		options map[string]any
		key     string
	}{
		{"missing path", map[string]any{}, KeyPath},
		{"blank path", map[string]any{"path": "  "}, KeyPath},
		{"negative capacity", map[string]any{"path": "x", "cache_capacity": -1}, KeyCacheCapacity},
		{"negative flush", map[string]any{"path": "x", "flush_every_ms": -5}, KeyFlushEveryMs},
		{"factor too small", map[string]any{"path": "x", "compression_factor": 0}, KeyCompressionFactor},
		{"factor too large", map[string]any{"path": "x", "compression_factor": 23}, KeyCompressionFactor},
		{"unknown algorithm", map[string]any{"path": "x", "compression_algorithm": "brotli"}, KeyCompressionAlgorithm},
		{"unknown mode", map[string]any{"path": "x", "mode": "sometimes"}, KeyMode},
		{"segment not power of two", map[string]any{"path": "x", "segment_size": 3000}, KeySegmentSize},
		{"segment too small", map[string]any{"path": "x", "segment_size": 512}, KeySegmentSize},
		{"read only create new", map[string]any{"path": "x", "read_only": true, "mode": "create_new"}, KeyReadOnly},
		{"read only temporary", map[string]any{"path": "x", "read_only": true, "temporary": true}, KeyReadOnly},
		{"undecodable", map[string]any{"path": "x", "use_compression": "maybe"}, KeyUseCompression},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.options)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Key != tc.key {
				t.Errorf("Key = %q, want %q", ve.Key, tc.key)
			}
		})
	}
}

func TestFromOptionsRoundTrip(t *testing.T) {
	orig, err := New(map[string]any{
		"path":                  "/data/nkv",
		"use_compression":       true,
		"compression_algorithm": "snappy",
		"temporary":             true,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	copied, err := FromOptions(orig.Options())
	if err != nil {
		t.Fatalf("FromOptions failed: %v", err)
	}
	if copied.Options() != orig.Options() {
		t.Errorf("options differ:\n%+v\n%+v", copied.Options(), orig.Options())
	}
}

func TestString(t *testing.T) {
	cfg, _ := New(map[string]any{"path": "/data/nkv", "use_compression": true})
	s := cfg.String()
	for _, want := range []string{"STORAGE", "/data/nkv", "COMPRESSION", "zstd"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() misses %q:\n%s", want, s)
		}
	}
}
