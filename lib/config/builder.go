package config

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/go-viper/mapstructure/v2"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultCacheCapacity     = 1 << 30 // 1 GiB
	DefaultFlushEveryMs      = 500
	DefaultCompressionFactor = 5

	minCompressionFactor = 1
	maxCompressionFactor = 22
	minSegmentSize       = 1 << 10 // 1 KiB
	maxSegmentSize       = 1 << 26 // 64 MiB
)

// Option keys
const (
	KeyPath                 = "path"
	KeyCacheCapacity        = "cache_capacity"
	KeyFlushEveryMs         = "flush_every_ms"
	KeyUseCompression       = "use_compression"
	KeyCompressionFactor    = "compression_factor"
	KeyCompressionAlgorithm = "compression_algorithm"
	KeyMode                 = "mode"
	KeySegmentSize          = "segment_size"
	KeyPrintProfileOnDrop   = "print_profile_on_drop"
	KeyReadOnly             = "read_only"
	KeyTemporary            = "temporary"
)

// Keys lists every recognised option key in a stable order
var Keys = []string{
	KeyPath,
	KeyCacheCapacity,
	KeyFlushEveryMs,
	KeyUseCompression,
	KeyCompressionFactor,
	KeyCompressionAlgorithm,
	KeyMode,
	KeySegmentSize,
	KeyPrintProfileOnDrop,
	KeyReadOnly,
	KeyTemporary,
}

var knownKeys = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Keys))
	for _, k := range Keys {
		m[k] = struct{}{}
	}
	return m
}()

// --------------------------------------------------------------------------
// Validation Error
// --------------------------------------------------------------------------

// ValidationError is returned for unknown option keys and invalid option values
type ValidationError struct {
	Key    string // offending option key
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid option %q: %s", e.Key, e.Reason)
}

// BoundaryTag implements boundary.Tagged
func (e *ValidationError) BoundaryTag() boundary.Tag {
	return boundary.TagConfig
}

// OptionKey returns the offending key
func (e *ValidationError) OptionKey() string {
	return e.Key
}

// --------------------------------------------------------------------------
// Config
// --------------------------------------------------------------------------

// rawOptions is the decoding target. Numbers are signed so negative input can be rejected.
type rawOptions struct {
	Path                 string `mapstructure:"path"`
	CacheCapacity        int64  `mapstructure:"cache_capacity"`
	FlushEveryMs         int64  `mapstructure:"flush_every_ms"`
	UseCompression       bool   `mapstructure:"use_compression"`
	CompressionFactor    int64  `mapstructure:"compression_factor"`
	CompressionAlgorithm string `mapstructure:"compression_algorithm"`
	Mode                 string `mapstructure:"mode"`
	SegmentSize          int64  `mapstructure:"segment_size"`
	PrintProfileOnDrop   bool   `mapstructure:"print_profile_on_drop"`
	ReadOnly             bool   `mapstructure:"read_only"`
	Temporary            bool   `mapstructure:"temporary"`
}

func defaultRawOptions() rawOptions {
	return rawOptions{
		CacheCapacity:        DefaultCacheCapacity,
		FlushEveryMs:         DefaultFlushEveryMs,
		CompressionFactor:    DefaultCompressionFactor,
		CompressionAlgorithm: db.CompressionZstd.String(),
		Mode:                 db.CreateIfMissing.String(),
	}
}

// Config is a validated, immutable set of database options.
// It can be used to open any number of databases.
type Config struct {
	opts db.Options
}

// New validates the option map and builds a Config. It never touches the filesystem.
//
// Unknown keys are rejected before any value is decoded. Values are decoded weakly
// typed, so "500" is accepted for an integer option. flush_every_ms also accepts
// false (no background flush) and true (default interval).
func New(options map[string]any) (*Config, error) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, ok := knownKeys[k]; !ok {
			return nil, &ValidationError{Key: k, Reason: "unknown option"}
		}
	}

	raw := defaultRawOptions()
	for _, k := range keys {
		v := options[k]
		if k == KeyFlushEveryMs {
			if b, ok := v.(bool); ok && b {
				v = DefaultFlushEveryMs
			}
		}
		if err := decodeOne(k, v, &raw); err != nil {
			return nil, &ValidationError{Key: k, Reason: err.Error()}
		}
	}

	opts, err := raw.validate()
	if err != nil {
		return nil, err
	}
	return &Config{opts: opts}, nil
}

// Default returns the configuration used when a database is opened by path only
func Default(path string) (*Config, error) {
	return New(map[string]any{KeyPath: path})
}

// FromOptions builds a Config from engine options (used by tools that already
// hold db.Options). The options are validated like an option map.
func FromOptions(opts db.Options) (*Config, error) {
	return New(map[string]any{
		KeyPath:                 opts.Path,
		KeyCacheCapacity:        opts.CacheCapacity,
		KeyFlushEveryMs:         opts.FlushEvery.Milliseconds(),
		KeyUseCompression:       opts.UseCompression,
		KeyCompressionFactor:    opts.CompressionFactor,
		KeyCompressionAlgorithm: opts.Compression.String(),
		KeyMode:                 opts.Mode.String(),
		KeySegmentSize:          opts.SegmentSize,
		KeyPrintProfileOnDrop:   opts.PrintProfileOnDrop,
		KeyReadOnly:             opts.ReadOnly,
		KeyTemporary:            opts.Temporary,
	})
}

// decodeOne decodes a single option into raw so that errors can name their key
func decodeOne(key string, value any, raw *rawOptions) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           raw,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any{key: value}); err != nil {
		return fmt.Errorf("cannot decode value %v: %w", value, err)
	}
	return nil
}

func (r rawOptions) validate() (db.Options, error) {
	opts := db.Options{
		Path:               strings.TrimSpace(r.Path),
		UseCompression:     r.UseCompression,
		PrintProfileOnDrop: r.PrintProfileOnDrop,
		ReadOnly:           r.ReadOnly,
		Temporary:          r.Temporary,
	}

	if opts.Path == "" {
		return opts, &ValidationError{Key: KeyPath, Reason: "path is required"}
	}

	if r.CacheCapacity < 0 {
		return opts, &ValidationError{Key: KeyCacheCapacity, Reason: "must not be negative"}
	}
	opts.CacheCapacity = uint64(r.CacheCapacity)

	if r.FlushEveryMs < 0 {
		return opts, &ValidationError{Key: KeyFlushEveryMs, Reason: "must not be negative"}
	}
	opts.FlushEvery = time.Duration(r.FlushEveryMs) * time.Millisecond

	if r.CompressionFactor < minCompressionFactor || r.CompressionFactor > maxCompressionFactor {
		return opts, &ValidationError{
			Key:    KeyCompressionFactor,
			Reason: fmt.Sprintf("must be between %d and %d", minCompressionFactor, maxCompressionFactor),
		}
	}
	opts.CompressionFactor = int(r.CompressionFactor)

	switch strings.ToLower(r.CompressionAlgorithm) {
	case "zstd":
		opts.Compression = db.CompressionZstd
	case "lz4":
		opts.Compression = db.CompressionLZ4
	case "snappy":
		opts.Compression = db.CompressionSnappy
	default:
		return opts, &ValidationError{Key: KeyCompressionAlgorithm, Reason: "must be one of zstd, lz4, snappy"}
	}

	switch strings.ToLower(r.Mode) {
	case "create_if_missing":
		opts.Mode = db.CreateIfMissing
	case "open_existing":
		opts.Mode = db.OpenExisting
	case "create_new":
		opts.Mode = db.CreateNew
	default:
		return opts, &ValidationError{Key: KeyMode, Reason: "must be one of create_if_missing, open_existing, create_new"}
	}

	if r.SegmentSize != 0 {
		if r.SegmentSize < minSegmentSize || r.SegmentSize > maxSegmentSize || bits.OnesCount64(uint64(r.SegmentSize)) != 1 {
			return opts, &ValidationError{Key: KeySegmentSize, Reason: "must be a power of two between 1 KiB and 64 MiB"}
		}
	}
	opts.SegmentSize = int(r.SegmentSize)

	if opts.ReadOnly && opts.Mode == db.CreateNew {
		return opts, &ValidationError{Key: KeyReadOnly, Reason: "cannot be combined with mode create_new"}
	}
	if opts.ReadOnly && opts.Temporary {
		return opts, &ValidationError{Key: KeyReadOnly, Reason: "cannot be combined with temporary"}
	}

	return opts, nil
}

// Options returns the engine options described by the configuration
func (c *Config) Options() db.Options {
	return c.opts
}

// Path returns the configured database path
func (c *Config) Path() string {
	return c.opts.Path
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	o := c.opts

	addSection("Storage")
	addField("Path", o.Path)
	addField("Mode", o.Mode.String())
	addField("Read Only", fmt.Sprintf("%t", o.ReadOnly))
	addField("Temporary", fmt.Sprintf("%t", o.Temporary))
	if o.SegmentSize > 0 {
		addField("Segment Size", fmt.Sprintf("%d bytes", o.SegmentSize))
	} else {
		addField("Segment Size", "os default")
	}

	addSection("Durability")
	if o.FlushEvery > 0 {
		addField("Flush Every", o.FlushEvery.String())
	} else {
		addField("Flush Every", "every commit")
	}
	addField("Cache Capacity", fmt.Sprintf("%d bytes", o.CacheCapacity))

	addSection("Compression")
	addField("Enabled", fmt.Sprintf("%t", o.UseCompression))
	if o.UseCompression {
		addField("Algorithm", o.Compression.String())
		addField("Factor", fmt.Sprintf("%d", o.CompressionFactor))
	}

	addSection("Diagnostics")
	addField("Print Profile On Drop", fmt.Sprintf("%t", o.PrintProfileOnDrop))

	return sb.String()
}
