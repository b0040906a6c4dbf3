/*
Package config validates database options and turns them into an immutable Config.

A Config is built from an option map (for example the map a host passes to config_new):

	cfg, err := config.New(map[string]any{
		"path":            "/data/nkv",
		"flush_every_ms":  1000,
		"use_compression": true,
	})

Recognised keys:

	path                   string   required
	cache_capacity         bytes    default 1 GiB
	flush_every_ms         ms|bool  default 500, 0 or false: every commit is durable
	use_compression        bool     default false
	compression_factor     int      default 5, 1..22
	compression_algorithm  string   zstd (default), lz4, snappy
	mode                   string   create_if_missing (default), open_existing, create_new
	segment_size           bytes    0 (os page size) or a power of two in 1 KiB..64 MiB
	print_profile_on_drop  bool     default false
	read_only              bool     default false
	temporary              bool     default false

Unknown keys are rejected before any value is decoded. Values are decoded with
mapstructure in weakly typed mode. All failures are *ValidationError values that name
the offending key and report the boundary tag config. Validation never touches the
filesystem: a Config only describes a database, opening it is the engine's job.
*/
package config
