// Package cmd implements the command-line interface of nKV. It works on local
// databases through the operation façade (lib/native), exactly like an embedding
// host would.
//
// The package is organized into several subpackages:
//
//   - db: Commands working on a whole database (info, checksum, trees, drop-tree, recovered)
//   - tree: Key-value operations on one tree (get, insert, remove, flush, checksum)
//   - perf: The performance testing tool and the metrics dump
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through the environment as NKV_<FLAG> (e.g.
// NKV_FLUSH_EVERY_MS=0), .env and .env.local files are loaded on start.
//
// See nkv -help for a list of all commands.
package cmd
