// Package testing provides standardised tests and benchmarks for
// engine implementations that satisfy the db.Engine interface.
//
// The package contains:
//   - testing: A conformance suite for the Database and Tree contracts (upserts, absence,
//     tree lifecycle, checksums, reference counting, create modes, read only and
//     temporary databases, concurrent writers)
//   - benchmark: Performance tests for measuring throughput of common tree operations
//
// Example usage:
//
//	options := func(dir string) db.Options {
//		return db.Options{Path: dir, CompressionFactor: 5}
//	}
//
//	// Running the standard test suite
//	dbtesting.RunEngineTests(t, "MyEngine", NewMyEngine(), options)
//
//	// Running performance benchmarks
//	dbtesting.RunEngineBenchmarks(b, "MyEngine", NewMyEngine(), options)
package testing
