// Package db defines the contract between the binding layer and an embedded,
// ordered key-value storage engine. The engine itself is an external collaborator:
// this package only describes what the binding layer relies on.
//
// Key Components:
//
//   - Engine: opens databases from an Options value.
//
//   - Database: a reference to a shared engine instance. Engines keep their own
//     reference count: Clone hands out another reference, Close releases one, and
//     only the release of the last reference (including references held by open
//     trees) flushes and closes the underlying files. Callers never assume they
//     are the exclusive owner.
//
//   - Tree: a reference to a named keyspace inside a database. Every tree holds a
//     reference to its database, so a database stays open for as long as any of
//     its trees is alive. Closing a tree never deletes the keyspace; only
//     Database.DropTree does.
//
//   - Error: engine failures carry an ErrorKind (IO, Corruption, Collision,
//     ReportableBug, Unsupported) so that callers can branch on the failure class
//     instead of parsing messages.
//
// Buffer Ownership:
//   - Keys and values passed into an engine are borrowed for the duration of the
//     call. Engines must copy what they keep.
//   - Values returned from an engine are owned by the caller.
//
// Absence vs. Failure:
//
//	Read and write operations return (value, loaded, err). A missing key is reported
//	as loaded == false with a nil error; it is never an error.
//
// Related Packages:
//
// The engines/bolt package (github.com/ValentinKolb/nKV/lib/db/engines/bolt) implements
// the interfaces on top of bbolt, mapping trees to buckets.
//
// The testing package (github.com/ValentinKolb/nKV/lib/db/testing) provides a
// standardized conformance suite and benchmarks for Engine implementations:
//   - RunEngineTests: Runs the conformance suite against an implementation
//   - RunEngineBenchmarks: Provides performance benchmarks for comparing implementations
//
// The util package (github.com/ValentinKolb/nKV/lib/db/util) provides size
// histograms and distribution statistics used for engine profiles and Info().
package db
