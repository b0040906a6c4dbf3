// Package util provides statistics helpers for engine implementations that satisfy
// the db.Engine interface.
//
// The package contains:
//   - SizeHistogram: a lock-free histogram of value sizes, used for the engine
//     profile printed when the last reference to a database is closed
//   - Stats / DistributionStats: summary statistics over per-tree entry counts,
//     reported as metadata by Database.Info()
package util
