// Package bolt implements the db.Engine interface on top of bbolt
// (go.etcd.io/bbolt), an embedded B+tree key-value store with ACID transactions.
//
// Layout:
//
//   - A database is a directory holding one bbolt file (nkv.db).
//   - Every tree is a top-level bucket. The default tree (DefaultTreeName) is created
//     when the database is opened and cannot be dropped.
//   - A hidden metadata bucket stores the clean shutdown marker. It is never listed by
//     TreeNames and is excluded from checksums.
//   - Every value is stored with a one byte codec header (raw, zstd, lz4 or snappy), see
//     the internal package. Undecodable values are reported as corruption.
//
// Key Components:
//
//   - core: The engine instance shared by all references. Every Database and Tree value
//     holds exactly one reference. Clone adds a reference, Close drops it. When the last
//     reference is gone the core stops the background flusher, writes the clean
//     shutdown marker, syncs and closes the file, prints the latency profile (if
//     requested) and removes temporary files.
//
//   - Durability: With FlushEvery > 0 bbolt runs with NoSync and a background goroutine
//     syncs the file periodically. Flush syncs immediately and returns the bytes
//     written to the tree since the previous flush. With FlushEvery == 0 every commit
//     is durable when it returns.
//
//   - Recovery: The metadata bucket holds a marker that is cleared (and synced) on open
//     and set on clean shutdown. A database opened while the marker is cleared was not
//     shut down cleanly and reports WasRecovered.
//
//   - Checksums: xxh3 over length-prefixed keys and decoded values in key order, folded
//     to 32 bits. The database checksum additionally covers the tree names. Checksums
//     are stable for one engine version only.
//
// Concurrency:
//
//	bbolt allows any number of concurrent read transactions and one write transaction at
//	a time. Get and Checksum run in read transactions, Insert, Remove, OpenTree and
//	DropTree in write transactions. The engine adds no further locking.
//
// Errors are returned as *db.Error:
//
//	lock held by another instance (bbolt ErrTimeout)         -> Collision
//	invalid file, version mismatch, checksum, bad value       -> Corruption
//	read only, empty or oversized keys, oversized values      -> Unsupported
//	file system errors                                        -> IO
//	everything else                                           -> ReportableBug
package bolt
