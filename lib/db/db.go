package db

import "time"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBolt Implementation = "bolt"
)

// CreateMode controls what Open does when the database files do or do not exist
type CreateMode uint8

const (
	CreateIfMissing CreateMode = iota // open existing files or create new ones
	OpenExisting                      // fail if the files do not exist
	CreateNew                         // fail if the files already exist
)

func (m CreateMode) String() string {
	switch m {
	case CreateIfMissing:
		return "create_if_missing"
	case OpenExisting:
		return "open_existing"
	case CreateNew:
		return "create_new"
	default:
		return "unknown"
	}
}

// Compression selects the codec used for stored values
type Compression uint8

const (
	CompressionZstd Compression = iota
	CompressionLZ4
	CompressionSnappy
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Options holds everything an engine needs to open a database.
// A zero value for a field means "engine default" unless documented otherwise.
type Options struct {
	Path               string        // location of the database files (required)
	CacheCapacity      uint64        // bytes reserved for the page cache
	FlushEvery         time.Duration // background flush interval (0 = every commit is durable)
	UseCompression     bool          // compress stored values
	CompressionFactor  int           // codec level (1-22, codec dependent)
	Compression        Compression   // codec used when UseCompression is set
	Mode               CreateMode    // behaviour for missing or existing files
	SegmentSize        int           // page/segment size for new databases (0 = OS default)
	PrintProfileOnDrop bool          // log a latency profile when the last reference closes
	ReadOnly           bool          // open without write access
	Temporary          bool          // remove the files when the last reference closes
}

// DatabaseInfo contains descriptive information about an open database
type DatabaseInfo struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	DbType       Implementation `json:"db_type"`
	SizeBytes    uint64         `json:"size_bytes"`
	Trees        []string       `json:"trees"`
	References   int64          `json:"references"`
	WasRecovered bool           `json:"was_recovered"`
	Metadata     interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Engine Interfaces
// --------------------------------------------------------------------------

// Engine opens databases.
type Engine interface {
	// Open opens (or creates, depending on opts.Mode) the database at opts.Path.
	// The returned Database holds one reference to the shared engine instance.
	Open(opts Options) (Database, error)

	// Type returns the implementation identifier of the engine.
	Type() Implementation
}

// Database is a reference to a shared engine instance.
// Every Database and Tree value holds exactly one reference; the instance is only
// flushed and closed when the last reference is closed.
type Database interface {

	// --------------------------------------------------------------------------
	// Reference Management
	// --------------------------------------------------------------------------

	// Clone returns a new reference to the same engine instance.
	Clone() Database

	// Close releases this reference. Calling Close more than once is a no-op.
	Close() error

	// --------------------------------------------------------------------------
	// Database Operations
	// --------------------------------------------------------------------------

	// Path returns the path the database was opened from.
	Path() string

	// Checksum computes an integrity value over all trees and their contents.
	// The value is only stable for a given engine version.
	Checksum() (sum uint32, err error)

	// SizeOnDisk returns the current on-disk footprint in bytes (best effort).
	SizeOnDisk() (size uint64, err error)

	// WasRecovered reports whether the database was not closed cleanly before this open.
	WasRecovered() bool

	// OpenTree opens the tree with the given name, creating it if necessary.
	OpenTree(name []byte) (tree Tree, err error)

	// DropTree deletes the tree and all of its entries.
	// The boolean reports whether the tree existed.
	DropTree(name []byte) (existed bool, err error)

	// TreeNames lists all trees including the default tree in engine order.
	TreeNames() (names [][]byte, err error)

	// Info returns descriptive information about the database.
	Info() (info DatabaseInfo)
}

// Tree is a reference to a named keyspace inside a Database.
// A Tree keeps the engine instance alive until it is closed.
type Tree interface {

	// Name returns the name of the tree.
	Name() []byte

	// Clone returns a new reference to the same tree.
	Clone() Tree

	// Close releases this reference. It never deletes the keyspace.
	Close() error

	// Checksum computes an integrity value over the tree's contents.
	Checksum() (sum uint32, err error)

	// Flush makes all buffered writes durable and returns the number of bytes
	// written to the tree since the last flush.
	Flush() (written int, err error)

	// Insert stores value under key and returns the previous value, if any.
	// The key and value slices are only borrowed for the duration of the call.
	Insert(key, value []byte) (prev []byte, loaded bool, err error)

	// Get returns the value for key. The returned slice is owned by the caller.
	Get(key []byte) (value []byte, loaded bool, err error)

	// Remove deletes key and returns the removed value, if any.
	Remove(key []byte) (prev []byte, loaded bool, err error)
}
