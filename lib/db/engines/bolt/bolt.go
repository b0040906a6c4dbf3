package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt/internal"
	"github.com/ValentinKolb/nKV/lib/db/util"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeebo/xxh3"
	"go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var Logger = logger.GetLogger("engine")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DefaultTreeName is the tree every database has. It cannot be dropped.
	DefaultTreeName = "__nkv__default"

	metaBucket = "__nkv_meta__" // internal bookkeeping, never listed
	cleanKey   = "clean"        // 1 after a clean shutdown, 0 while open
	dataFile   = "nkv.db"       // file name inside the database directory
)

// LockTimeout is how long Open waits for the file lock held by another instance
var LockTimeout = 250 * time.Millisecond

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

type engine struct{}

// NewEngine returns the bbolt backed engine
func NewEngine() db.Engine {
	return engine{}
}

func (engine) Type() db.Implementation {
	return db.ImplBolt
}

// Open opens the database directory at opts.Path.
//
// Thread-safety: Open can be called concurrently. Opening the same path twice without
// closing it first fails with a collision once LockTimeout elapsed.
func (engine) Open(opts db.Options) (db.Database, error) {
	if opts.Path == "" {
		return nil, db.NewError(db.KindUnsupported, "open: empty path", nil)
	}

	dir := opts.Path
	file := filepath.Join(dir, dataFile)

	_, statErr := os.Stat(file)
	existed := statErr == nil
	if statErr != nil && !errors.Is(statErr, os.ErrNotExist) {
		return nil, mapError("open: stat database file", statErr)
	}

	switch {
	case opts.Mode == db.OpenExisting && !existed:
		return nil, db.NewError(db.KindIO, fmt.Sprintf("open: no database at %s", dir), os.ErrNotExist)
	case opts.Mode == db.CreateNew && existed:
		return nil, db.NewError(db.KindIO, fmt.Sprintf("open: database already exists at %s", dir), os.ErrExist)
	case opts.ReadOnly && !existed:
		return nil, db.NewError(db.KindIO, fmt.Sprintf("open: no database at %s to open read only", dir), os.ErrNotExist)
	}

	createdDir, createdFile := false, false
	if !existed {
		var err error
		if createdDir, err = makeDir(dir); err != nil {
			return nil, mapError("open: create database directory", err)
		}

		// only the open that creates the file may remove it again
		f, err := os.OpenFile(file, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		switch {
		case err == nil:
			createdFile = true
			_ = f.Close()
		case errors.Is(err, os.ErrExist) && opts.Mode == db.CreateNew:
			return nil, db.NewError(db.KindIO, fmt.Sprintf("open: database already exists at %s", dir), err)
		case !errors.Is(err, os.ErrExist):
			if createdDir {
				_ = os.Remove(dir)
			}
			return nil, mapError("open: create database file", err)
		}
	}

	c, err := openCore(dir, file, opts, existed, createdDir)
	if err != nil {
		// a lock timeout means another instance owns the files
		if !errors.Is(err, berrors.ErrTimeout) {
			if createdFile {
				_ = os.Remove(file)
			}
			if createdDir {
				_ = os.Remove(dir) // fails unless empty
			}
		}
		return nil, err
	}
	return &database{c: c}, nil
}

// makeDir creates dir and its parents. It reports whether dir itself was created by this call.
func makeDir(dir string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return false, err
	}
	err := os.Mkdir(dir, 0o755)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	return err == nil, err
}

// --------------------------------------------------------------------------
// Shared Core
// --------------------------------------------------------------------------

// core is the engine instance shared by all Database and Tree references.
// It is shut down when its reference count drops to zero.
type core struct {
	id         uuid.UUID
	bolt       *bbolt.DB
	opts       db.Options
	dir        string
	file       string
	createdDir bool
	codec      *internal.Codec
	profile    *profile
	recovered  bool

	refs atomic.Int64

	// bytes written per tree since the last flush
	pending *xsync.MapOf[string, *atomic.Int64]

	stopFlush chan struct{}
	flushDone chan struct{}
}

func openCore(dir, file string, opts db.Options, existed, createdDir bool) (*core, error) {
	codec, err := internal.NewCodec(opts)
	if err != nil {
		return nil, db.NewError(db.KindReportableBug, "open: create codec", err)
	}

	boltOpts := &bbolt.Options{
		Timeout:         LockTimeout,
		NoSync:          opts.FlushEvery > 0,
		ReadOnly:        opts.ReadOnly,
		InitialMmapSize: int(min(opts.CacheCapacity, uint64(1<<40))),
		PageSize:        opts.SegmentSize,
		FreelistType:    bbolt.FreelistMapType,
	}

	bdb, err := bbolt.Open(file, 0o600, boltOpts)
	if err != nil {
		codec.Close()
		return nil, mapError(fmt.Sprintf("open: %s", file), err)
	}

	c := &core{
		id:         uuid.New(),
		bolt:       bdb,
		opts:       opts,
		dir:        dir,
		file:       file,
		createdDir: createdDir,
		codec:      codec,
		pending:    xsync.NewMapOf[string, *atomic.Int64](),
	}
	c.refs.Store(1)
	if opts.PrintProfileOnDrop {
		c.profile = newProfile()
	}

	if err := c.markOpen(existed); err != nil {
		_ = bdb.Close()
		codec.Close()
		return nil, err
	}

	if opts.FlushEvery > 0 && !opts.ReadOnly {
		c.stopFlush = make(chan struct{})
		c.flushDone = make(chan struct{})
		go c.flusher()
	}

	Logger.Infof("opened database %s (id=%s, recovered=%t, read_only=%t)", dir, c.id, c.recovered, opts.ReadOnly)
	return c, nil
}

// markOpen reads the clean shutdown flag of the previous session and clears it for
// this one. It also creates the default tree.
func (c *core) markOpen(existed bool) error {
	if c.opts.ReadOnly {
		err := c.bolt.View(func(tx *bbolt.Tx) error {
			if meta := tx.Bucket([]byte(metaBucket)); meta != nil {
				c.recovered = !isClean(meta)
			}
			return nil
		})
		return mapError("open: read recovery marker", err)
	}

	err := c.bolt.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		if err != nil {
			return err
		}
		c.recovered = existed && !isClean(meta)
		if err := meta.Put([]byte(cleanKey), []byte{0}); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists([]byte(DefaultTreeName))
		return err
	})
	if err != nil {
		return mapError("open: write recovery marker", err)
	}

	// the marker has to be on disk before any write of this session
	if c.bolt.NoSync {
		if err := c.bolt.Sync(); err != nil {
			return mapError("open: sync recovery marker", err)
		}
	}
	return nil
}

func isClean(meta *bbolt.Bucket) bool {
	v := meta.Get([]byte(cleanKey))
	return len(v) == 1 && v[0] == 1
}

// flusher periodically makes buffered writes durable
func (c *core) flusher() {
	defer close(c.flushDone)

	ticker := time.NewTicker(c.opts.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopFlush:
			return
		case <-ticker.C:
			start := time.Now()
			if err := c.bolt.Sync(); err != nil {
				Logger.Warningf("background flush of %s failed: %v", c.dir, err)
				continue
			}
			c.pending.Range(func(_ string, v *atomic.Int64) bool {
				v.Store(0)
				return true
			})
			c.profile.track("bg_flush", start)
		}
	}
}

func (c *core) acquire() {
	c.refs.Add(1)
}

// release drops one reference and shuts the instance down when it was the last one
func (c *core) release() error {
	if c.refs.Add(-1) > 0 {
		return nil
	}
	return c.shutdown()
}

// shutdown stops the flusher, marks the session as clean and closes the files
func (c *core) shutdown() error {
	var errs []error

	if c.stopFlush != nil {
		close(c.stopFlush)
		<-c.flushDone
	}

	if !c.opts.ReadOnly {
		err := c.bolt.Update(func(tx *bbolt.Tx) error {
			meta, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
			if err != nil {
				return err
			}
			return meta.Put([]byte(cleanKey), []byte{1})
		})
		if err == nil {
			err = c.bolt.Sync()
		}
		if err != nil {
			errs = append(errs, mapError("close: write clean marker", err))
		}
	}

	if err := c.bolt.Close(); err != nil {
		errs = append(errs, mapError("close: close database file", err))
	}
	c.codec.Close()

	if c.profile != nil {
		Logger.Infof("database %s (id=%s) %s", c.dir, c.id, c.profile)
		c.profile.close()
	}

	if c.opts.Temporary {
		if err := os.Remove(c.file); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, mapError("close: remove temporary database", err))
		}
		if c.createdDir {
			_ = os.Remove(c.dir)
		}
	}

	Logger.Infof("closed database %s (id=%s)", c.dir, c.id)
	return errors.Join(errs...)
}

func (c *core) addPending(tree []byte, n int) {
	counter, _ := c.pending.LoadOrCompute(string(tree), func() *atomic.Int64 {
		return new(atomic.Int64)
	})
	counter.Add(int64(n))
}

func (c *core) takePending(tree []byte) int {
	if counter, ok := c.pending.Load(string(tree)); ok {
		return int(counter.Swap(0))
	}
	return 0
}

// isReserved reports whether name belongs to internal bookkeeping
func isReserved(name []byte) bool {
	return string(name) == metaBucket
}

// --------------------------------------------------------------------------
// Checksums
// --------------------------------------------------------------------------

// hashBucket feeds all entries of b into h. Keys and decoded values are length
// prefixed so that moving bytes between key and value changes the sum.
func (c *core) hashBucket(h *xxh3.Hasher, b *bbolt.Bucket) error {
	var lenBuf [8]byte
	return b.ForEach(func(k, v []byte) error {
		value, err := c.codec.Decode(v)
		if err != nil {
			return err
		}
		putLen(&lenBuf, len(k))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(k)
		putLen(&lenBuf, len(value))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(value)
		return nil
	})
}

func putLen(buf *[8]byte, n int) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(uint64(n) >> (8 * i))
	}
}

// fold reduces a 64 bit hash to the 32 bit checksum exposed to callers
func fold(h uint64) uint32 {
	return uint32(h ^ h>>32)
}

// --------------------------------------------------------------------------
// Database
// --------------------------------------------------------------------------

// database is one reference to a core
type database struct {
	c      *core
	closed atomic.Bool
}

func (d *database) Clone() db.Database {
	d.c.acquire()
	return &database{c: d.c}
}

func (d *database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.c.release()
}

func (d *database) Path() string {
	return d.c.dir
}

func (d *database) WasRecovered() bool {
	return d.c.recovered
}

// Checksum hashes every tree name and its contents in engine order.
//
// Thread-safety: This method is thread-safe and runs in a read transaction.
func (d *database) Checksum() (uint32, error) {
	if d.closed.Load() {
		return 0, errClosedReference
	}
	defer d.c.profile.track("db_checksum", time.Now())

	h := xxh3.New()
	var lenBuf [8]byte
	err := d.c.bolt.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if isReserved(name) {
				return nil
			}
			putLen(&lenBuf, len(name))
			_, _ = h.Write(lenBuf[:])
			_, _ = h.Write(name)
			return d.c.hashBucket(h, b)
		})
	})
	if err != nil {
		return 0, mapError("db checksum", err)
	}
	return fold(h.Sum64()), nil
}

func (d *database) SizeOnDisk() (uint64, error) {
	if d.closed.Load() {
		return 0, errClosedReference
	}
	var size int64
	err := d.c.bolt.View(func(tx *bbolt.Tx) error {
		size = tx.Size()
		return nil
	})
	if err != nil {
		return 0, mapError("size on disk", err)
	}
	return uint64(size), nil
}

// OpenTree returns a reference to the tree, creating it unless the database is read only.
func (d *database) OpenTree(name []byte) (db.Tree, error) {
	if d.closed.Load() {
		return nil, errClosedReference
	}
	if len(name) == 0 {
		return nil, db.NewError(db.KindUnsupported, "open tree: empty tree name", berrors.ErrBucketNameRequired)
	}
	if isReserved(name) {
		return nil, db.NewError(db.KindUnsupported, fmt.Sprintf("open tree: %q is reserved", name), nil)
	}
	defer d.c.profile.track("tree_open", time.Now())

	if !d.c.opts.ReadOnly {
		err := d.c.bolt.Update(func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(name)
			return err
		})
		if err != nil {
			return nil, mapError("open tree", err)
		}
	}

	n := make([]byte, len(name))
	copy(n, name)
	return &tree{owner: d.Clone().(*database), c: d.c, name: n}, nil
}

// DropTree deletes the tree and its entries. Open references of the tree stay
// usable and see an empty tree.
func (d *database) DropTree(name []byte) (bool, error) {
	if d.closed.Load() {
		return false, errClosedReference
	}
	if string(name) == DefaultTreeName || isReserved(name) {
		return false, db.NewError(db.KindUnsupported, fmt.Sprintf("drop tree: %q cannot be dropped", name), nil)
	}
	defer d.c.profile.track("tree_drop", time.Now())

	existed := true
	err := d.c.bolt.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket(name)
		if errors.Is(err, berrors.ErrBucketNotFound) {
			existed = false
			return nil
		}
		return err
	})
	if err != nil {
		return false, mapError("drop tree", err)
	}
	d.c.pending.Delete(string(name))
	return existed, nil
}

// TreeNames lists all trees in byte order, the default tree included
func (d *database) TreeNames() ([][]byte, error) {
	if d.closed.Load() {
		return nil, errClosedReference
	}
	var names [][]byte
	err := d.c.bolt.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if isReserved(name) {
				return nil
			}
			n := make([]byte, len(name))
			copy(n, name)
			names = append(names, n)
			return nil
		})
	})
	if err != nil {
		return nil, mapError("tree names", err)
	}
	return names, nil
}

// Info returns descriptive information about the database.
// Failures are logged and leave the affected fields empty.
func (d *database) Info() db.DatabaseInfo {
	c := d.c

	info := db.DatabaseInfo{
		ID:           c.id.String(),
		Path:         c.dir,
		DbType:       db.ImplBolt,
		References:   c.refs.Load(),
		WasRecovered: c.recovered,
	}

	histogram := util.NewSizeHistogram()
	samplesPerTree := 100
	var treeSizes []float64

	err := c.bolt.View(func(tx *bbolt.Tx) error {
		info.SizeBytes = uint64(tx.Size())
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if isReserved(name) {
				return nil
			}
			info.Trees = append(info.Trees, string(name))
			treeSizes = append(treeSizes, float64(b.Stats().KeyN))

			// only sample a few entries per tree
			count := 0
			cur := b.Cursor()
			for k, v := cur.First(); k != nil && count < samplesPerTree; k, v = cur.Next() {
				histogram.AddSample(len(v) - 1) // without header
				count++
			}
			return nil
		})
	})
	if err != nil {
		Logger.Warningf("collecting info of %s failed: %v", c.dir, err)
	}

	stats := c.bolt.Stats()
	meta := &struct {
		TreeCount        int                    `json:"tree_count"`
		KeyDistribution  util.DistributionStats `json:"key_distribution"`
		StoredValueSizes string                 `json:"stored_value_sizes"`
		Compression      string                 `json:"compression"`
		FlushEvery       string                 `json:"flush_every"`
		ReadOnly         bool                   `json:"read_only"`
		FreePages        int                    `json:"free_pages"`
		OpenReadTxs      int                    `json:"open_read_txs"`
		Info             string                 `json:"info"`
	}{
		TreeCount:        len(info.Trees),
		KeyDistribution:  util.NewDistributionStats(treeSizes),
		StoredValueSizes: histogram.String(),
		Compression:      "off",
		FlushEvery:       "every commit",
		ReadOnly:         c.opts.ReadOnly,
		FreePages:        stats.FreePageN,
		OpenReadTxs:      stats.OpenTxN,
		Info:             "Value sizes are sampled (stored size, possibly compressed).",
	}
	if c.opts.UseCompression {
		meta.Compression = fmt.Sprintf("%s (factor %d)", c.opts.Compression, c.opts.CompressionFactor)
	}
	if c.opts.FlushEvery > 0 {
		meta.FlushEvery = c.opts.FlushEvery.String()
	}
	info.Metadata = meta

	return info
}

// --------------------------------------------------------------------------
// Tree
// --------------------------------------------------------------------------

// tree is one reference to a named bucket. It holds a reference to the core, so the
// engine stays open as long as the tree does. A dropped tree reads as empty and is
// created again by the next write.
// tree keeps its own reference to the database it was opened from
type tree struct {
	owner  *database
	c      *core
	name   []byte
	closed atomic.Bool
}

func (t *tree) Name() []byte {
	n := make([]byte, len(t.name))
	copy(n, t.name)
	return n
}

func (t *tree) Clone() db.Tree {
	return &tree{owner: t.owner.Clone().(*database), c: t.c, name: t.name}
}

func (t *tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.owner.Close()
}

// Checksum hashes the tree's entries in key order.
//
// Thread-safety: This method is thread-safe and runs in a read transaction.
func (t *tree) Checksum() (uint32, error) {
	if t.closed.Load() {
		return 0, errClosedReference
	}
	defer t.c.profile.track("checksum", time.Now())

	h := xxh3.New()
	err := t.c.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		return t.c.hashBucket(h, b)
	})
	if err != nil {
		return 0, mapError("checksum", err)
	}
	return fold(h.Sum64()), nil
}

// Flush syncs the database file and returns the bytes written to this tree since
// the previous flush (explicit or background).
func (t *tree) Flush() (int, error) {
	if t.closed.Load() {
		return 0, errClosedReference
	}
	if t.c.opts.ReadOnly {
		return 0, nil
	}
	defer t.c.profile.track("flush", time.Now())

	written := t.c.takePending(t.name)
	if err := t.c.bolt.Sync(); err != nil {
		t.c.addPending(t.name, written)
		return 0, mapError("flush", err)
	}
	return written, nil
}

// Insert stores value under key and returns the previous value.
//
// Thread-safety: This method is thread-safe. Concurrent writers are serialised by
// bbolt's single writer transaction.
func (t *tree) Insert(key, value []byte) ([]byte, bool, error) {
	if t.closed.Load() {
		return nil, false, errClosedReference
	}
	defer t.c.profile.track("insert", time.Now())

	stored, err := t.c.codec.Encode(value)
	if err != nil {
		return nil, false, db.NewError(db.KindReportableBug, "insert: encode value", err)
	}

	var (
		prev   []byte
		loaded bool
	)
	err = t.c.bolt.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(t.name)
		if err != nil {
			return err
		}
		if old := b.Get(key); old != nil {
			if prev, err = t.c.codec.Decode(old); err != nil {
				return err
			}
			loaded = true
		}
		return b.Put(key, stored)
	})
	if err != nil {
		return nil, false, mapError("insert", err)
	}

	t.c.addPending(t.name, len(key)+len(stored))
	t.c.profile.value(len(value))
	return prev, loaded, nil
}

// Get returns a copy of the value stored under key
func (t *tree) Get(key []byte) ([]byte, bool, error) {
	if t.closed.Load() {
		return nil, false, errClosedReference
	}
	defer t.c.profile.track("get", time.Now())

	var (
		value  []byte
		loaded bool
	)
	err := t.c.bolt.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		stored := b.Get(key)
		if stored == nil {
			return nil
		}
		var err error
		value, err = t.c.codec.Decode(stored)
		loaded = err == nil
		return err
	})
	if err != nil {
		return nil, false, mapError("get", err)
	}
	return value, loaded, nil
}

// Remove deletes key and returns the removed value
func (t *tree) Remove(key []byte) ([]byte, bool, error) {
	if t.closed.Load() {
		return nil, false, errClosedReference
	}
	defer t.c.profile.track("remove", time.Now())

	var (
		prev   []byte
		loaded bool
	)
	err := t.c.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(t.name)
		if b == nil {
			return nil
		}
		old := b.Get(key)
		if old == nil {
			return nil
		}
		var err error
		if prev, err = t.c.codec.Decode(old); err != nil {
			return err
		}
		loaded = true
		return b.Delete(key)
	})
	if err != nil {
		return nil, false, mapError("remove", err)
	}

	if loaded {
		t.c.addPending(t.name, len(key))
	}
	return prev, loaded, nil
}
