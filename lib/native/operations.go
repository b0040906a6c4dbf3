package native

import (
	"bytes"
	"context"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/config"
	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/resource"
)

// --------------------------------------------------------------------------
// Handle helpers
// --------------------------------------------------------------------------

func (m *Module) borrowDatabase(h *resource.Handle) (db.Database, func(), error) {
	d, done, err := resource.Typed[db.Database](m.registry, h, resource.KindDatabase)
	return d, done, boundary.Translate(err)
}

func (m *Module) borrowTree(h *resource.Handle) (db.Tree, func(), error) {
	t, done, err := resource.Typed[db.Tree](m.registry, h, resource.KindTree)
	return t, done, boundary.Translate(err)
}

func (m *Module) borrowConfig(h *resource.Handle) (*config.Config, func(), error) {
	c, done, err := resource.Typed[*config.Config](m.registry, h, resource.KindConfig)
	return c, done, boundary.Translate(err)
}

// wrap hands a freshly opened engine object to the registry. On failure the object is closed.
func (m *Module) wrap(kind resource.Kind, v interface{ Close() error }) (*resource.Handle, error) {
	h, err := m.registry.Wrap(kind, v)
	if err != nil {
		_ = v.Close()
		return nil, boundary.Translate(err)
	}
	return h, nil
}

// own copies a borrowed buffer when ctx can end the call before the worker read it
func own(ctx context.Context, b []byte) []byte {
	if ctx.Done() == nil {
		return b
	}
	return bytes.Clone(b)
}

func closeDatabase(d db.Database) { _ = d.Close() }
func closeTree(t db.Tree)         { _ = t.Close() }

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// ConfigNew validates options and returns a Config handle. It never touches the filesystem.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Module) ConfigNew(options map[string]any) (*resource.Handle, error) {
	return normal(m, "config_new", func() (*resource.Handle, error) {
		cfg, err := config.New(options)
		if err != nil {
			return nil, err
		}
		return m.registry.Wrap(resource.KindConfig, cfg)
	})
}

// ConfigOpen opens the database described by a Config handle.
// The config stays valid and can be used to open the database again later.
func (m *Module) ConfigOpen(ctx context.Context, cfg *resource.Handle) (*resource.Handle, error) {
	c, done, err := m.borrowConfig(cfg)
	if err != nil {
		return nil, err
	}

	d, err := dirty(ctx, m, "config_open", done, func() (db.Database, error) {
		return m.engine.Open(c.Options())
	}, closeDatabase)
	if err != nil {
		return nil, err
	}
	return m.wrap(resource.KindDatabase, d)
}

// Open opens the database at path with the default configuration
func (m *Module) Open(ctx context.Context, path string) (*resource.Handle, error) {
	cfg, err := config.Default(path)
	if err != nil {
		return nil, boundary.Translate(err)
	}

	d, err := dirty(ctx, m, "open", noop, func() (db.Database, error) {
		return m.engine.Open(cfg.Options())
	}, closeDatabase)
	if err != nil {
		return nil, err
	}
	return m.wrap(resource.KindDatabase, d)
}

// --------------------------------------------------------------------------
// Database Operations
// --------------------------------------------------------------------------

// DbChecksum returns the integrity checksum over all trees of the database
func (m *Module) DbChecksum(ctx context.Context, dbh *resource.Handle) (uint32, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return 0, err
	}
	return dirty(ctx, m, "db_checksum", done, d.Checksum, nil)
}

// SizeOnDisk returns the on-disk footprint of the database in bytes
func (m *Module) SizeOnDisk(ctx context.Context, dbh *resource.Handle) (uint64, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return 0, err
	}
	return dirty(ctx, m, "size_on_disk", done, d.SizeOnDisk, nil)
}

// WasRecovered reports whether the database was not shut down cleanly before it was opened
func (m *Module) WasRecovered(ctx context.Context, dbh *resource.Handle) (bool, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return false, err
	}
	return dirty(ctx, m, "was_recovered", done, func() (bool, error) {
		return d.WasRecovered(), nil
	}, nil)
}

// TreeOpen opens (and creates) the named tree. Opening the same name twice yields two
// handles to the same keyspace. The tree keeps the database open on its own.
func (m *Module) TreeOpen(ctx context.Context, dbh *resource.Handle, name []byte) (*resource.Handle, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return nil, err
	}

	name = own(ctx, name)
	t, err := dirty(ctx, m, "tree_open", done, func() (db.Tree, error) {
		return d.OpenTree(name)
	}, closeTree)
	if err != nil {
		return nil, err
	}
	return m.wrap(resource.KindTree, t)
}

// TreeDrop deletes the named tree and all its entries. It reports whether the tree existed.
// Dropping the default tree is unsupported.
func (m *Module) TreeDrop(ctx context.Context, dbh *resource.Handle, name []byte) (bool, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return false, err
	}
	name = own(ctx, name)
	return dirty(ctx, m, "tree_drop", done, func() (bool, error) {
		return d.DropTree(name)
	}, nil)
}

// TreeNames lists all trees of the database in engine order, the default tree included
func (m *Module) TreeNames(ctx context.Context, dbh *resource.Handle) ([][]byte, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return nil, err
	}
	return dirty(ctx, m, "tree_names", done, d.TreeNames, nil)
}

// Info returns descriptive information about the database (not part of the function table)
func (m *Module) Info(ctx context.Context, dbh *resource.Handle) (db.DatabaseInfo, error) {
	d, done, err := m.borrowDatabase(dbh)
	if err != nil {
		return db.DatabaseInfo{}, err
	}
	return dirty(ctx, m, "info", done, func() (db.DatabaseInfo, error) {
		return d.Info(), nil
	}, nil)
}

// --------------------------------------------------------------------------
// Tree Operations
// --------------------------------------------------------------------------

// Checksum returns the integrity checksum of the tree's contents
func (m *Module) Checksum(ctx context.Context, th *resource.Handle) (uint32, error) {
	t, done, err := m.borrowTree(th)
	if err != nil {
		return 0, err
	}
	return dirty(ctx, m, "checksum", done, t.Checksum, nil)
}

// Flush makes buffered writes durable and returns the bytes written since the last flush
func (m *Module) Flush(ctx context.Context, th *resource.Handle) (int, error) {
	t, done, err := m.borrowTree(th)
	if err != nil {
		return 0, err
	}
	return dirty(ctx, m, "flush", done, t.Flush, nil)
}

type lookup struct {
	value []byte
	found bool
}

func (m *Module) treeLookup(ctx context.Context, name string, th *resource.Handle, fn func(db.Tree) ([]byte, bool, error)) ([]byte, bool, error) {
	t, done, err := m.borrowTree(th)
	if err != nil {
		return nil, false, err
	}
	res, err := dirty(ctx, m, name, done, func() (lookup, error) {
		v, found, err := fn(t)
		return lookup{v, found}, err
	}, nil)
	return res.value, res.found, err
}

// Insert stores value under key and returns the previous value, if any.
// key and value are only read during the call, a cancellable ctx makes Insert copy them.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (m *Module) Insert(ctx context.Context, th *resource.Handle, key, value []byte) ([]byte, bool, error) {
	key, value = own(ctx, key), own(ctx, value)
	return m.treeLookup(ctx, "insert", th, func(t db.Tree) ([]byte, bool, error) {
		return t.Insert(key, value)
	})
}

// Get returns the value stored under key. A missing key is not an error.
func (m *Module) Get(ctx context.Context, th *resource.Handle, key []byte) ([]byte, bool, error) {
	key = own(ctx, key)
	return m.treeLookup(ctx, "get", th, func(t db.Tree) ([]byte, bool, error) {
		return t.Get(key)
	})
}

// Remove deletes key and returns the removed value, if any
func (m *Module) Remove(ctx context.Context, th *resource.Handle, key []byte) ([]byte, bool, error) {
	key = own(ctx, key)
	return m.treeLookup(ctx, "remove", th, func(t db.Tree) ([]byte, bool, error) {
		return t.Remove(key)
	})
}
