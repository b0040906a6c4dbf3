package testing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/sourcegraph/conc"
)

// OptionsFactory returns the options used to open a database in dir
type OptionsFactory func(dir string) db.Options

// RunEngineTests runs a comprehensive test suite for an engine implementation.
// Every subtest opens its own database in a fresh temporary directory.
func RunEngineTests(t *testing.T, name string, engine db.Engine, options OptionsFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, open(t, engine, options))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, open(t, engine, options))
		})

		t.Run("EmptyValue", func(t *testing.T) {
			testEmptyValue(t, open(t, engine, options))
		})

		t.Run("TreeOpenIdempotent", func(t *testing.T) {
			testTreeOpenIdempotent(t, open(t, engine, options))
		})

		t.Run("DropTree", func(t *testing.T) {
			testDropTree(t, open(t, engine, options))
		})

		t.Run("TreeNames", func(t *testing.T) {
			testTreeNames(t, open(t, engine, options))
		})

		t.Run("Checksum", func(t *testing.T) {
			testChecksum(t, open(t, engine, options))
		})

		t.Run("Flush", func(t *testing.T) {
			testFlush(t, engine, options)
		})

		t.Run("References", func(t *testing.T) {
			testReferences(t, open(t, engine, options))
		})

		t.Run("Persistence", func(t *testing.T) {
			testPersistence(t, engine, options)
		})

		t.Run("CreateModes", func(t *testing.T) {
			testCreateModes(t, engine, options)
		})

		t.Run("ReadOnly", func(t *testing.T) {
			testReadOnly(t, engine, options)
		})

		t.Run("Temporary", func(t *testing.T) {
			testTemporary(t, engine, options)
		})

		t.Run("Collision", func(t *testing.T) {
			testCollision(t, engine, options)
		})

		t.Run("ConcurrentFirstOpen", func(t *testing.T) {
			testConcurrentFirstOpen(t, engine, options)
		})

		t.Run("ConcurrentInserts", func(t *testing.T) {
			testConcurrentInserts(t, open(t, engine, options))
		})

		t.Run("SizeAndInfo", func(t *testing.T) {
			testSizeAndInfo(t, engine, open(t, engine, options))
		})

		for _, alg := range []db.Compression{db.CompressionZstd, db.CompressionLZ4, db.CompressionSnappy} {
			t.Run(fmt.Sprintf("Compression(%s)", alg), func(t *testing.T) {
				compressed := func(dir string) db.Options {
					o := options(dir)
					o.UseCompression = true
					o.Compression = alg
					return o
				}
				testInsertGet(t, open(t, engine, compressed))
			})
		}
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// open opens a database in a new temporary directory and closes it at the end of the test
func open(t testing.TB, engine db.Engine, options OptionsFactory) db.Database {
	t.Helper()
	database, err := engine.Open(options(filepath.Join(t.TempDir(), "db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func openTree(t testing.TB, database db.Database, name string) db.Tree {
	t.Helper()
	tree, err := database.OpenTree([]byte(name))
	if err != nil {
		t.Fatalf("OpenTree(%q) failed: %v", name, err)
	}
	t.Cleanup(func() { _ = tree.Close() })
	return tree
}

func mustInsert(t testing.TB, tree db.Tree, key, value string) {
	t.Helper()
	if _, _, err := tree.Insert([]byte(key), []byte(value)); err != nil {
		t.Fatalf("Insert(%q) failed: %v", key, err)
	}
}

func expectValue(t testing.TB, tree db.Tree, key, want string) {
	t.Helper()
	got, loaded, err := tree.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !loaded {
		t.Fatalf("Expected key %q to exist", key)
	}
	if string(got) != want {
		t.Errorf("Get(%q) = %q, want %q", key, got, want)
	}
}

func expectAbsent(t testing.TB, tree db.Tree, key string) {
	t.Helper()
	_, loaded, err := tree.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if loaded {
		t.Errorf("Expected key %q to be absent", key)
	}
}

func expectKind(t testing.TB, err error, kind db.ErrorKind) {
	t.Helper()
	if db.KindOf(err) != kind {
		t.Errorf("Expected %s error, got %v", kind, err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, database db.Database) {
	tree := openTree(t, database, "kv")

	prev, loaded, err := tree.Insert([]byte("k"), []byte("v1"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if loaded || prev != nil {
		t.Errorf("First insert should not return a previous value, got %q", prev)
	}

	prev, loaded, err = tree.Insert([]byte("k"), []byte("v2"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !loaded || string(prev) != "v1" {
		t.Errorf("Upsert should return the previous value v1, got %q (loaded=%t)", prev, loaded)
	}

	expectValue(t, tree, "k", "v2")
	expectAbsent(t, tree, "nonexistent-key")

	// returned slices are owned by the caller
	got, _, _ := tree.Get([]byte("k"))
	got[0] = 'X'
	expectValue(t, tree, "k", "v2")

	// inputs are only borrowed
	key := []byte("borrowed")
	value := []byte("original")
	if _, _, err := tree.Insert(key, value); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	key[0], value[0] = 'X', 'X'
	expectValue(t, tree, "borrowed", "original")

	large := bytes.Repeat([]byte("large value "), 10_000)
	if _, _, err := tree.Insert([]byte("large"), large); err != nil {
		t.Fatalf("Insert of large value failed: %v", err)
	}
	got, loaded, err = tree.Get([]byte("large"))
	if err != nil || !loaded || !bytes.Equal(got, large) {
		t.Errorf("Large value round trip failed (loaded=%t, err=%v)", loaded, err)
	}

	binaryKey := []byte{0x00, 0xff, 0x10}
	if _, _, err := tree.Insert(binaryKey, []byte{0x00}); err != nil {
		t.Fatalf("Insert with binary key failed: %v", err)
	}
	got, loaded, _ = tree.Get(binaryKey)
	if !loaded || !bytes.Equal(got, []byte{0x00}) {
		t.Errorf("Binary key round trip failed: %v", got)
	}
}

func testRemove(t *testing.T, database db.Database) {
	tree := openTree(t, database, "kv")

	prev, loaded, err := tree.Remove([]byte("missing"))
	if err != nil {
		t.Fatalf("Remove of missing key failed: %v", err)
	}
	if loaded || prev != nil {
		t.Errorf("Remove of missing key should report absence, got %q", prev)
	}

	mustInsert(t, tree, "k", "v")
	prev, loaded, err = tree.Remove([]byte("k"))
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !loaded || string(prev) != "v" {
		t.Errorf("Remove should return the removed value, got %q (loaded=%t)", prev, loaded)
	}
	expectAbsent(t, tree, "k")

	if _, loaded, _ := tree.Remove([]byte("k")); loaded {
		t.Errorf("Second remove should report absence")
	}
}

func testEmptyValue(t *testing.T, database db.Database) {
	tree := openTree(t, database, "kv")

	mustInsert(t, tree, "empty", "")
	got, loaded, err := tree.Get([]byte("empty"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !loaded {
		t.Fatalf("An empty value must not be reported as absent")
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected an empty, non-nil value, got %v", got)
	}

	prev, loaded, _ := tree.Insert([]byte("empty"), []byte("x"))
	if !loaded || len(prev) != 0 {
		t.Errorf("Upsert over an empty value should return it, got %v (loaded=%t)", prev, loaded)
	}
}

func testTreeOpenIdempotent(t *testing.T, database db.Database) {
	a := openTree(t, database, "shared")
	b := openTree(t, database, "shared")

	mustInsert(t, a, "k", "written through a")
	expectValue(t, b, "k", "written through a")

	mustInsert(t, b, "k", "written through b")
	expectValue(t, a, "k", "written through b")

	if string(a.Name()) != "shared" {
		t.Errorf("Name() = %q", a.Name())
	}
}

func testDropTree(t *testing.T, database db.Database) {
	tree := openTree(t, database, "doomed")
	mustInsert(t, tree, "k", "v")

	existed, err := database.DropTree([]byte("doomed"))
	if err != nil {
		t.Fatalf("DropTree failed: %v", err)
	}
	if !existed {
		t.Errorf("DropTree should report that the tree existed")
	}

	existed, err = database.DropTree([]byte("doomed"))
	if err != nil {
		t.Fatalf("Second DropTree failed: %v", err)
	}
	if existed {
		t.Errorf("Second DropTree should report that the tree did not exist")
	}

	// re-opening yields an empty keyspace
	reopened := openTree(t, database, "doomed")
	expectAbsent(t, reopened, "k")

	// old references read the dropped tree as empty and recreate it on write
	expectAbsent(t, tree, "k")
	mustInsert(t, tree, "k2", "v2")
	expectValue(t, reopened, "k2", "v2")

	_, err = database.DropTree([]byte(defaultTreeName(t, database)))
	expectKind(t, err, db.KindUnsupported)
}

// defaultTreeName returns the first tree of a fresh database, which is its default tree
func defaultTreeName(t *testing.T, database db.Database) string {
	t.Helper()
	names, err := database.TreeNames()
	if err != nil || len(names) == 0 {
		t.Fatalf("TreeNames failed: %v (%d names)", err, len(names))
	}
	for _, n := range names {
		if bytes.HasPrefix(n, []byte("__")) {
			return string(n)
		}
	}
	t.Fatalf("no default tree in %q", names)
	return ""
}

func testTreeNames(t *testing.T, database db.Database) {
	names, err := database.TreeNames()
	if err != nil {
		t.Fatalf("TreeNames failed: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("A fresh database should only list its default tree, got %q", names)
	}

	openTree(t, database, "b")
	openTree(t, database, "a")

	names, err = database.TreeNames()
	if err != nil {
		t.Fatalf("TreeNames failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("Expected 3 trees, got %q", names)
	}
	for i := 1; i < len(names); i++ {
		if bytes.Compare(names[i-1], names[i]) >= 0 {
			t.Errorf("Tree names are not in byte order: %q", names)
		}
	}
}

func testChecksum(t *testing.T, database db.Database) {
	a := openTree(t, database, "a")
	b := openTree(t, database, "b")

	sum := func(tree db.Tree) uint32 {
		t.Helper()
		s, err := tree.Checksum()
		if err != nil {
			t.Fatalf("Checksum failed: %v", err)
		}
		return s
	}
	dbSum := func() uint32 {
		t.Helper()
		s, err := database.Checksum()
		if err != nil {
			t.Fatalf("Database checksum failed: %v", err)
		}
		return s
	}

	if sum(a) != sum(b) {
		t.Errorf("Empty trees should have equal checksums")
	}

	mustInsert(t, a, "k1", "v1")
	s1 := sum(a)
	d1 := dbSum()

	mustInsert(t, a, "k2", "v2")
	s2 := sum(a)
	if s2 == s1 {
		t.Errorf("Checksum did not change after insert")
	}
	if dbSum() == d1 {
		t.Errorf("Database checksum did not change after insert")
	}

	if _, _, err := a.Remove([]byte("k2")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if sum(a) == s2 {
		t.Errorf("Checksum did not change after remove")
	}
	if sum(a) != s1 {
		t.Errorf("Checksum should only depend on the contents")
	}

	// same contents, same checksum
	mustInsert(t, b, "k1", "v1")
	if sum(a) != sum(b) {
		t.Errorf("Trees with equal contents should have equal checksums")
	}

	// key/value boundaries matter
	c := openTree(t, database, "c")
	d := openTree(t, database, "d")
	mustInsert(t, c, "ab", "c")
	mustInsert(t, d, "a", "bc")
	if sum(c) == sum(d) {
		t.Errorf("Moving bytes between key and value should change the checksum")
	}
}

func testFlush(t *testing.T, engine db.Engine, options OptionsFactory) {
	synchronous := func(dir string) db.Options {
		o := options(dir)
		o.FlushEvery = 0
		return o
	}
	database := open(t, engine, synchronous)
	tree := openTree(t, database, "kv")

	if n, err := tree.Flush(); err != nil || n != 0 {
		t.Errorf("Flush of an untouched tree = (%d, %v), want (0, nil)", n, err)
	}

	mustInsert(t, tree, "k", "value")
	n, err := tree.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n <= 0 {
		t.Errorf("Flush after a write should report written bytes, got %d", n)
	}

	if n, _ := tree.Flush(); n != 0 {
		t.Errorf("Second flush should report 0 bytes, got %d", n)
	}
}

func testReferences(t *testing.T, database db.Database) {
	clone := database.Clone()
	tree, err := clone.OpenTree([]byte("kv"))
	if err != nil {
		t.Fatalf("OpenTree failed: %v", err)
	}

	if err := clone.Close(); err != nil {
		t.Fatalf("Close of clone failed: %v", err)
	}
	if err := clone.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}

	// the tree keeps the engine alive even after every database reference is gone
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	mustInsert(t, tree, "k", "still usable")
	expectValue(t, tree, "k", "still usable")

	treeClone := tree.Clone()
	if err := tree.Close(); err != nil {
		t.Fatalf("Tree close failed: %v", err)
	}
	expectValue(t, treeClone, "k", "still usable")
	if err := treeClone.Close(); err != nil {
		t.Fatalf("Close of last reference failed: %v", err)
	}

	if _, _, err := treeClone.Get([]byte("k")); err == nil {
		t.Errorf("Using a closed reference should fail")
	}
}

func testPersistence(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")

	database, err := engine.Open(options(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if database.WasRecovered() {
		t.Errorf("A new database cannot be recovered")
	}
	tree, _ := database.OpenTree([]byte("kv"))
	mustInsert(t, tree, "k", "persisted")
	_ = tree.Close()
	if err := database.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	database, err = engine.Open(options(dir))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer database.Close()

	if database.WasRecovered() {
		t.Errorf("A cleanly closed database should not report recovery")
	}
	tree = openTree(t, database, "kv")
	expectValue(t, tree, "k", "persisted")
}

func testCreateModes(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")

	o := options(dir)
	o.Mode = db.OpenExisting
	_, err := engine.Open(o)
	expectKind(t, err, db.KindIO)
	if _, statErr := os.Stat(dir); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("A failed open_existing must not create files")
	}

	o.Mode = db.CreateNew
	database, err := engine.Open(o)
	if err != nil {
		t.Fatalf("create_new on an empty path failed: %v", err)
	}
	_ = database.Close()

	_, err = engine.Open(o)
	expectKind(t, err, db.KindIO)

	o.Mode = db.OpenExisting
	database, err = engine.Open(o)
	if err != nil {
		t.Fatalf("open_existing failed: %v", err)
	}
	_ = database.Close()
}

func testReadOnly(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")

	database, err := engine.Open(options(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, _ := database.OpenTree([]byte("kv"))
	mustInsert(t, tree, "k", "v")
	_ = tree.Close()
	_ = database.Close()

	o := options(dir)
	o.ReadOnly = true
	database, err = engine.Open(o)
	if err != nil {
		t.Fatalf("Read only open failed: %v", err)
	}
	defer database.Close()

	tree = openTree(t, database, "kv")
	expectValue(t, tree, "k", "v")

	_, _, err = tree.Insert([]byte("k"), []byte("new"))
	expectKind(t, err, db.KindUnsupported)
	_, _, err = tree.Remove([]byte("k"))
	expectKind(t, err, db.KindUnsupported)
	_, err = database.DropTree([]byte("kv"))
	expectKind(t, err, db.KindUnsupported)
}

func testTemporary(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")
	o := options(dir)
	o.Temporary = true

	database, err := engine.Open(o)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, _ := database.OpenTree([]byte("kv"))
	mustInsert(t, tree, "k", "v")
	_ = database.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Files must survive while a tree is open: %v", err)
	}

	_ = tree.Close()
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Temporary database files should be removed after the last close")
	}
}

func testCollision(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")

	database, err := engine.Open(options(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer database.Close()

	_, err = engine.Open(options(dir))
	expectKind(t, err, db.KindCollision)
}

// testConcurrentFirstOpen races several opens of a path that does not exist yet.
// Opens that lose the race must not touch the files of the one that won.
func testConcurrentFirstOpen(t *testing.T, engine db.Engine, options OptionsFactory) {
	dir := filepath.Join(t.TempDir(), "db")

	const openers = 4
	databases := make([]db.Database, openers)

	var wg conc.WaitGroup
	for i := 0; i < openers; i++ {
		wg.Go(func() {
			database, err := engine.Open(options(dir))
			if err != nil {
				expectKind(t, err, db.KindCollision)
				return
			}
			databases[i] = database
		})
	}
	wg.Wait()

	var written []string
	for i, database := range databases {
		if database == nil {
			continue
		}
		tree := openTree(t, database, "kv")
		key := fmt.Sprintf("opener-%d", i)
		mustInsert(t, tree, key, key)
		written = append(written, key)
		_ = tree.Close()
		if err := database.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}
	if len(written) == 0 {
		t.Fatalf("Every concurrent open failed")
	}

	database, err := engine.Open(options(dir))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer database.Close()

	tree := openTree(t, database, "kv")
	for _, key := range written {
		expectValue(t, tree, key, key)
	}
}

func testConcurrentInserts(t *testing.T, database db.Database) {
	tree := openTree(t, database, "concurrent")

	const workers = 8
	const keysPerWorker = 100

	var wg conc.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Go(func() {
			for i := 0; i < keysPerWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if _, _, err := tree.Insert([]byte(key), []byte(key)); err != nil {
					t.Errorf("Insert(%s) failed: %v", key, err)
					return
				}
			}
		})
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < keysPerWorker; i++ {
			key := fmt.Sprintf("w%d-k%d", w, i)
			expectValue(t, tree, key, key)
		}
	}
}

func testSizeAndInfo(t *testing.T, engine db.Engine, database db.Database) {
	tree := openTree(t, database, "kv")
	for i := 0; i < 100; i++ {
		mustInsert(t, tree, fmt.Sprintf("k%03d", i), "some value")
	}

	size, err := database.SizeOnDisk()
	if err != nil {
		t.Fatalf("SizeOnDisk failed: %v", err)
	}
	if size == 0 {
		t.Errorf("SizeOnDisk should be positive")
	}

	info := database.Info()
	if info.DbType != engine.Type() {
		t.Errorf("Info().DbType = %s, want %s", info.DbType, engine.Type())
	}
	if info.ID == "" || info.Path != database.Path() {
		t.Errorf("Unexpected info: %+v", info)
	}
	if len(info.Trees) != 2 {
		t.Errorf("Expected default tree and kv, got %v", info.Trees)
	}
	if info.References < 2 {
		t.Errorf("Expected at least 2 references (database and tree), got %d", info.References)
	}
}
