package bolt

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/nKV/lib/db"
	dbtesting "github.com/ValentinKolb/nKV/lib/db/testing"
	"go.etcd.io/bbolt"
)

func testOptions(dir string) db.Options {
	return db.Options{
		Path:              dir,
		CacheCapacity:     1 << 20,
		FlushEvery:        50 * time.Millisecond,
		CompressionFactor: 5,
	}
}

func Test(t *testing.T) {
	dbtesting.RunEngineTests(t, "BoltDB", NewEngine(), testOptions)
}

func TestSynchronous(t *testing.T) {
	dbtesting.RunEngineTests(t, "BoltDB(sync)", NewEngine(), func(dir string) db.Options {
		o := testOptions(dir)
		o.FlushEvery = 0
		return o
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunEngineBenchmarks(b, "BoltDB", NewEngine(), testOptions)
}

// abandon closes the files without writing the clean shutdown marker, like a crash would
func (c *core) abandon() {
	if c.stopFlush != nil {
		close(c.stopFlush)
		<-c.flushDone
	}
	_ = c.bolt.Close()
	c.codec.Close()
}

func TestWasRecovered(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	d, err := NewEngine().Open(testOptions(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, _ := d.OpenTree([]byte("kv"))
	if _, _, err := tree.Insert([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := tree.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	d.(*database).c.abandon()

	d, err = NewEngine().Open(testOptions(dir))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if !d.WasRecovered() {
		t.Errorf("Expected WasRecovered after an unclean shutdown")
	}
	tree, _ = d.OpenTree([]byte("kv"))
	if v, loaded, _ := tree.Get([]byte("k")); !loaded || string(v) != "v" {
		t.Errorf("Flushed data lost after recovery: %q", v)
	}
	_ = tree.Close()
	_ = d.Close()

	// a clean close resets the marker
	d, err = NewEngine().Open(testOptions(dir))
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer d.Close()
	if d.WasRecovered() {
		t.Errorf("Expected a clean start after a clean close")
	}
}

func TestTreeHoldsDatabaseClone(t *testing.T) {
	d, err := NewEngine().Open(testOptions(filepath.Join(t.TempDir(), "db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	c := d.(*database).c

	kv, err := d.OpenTree([]byte("kv"))
	if err != nil {
		t.Fatalf("OpenTree failed: %v", err)
	}
	clone := kv.Clone()

	owner := kv.(*tree).owner
	if owner == nil || owner == d.(*database) || owner.c != c {
		t.Fatalf("tree should own a separate reference to its database")
	}
	if got := c.refs.Load(); got != 3 {
		t.Errorf("refs = %d, want 3 (database, tree, clone)", got)
	}

	_ = d.Close()
	_ = kv.Close()
	if !owner.closed.Load() {
		t.Errorf("closing the tree should close its database reference")
	}
	if _, _, err := clone.Insert([]byte("k"), []byte("v")); err != nil {
		t.Errorf("the clone should keep the database open: %v", err)
	}
	if got := c.refs.Load(); got != 1 {
		t.Errorf("refs = %d, want 1", got)
	}
	_ = clone.Close()
	if got := c.refs.Load(); got != 0 {
		t.Errorf("refs = %d, want 0 after the last close", got)
	}
}

func TestReservedTrees(t *testing.T) {
	d, err := NewEngine().Open(testOptions(filepath.Join(t.TempDir(), "db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer d.Close()

	names, err := d.TreeNames()
	if err != nil {
		t.Fatalf("TreeNames failed: %v", err)
	}
	if len(names) != 1 || string(names[0]) != DefaultTreeName {
		t.Errorf("TreeNames() = %q, want only the default tree", names)
	}

	if _, err := d.OpenTree([]byte(metaBucket)); db.KindOf(err) != db.KindUnsupported {
		t.Errorf("opening the metadata tree should be unsupported, got %v", err)
	}
	if _, err := d.DropTree([]byte(DefaultTreeName)); db.KindOf(err) != db.KindUnsupported {
		t.Errorf("dropping the default tree should be unsupported, got %v", err)
	}
	if _, err := d.OpenTree(nil); db.KindOf(err) != db.KindUnsupported {
		t.Errorf("empty tree names should be unsupported, got %v", err)
	}

	tree, err := d.OpenTree([]byte(DefaultTreeName))
	if err != nil {
		t.Fatalf("opening the default tree failed: %v", err)
	}
	defer tree.Close()
	if _, _, err := tree.Insert(nil, []byte("v")); db.KindOf(err) != db.KindUnsupported {
		t.Errorf("empty keys should be unsupported, got %v", err)
	}
}

func TestCorruptValue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	d, err := NewEngine().Open(testOptions(dir))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, _ := d.OpenTree([]byte("kv"))
	defer tree.Close()
	defer d.Close()

	// write a value with an unknown codec header behind the engine's back
	err = d.(*database).c.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("kv")).Put([]byte("bad"), []byte{0x7f, 'x'})
	})
	if err != nil {
		t.Fatalf("raw put failed: %v", err)
	}

	if _, _, err := tree.Get([]byte("bad")); db.KindOf(err) != db.KindCorruption {
		t.Errorf("Get of a corrupt value should report corruption, got %v", err)
	}
	if _, err := tree.Checksum(); db.KindOf(err) != db.KindCorruption {
		t.Errorf("Checksum over a corrupt value should report corruption, got %v", err)
	}
}

func TestProfileOnDrop(t *testing.T) {
	o := testOptions(filepath.Join(t.TempDir(), "db"))
	o.PrintProfileOnDrop = true

	d, err := NewEngine().Open(o)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, _ := d.OpenTree([]byte("kv"))
	_, _, _ = tree.Insert([]byte("k"), []byte("value"))
	_, _, _ = tree.Get([]byte("k"))

	p := d.(*database).c.profile.String()
	for _, op := range []string{"insert", "get", "tree_open", "value sizes"} {
		if !bytes.Contains([]byte(p), []byte(op)) {
			t.Errorf("profile misses %q:\n%s", op, p)
		}
	}

	_ = tree.Close()
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFold(t *testing.T) {
	if fold(0xffffffff00000000) != 0xffffffff {
		t.Errorf("fold should mix the high half into the low half")
	}
	if fold(0x1) != 0x1 {
		t.Errorf("fold(1) = %d", fold(1))
	}
}
