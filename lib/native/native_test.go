package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/nKV/lib/boundary"
	"github.com/ValentinKolb/nKV/lib/db"
	"github.com/ValentinKolb/nKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/ValentinKolb/nKV/lib/scheduler"
	"github.com/ValentinKolb/nKV/lib/term"
	"github.com/sourcegraph/conc"
	"go.etcd.io/bbolt"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func load(t *testing.T, opts ...Option) *Module {
	t.Helper()
	m, err := Load(append([]Option{WithWorkers(4)}, opts...)...)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func openDB(t *testing.T, m *Module) (*resource.Handle, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	h, err := m.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = h.Release() })
	return h, dir
}

func openTree(t *testing.T, m *Module, dbh *resource.Handle, name string) *resource.Handle {
	t.Helper()
	h, err := m.TreeOpen(context.Background(), dbh, []byte(name))
	if err != nil {
		t.Fatalf("TreeOpen(%s) failed: %v", name, err)
	}
	t.Cleanup(func() { _ = h.Release() })
	return h
}

func expectTag(t *testing.T, err error, want boundary.Tag) {
	t.Helper()
	if got := boundary.TagOf(err); got != want {
		t.Errorf("expected tag %s, got %s (%v)", want, got, err)
	}
}

func expectErrorTerm(t *testing.T, res term.Tuple, want boundary.Tag) {
	t.Helper()
	if len(res) != 3 || res[0] != term.Error || res[1] != want.Atom() {
		t.Errorf("expected {error, %s, _}, got %s", want, term.Format(res))
	}
}

func okValue(t *testing.T, res term.Tuple) term.Term {
	t.Helper()
	if len(res) != 2 || res[0] != term.OK {
		t.Fatalf("expected {ok, _}, got %s", term.Format(res))
	}
	return res[1]
}

// panicEngine panics on every Open
type panicEngine struct{}

func (panicEngine) Open(db.Options) (db.Database, error) { panic("engine exploded") }
func (panicEngine) Type() db.Implementation              { return "panic" }

// gatedEngine opens bolt databases whose tree inserts wait for gate to be closed.
// Every finished insert is reported on inserted.
type gatedEngine struct {
	db.Engine
	gate     chan struct{}
	inserted chan struct{}
}

func newGatedEngine() *gatedEngine {
	return &gatedEngine{
		Engine:   bolt.NewEngine(),
		gate:     make(chan struct{}),
		inserted: make(chan struct{}, 16),
	}
}

func (e *gatedEngine) Open(opts db.Options) (db.Database, error) {
	d, err := e.Engine.Open(opts)
	if err != nil {
		return nil, err
	}
	return gatedDatabase{Database: d, e: e}, nil
}

type gatedDatabase struct {
	db.Database
	e *gatedEngine
}

func (d gatedDatabase) OpenTree(name []byte) (db.Tree, error) {
	t, err := d.Database.OpenTree(name)
	if err != nil {
		return nil, err
	}
	return gatedTree{Tree: t, e: d.e}, nil
}

type gatedTree struct {
	db.Tree
	e *gatedEngine
}

func (t gatedTree) Insert(key, value []byte) ([]byte, bool, error) {
	<-t.e.gate
	defer func() { t.e.inserted <- struct{}{} }()
	return t.Tree.Insert(key, value)
}

// --------------------------------------------------------------------------
// Typed API
// --------------------------------------------------------------------------

func TestFunctionTable(t *testing.T) {
	m := load(t)

	functions := m.Functions()
	if len(functions) != 14 {
		t.Fatalf("expected 14 functions, got %d", len(functions))
	}
	for _, f := range functions {
		want := scheduler.ClassDirtyIO
		if f.Name == "config_new" {
			want = scheduler.ClassNormal
		}
		if f.Class != want {
			t.Errorf("%s should be %s", f, want)
		}
	}
}

func TestTreeOpenIsIdempotent(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)

	t1 := openTree(t, m, dbh, "t")
	t2 := openTree(t, m, dbh, "t")

	if _, _, err := m.Insert(ctx, t1, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	v, found, err := m.Get(ctx, t2, []byte("k"))
	if err != nil || !found || string(v) != "v" {
		t.Errorf("Get through the second handle = (%q, %v, %v)", v, found, err)
	}
}

func TestUpsertAndAbsence(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	if _, found, err := m.Insert(ctx, tree, []byte("k"), []byte("v1")); err != nil || found {
		t.Fatalf("first Insert = (found=%v, %v)", found, err)
	}
	prev, found, err := m.Insert(ctx, tree, []byte("k"), []byte("v2"))
	if err != nil || !found || string(prev) != "v1" {
		t.Errorf("second Insert = (%q, %v, %v), want v1", prev, found, err)
	}
	if v, _, _ := m.Get(ctx, tree, []byte("k")); string(v) != "v2" {
		t.Errorf("Get = %q, want v2", v)
	}

	if _, found, err := m.Get(ctx, tree, []byte("missing-key")); err != nil || found {
		t.Errorf("Get of a missing key = (found=%v, %v), want absence", found, err)
	}
	if _, found, err := m.Remove(ctx, tree, []byte("missing-key")); err != nil || found {
		t.Errorf("Remove of a missing key = (found=%v, %v), want absence", found, err)
	}

	removed, found, err := m.Remove(ctx, tree, []byte("k"))
	if err != nil || !found || string(removed) != "v2" {
		t.Errorf("Remove = (%q, %v, %v), want v2", removed, found, err)
	}
}

func TestTreeDropIsDestructive(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)

	tree := openTree(t, m, dbh, "t")
	for i := 0; i < 10; i++ {
		_, _, _ = m.Insert(ctx, tree, []byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}

	existed, err := m.TreeDrop(ctx, dbh, []byte("t"))
	if err != nil || !existed {
		t.Fatalf("TreeDrop = (%v, %v), want true", existed, err)
	}

	fresh := openTree(t, m, dbh, "t")
	for i := 0; i < 10; i++ {
		if _, found, _ := m.Get(ctx, fresh, []byte(fmt.Sprintf("k%d", i))); found {
			t.Fatalf("entry k%d survived the drop", i)
		}
	}

	if existed, err := m.TreeDrop(ctx, dbh, []byte("never-created")); err != nil || existed {
		t.Errorf("TreeDrop of an unknown tree = (%v, %v), want false", existed, err)
	}

	_, err = m.TreeDrop(ctx, dbh, []byte(bolt.DefaultTreeName))
	expectTag(t, err, boundary.TagUnsupported)
}

func TestConcurrentInserts(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	const n = 100
	var wg conc.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Go(func() {
			_, _, errs[i] = m.Insert(ctx, tree, []byte(fmt.Sprintf("key-%03d", i)), []byte(fmt.Sprintf("value-%d", i)))
		})
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Insert %d failed: %v", i, errs[i])
		}
		v, found, err := m.Get(ctx, tree, []byte(fmt.Sprintf("key-%03d", i)))
		if err != nil || !found || string(v) != fmt.Sprintf("value-%d", i) {
			t.Errorf("key-%03d lost: (%q, %v, %v)", i, v, found, err)
		}
	}
}

func TestChecksumSensitivity(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	_, _, _ = m.Insert(ctx, tree, []byte("a"), []byte("1"))
	before, err := m.Checksum(ctx, tree)
	if err != nil {
		t.Fatalf("Checksum failed: %v", err)
	}
	dbBefore, err := m.DbChecksum(ctx, dbh)
	if err != nil {
		t.Fatalf("DbChecksum failed: %v", err)
	}

	_, _, _ = m.Insert(ctx, tree, []byte("b"), []byte("2"))
	afterInsert, _ := m.Checksum(ctx, tree)
	if afterInsert == before {
		t.Errorf("checksum did not change after an insert")
	}
	if dbAfter, _ := m.DbChecksum(ctx, dbh); dbAfter == dbBefore {
		t.Errorf("database checksum did not change after an insert")
	}

	_, _, _ = m.Remove(ctx, tree, []byte("b"))
	afterRemove, _ := m.Checksum(ctx, tree)
	if afterRemove == afterInsert {
		t.Errorf("checksum did not change after a remove")
	}
	if afterRemove != before {
		t.Errorf("checksum should only depend on the contents")
	}
}

func TestFlushAndSize(t *testing.T) {
	m := load(t)
	ctx := context.Background()

	// keep the background flusher out of the way
	cfg, err := m.ConfigNew(map[string]any{"path": filepath.Join(t.TempDir(), "db"), "flush_every_ms": 60_000})
	if err != nil {
		t.Fatalf("ConfigNew failed: %v", err)
	}
	defer cfg.Release()
	dbh, err := m.ConfigOpen(ctx, cfg)
	if err != nil {
		t.Fatalf("ConfigOpen failed: %v", err)
	}
	defer dbh.Release()
	tree := openTree(t, m, dbh, "t")

	_, _, _ = m.Insert(ctx, tree, []byte("k"), bytes.Repeat([]byte("x"), 100))
	written, err := m.Flush(ctx, tree)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if written <= 0 {
		t.Errorf("Flush reported %d bytes after an insert", written)
	}
	if again, _ := m.Flush(ctx, tree); again != 0 {
		t.Errorf("second Flush reported %d bytes, want 0", again)
	}

	size, err := m.SizeOnDisk(ctx, dbh)
	if err != nil || size == 0 {
		t.Errorf("SizeOnDisk = (%d, %v)", size, err)
	}

	info, err := m.Info(ctx, dbh)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.DbType != db.ImplBolt {
		t.Errorf("Info().DbType = %s", info.DbType)
	}
}

func TestConfigHandles(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	cfg, err := m.ConfigNew(map[string]any{"path": dir, "flush_every_ms": 0, "use_compression": true})
	if err != nil {
		t.Fatalf("ConfigNew failed: %v", err)
	}
	defer cfg.Release()

	// a config can be opened any number of times
	for i := 0; i < 2; i++ {
		dbh, err := m.ConfigOpen(ctx, cfg)
		if err != nil {
			t.Fatalf("ConfigOpen #%d failed: %v", i, err)
		}
		tree := openTree(t, m, dbh, "t")
		if _, _, err := m.Insert(ctx, tree, []byte(fmt.Sprint(i)), []byte("v")); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_ = tree.Release()
		_ = dbh.Release()
	}

	_, err = m.ConfigNew(map[string]any{"bogus_option": 1})
	expectTag(t, err, boundary.TagConfig)
}

func TestTreeOutlivesDatabaseHandle(t *testing.T) {
	m := load(t)
	ctx := context.Background()

	dbh, err := m.Open(ctx, filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tree, err := m.TreeOpen(ctx, dbh, []byte("t"))
	if err != nil {
		t.Fatalf("TreeOpen failed: %v", err)
	}
	defer tree.Release()

	if err := dbh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := m.DbChecksum(ctx, dbh); boundary.TagOf(err) != boundary.TagWrongResource {
		t.Errorf("released handle should be rejected, got %v", err)
	}

	if _, _, err := m.Insert(ctx, tree, []byte("k"), []byte("v")); err != nil {
		t.Errorf("tree unusable after the database handle was released: %v", err)
	}
}

func TestWasRecovered(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	dbh, err := m.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if recovered, _ := m.WasRecovered(ctx, dbh); recovered {
		t.Errorf("a new database should not be recovered")
	}
	if err := dbh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// clear the clean shutdown marker like a crash before close would
	raw, err := bbolt.Open(filepath.Join(dir, "nkv.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("raw open failed: %v", err)
	}
	err = raw.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("__nkv_meta__")).Put([]byte("clean"), []byte{0})
	})
	_ = raw.Close()
	if err != nil {
		t.Fatalf("clearing the marker failed: %v", err)
	}

	dbh, err = m.Open(ctx, dir)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer dbh.Release()
	if recovered, err := m.WasRecovered(ctx, dbh); err != nil || !recovered {
		t.Errorf("WasRecovered = (%v, %v), want true", recovered, err)
	}
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestWrongResourceKind(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	_, _, err := m.Insert(ctx, dbh, []byte("k"), []byte("v"))
	expectTag(t, err, boundary.TagWrongResource)

	_, err = m.TreeOpen(ctx, tree, []byte("t"))
	expectTag(t, err, boundary.TagWrongResource)

	_, err = m.Checksum(ctx, nil)
	expectTag(t, err, boundary.TagWrongResource)

	// handles of another module are foreign
	other := load(t)
	_, err = other.DbChecksum(ctx, dbh)
	expectTag(t, err, boundary.TagWrongResource)
}

func TestPanicIsIsolated(t *testing.T) {
	m := load(t, WithEngine(panicEngine{}))

	_, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "db"))
	expectTag(t, err, boundary.TagPanic)

	res := m.Call(context.Background(), "open", term.Binary(filepath.Join(t.TempDir(), "db")))
	expectErrorTerm(t, res, boundary.TagPanic)
}

func TestAbandonedInsertKeepsArguments(t *testing.T) {
	engine := newGatedEngine()
	m := load(t, WithEngine(engine))
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	key := []byte("kkkk")
	value := []byte("vvvv")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := m.Insert(ctx, tree, key, value); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	// the caller owns its buffers again once Insert returned
	copy(key, "zzzz")
	copy(value, "xxxx")
	close(engine.gate)
	<-engine.inserted

	ctx = context.Background()
	if _, found, err := m.Get(ctx, tree, []byte("zzzz")); err != nil || found {
		t.Errorf("a key the caller never inserted was stored (found=%t, err=%v)", found, err)
	}
	if v, found, err := m.Get(ctx, tree, []byte("kkkk")); err != nil || !found || string(v) != "vvvv" {
		t.Errorf("get(kkkk) = %q, %t, %v, want %q", v, found, err, "vvvv")
	}
}

func TestCancelledCallsReleaseBorrows(t *testing.T) {
	m := load(t)
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := m.Insert(ctx, tree, []byte("k"), []byte("v")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := m.TreeOpen(ctx, dbh, []byte("other")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// the borrows of the cancelled calls are gone: releasing the handles releases everything
	_ = tree.Release()
	_ = dbh.Release()
	if n := m.Registry().Len(); n != 0 {
		t.Errorf("registry still holds %d entries", n)
	}
}

func TestMetrics(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dbh, _ := openDB(t, m)
	tree := openTree(t, m, dbh, "t")
	_, _, _ = m.Insert(ctx, tree, nil, []byte("v"))

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	for _, want := range []string{
		`nkv_native_call_duration_seconds_bucket{function="open"`,
		`nkv_native_call_errors_total{function="insert",tag="unsupported"} 1`,
		`nkv_scheduler_tasks_total`,
	} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("metrics output misses %q", want)
		}
	}
}

// --------------------------------------------------------------------------
// Term API
// --------------------------------------------------------------------------

func TestCallRoundTrip(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	cfg := okValue(t, m.Call(ctx, "config_new", term.Map{
		"path":           term.Binary(dir),
		"flush_every_ms": term.Integer(0),
		"mode":           term.Atom("create_if_missing"),
	}))
	dbh := okValue(t, m.Call(ctx, "config_open", cfg))
	tree := okValue(t, m.Call(ctx, "tree_open", dbh, term.Binary("t")))

	if v := okValue(t, m.Call(ctx, "insert", tree, term.Binary("k"), term.Binary(""))); !term.IsNil(v) {
		t.Errorf("first insert returned %s, want nil", term.Format(v))
	}
	v := okValue(t, m.Call(ctx, "get", tree, term.Binary("k")))
	if b, ok := v.(term.Binary); !ok || len(b) != 0 {
		t.Errorf("empty value should come back as an empty binary, got %s", term.Format(v))
	}
	if v := okValue(t, m.Call(ctx, "get", tree, term.Binary("missing"))); !term.IsNil(v) {
		t.Errorf("missing key returned %s, want nil", term.Format(v))
	}

	names := okValue(t, m.Call(ctx, "tree_names", dbh)).(term.List)
	if len(names) != 2 {
		t.Errorf("tree_names = %s, want the default tree and t", term.Format(names))
	}
	if _, ok := okValue(t, m.Call(ctx, "checksum", tree)).(term.Integer); !ok {
		t.Errorf("checksum should be an integer")
	}
	if v := okValue(t, m.Call(ctx, "was_recovered", dbh)); v != term.False {
		t.Errorf("was_recovered = %s", term.Format(v))
	}
	if v := okValue(t, m.Call(ctx, "tree_drop", dbh, term.Binary("t"))); v != term.True {
		t.Errorf("tree_drop = %s", term.Format(v))
	}

	for _, h := range []term.Term{tree, dbh, cfg} {
		_ = h.(*resource.Handle).Release()
	}
}

func TestCallValidation(t *testing.T) {
	m := load(t)
	ctx := context.Background()
	dir := t.TempDir()

	// unknown options fail before anything touches the filesystem
	res := m.Call(ctx, "config_new", term.Map{
		"path":         term.Binary(filepath.Join(dir, "db")),
		"bogus_option": term.Integer(1),
	})
	expectErrorTerm(t, res, boundary.TagConfig)
	if !bytes.Contains(res[2].(term.Binary), []byte("bogus_option")) {
		t.Errorf("detail should name the option: %s", term.Format(res))
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("config_new created files: %v", entries)
	}

	expectErrorTerm(t, m.Call(ctx, "nope"), boundary.TagBadArg)
	expectErrorTerm(t, m.Call(ctx, "get", term.Nil), boundary.TagBadArg)
	expectErrorTerm(t, m.Call(ctx, "config_new", term.Binary("x")), boundary.TagBadArg)
	expectErrorTerm(t, m.Call(ctx, "open", term.Integer(1)), boundary.TagBadArg)
	expectErrorTerm(t, m.Call(ctx, "checksum", term.Binary("not a handle")), boundary.TagWrongResource)

	dbh := okValue(t, m.Call(ctx, "open", term.Binary(filepath.Join(dir, "db2"))))
	defer dbh.(*resource.Handle).Release()
	tree := okValue(t, m.Call(ctx, "tree_open", dbh, term.Binary("t")))
	defer tree.(*resource.Handle).Release()

	expectErrorTerm(t, m.Call(ctx, "get", tree, term.Integer(1)), boundary.TagBadArg)
	expectErrorTerm(t, m.Call(ctx, "insert", tree, term.Binary(""), term.Binary("v")), boundary.TagUnsupported)
	expectErrorTerm(t, m.Call(ctx, "get", dbh, term.Binary("k")), boundary.TagWrongResource)
}
