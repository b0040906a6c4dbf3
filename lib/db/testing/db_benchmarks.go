package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/nKV/lib/db"
)

// RunEngineBenchmarks runs all benchmarks for an engine implementation
func RunEngineBenchmarks(b *testing.B, name string, engine db.Engine, options OptionsFactory) {
	b.Run("Insert", func(b *testing.B) {
		benchmarkInsert(b, benchTree(b, engine, options))
	})

	b.Run("InsertExisting", func(b *testing.B) {
		benchmarkInsertExisting(b, benchTree(b, engine, options))
	})

	b.Run("InsertLargeValue", func(b *testing.B) {
		benchmarkInsertLargeValue(b, benchTree(b, engine, options))
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, benchTree(b, engine, options))
	})

	b.Run("Get(not)", func(b *testing.B) {
		benchmarkGetNot(b, benchTree(b, engine, options))
	})

	b.Run("Remove", func(b *testing.B) {
		benchmarkRemove(b, benchTree(b, engine, options))
	})

	b.Run("Checksum", func(b *testing.B) {
		benchmarkChecksum(b, benchTree(b, engine, options))
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, benchTree(b, engine, options))
	})
}

// benchTree opens a database in a temporary directory and returns a tree of it.
// Both are closed when the benchmark ends.
func benchTree(b *testing.B, engine db.Engine, options OptionsFactory) db.Tree {
	b.Helper()
	database, err := engine.Open(options(filepath.Join(b.TempDir(), "db")))
	if err != nil {
		b.Fatalf("Open failed: %v", err)
	}
	tree, err := database.OpenTree([]byte("bench"))
	if err != nil {
		b.Fatalf("OpenTree failed: %v", err)
	}
	b.Cleanup(func() {
		_ = tree.Close()
		_ = database.Close()
	})
	return tree
}

func fill(b *testing.B, tree db.Tree, n int) {
	b.Helper()
	value := []byte("benchmark-value")
	for i := 0; i < n; i++ {
		if _, _, err := tree.Insert([]byte(fmt.Sprintf("key-%d", i)), value); err != nil {
			b.Fatalf("Insert failed: %v", err)
		}
	}
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchmarkInsert(b *testing.B, tree db.Tree) {
	var counter atomic.Int64
	value := []byte("benchmark-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter.Add(1))
			if _, _, err := tree.Insert([]byte(key), value); err != nil {
				b.Errorf("Insert failed: %v", err)
				return
			}
		}
	})
}

func benchmarkInsertExisting(b *testing.B, tree db.Tree) {
	const numKeys = 1000
	fill(b, tree, numKeys)
	value := []byte("updated-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			_, _, _ = tree.Insert([]byte(key), value)
		}
	})
}

func benchmarkInsertLargeValue(b *testing.B, tree db.Tree) {
	var counter atomic.Int64
	value := bytes.Repeat([]byte("x"), 64*1024)

	b.SetBytes(int64(len(value)))
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := fmt.Sprintf("large-%d", counter.Add(1))
			_, _, _ = tree.Insert([]byte(key), value)
		}
	})
}

func benchmarkGet(b *testing.B, tree db.Tree) {
	const numKeys = 1000
	fill(b, tree, numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			if _, loaded, err := tree.Get([]byte(key)); err != nil || !loaded {
				b.Errorf("Get(%s) = loaded %t, err %v", key, loaded, err)
				return
			}
		}
	})
}

func benchmarkGetNot(b *testing.B, tree db.Tree) {
	fill(b, tree, 100)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		key := []byte("missing-key")
		for pb.Next() {
			_, _, _ = tree.Get(key)
		}
	})
}

func benchmarkRemove(b *testing.B, tree db.Tree) {
	fill(b, tree, b.N)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = tree.Remove([]byte(fmt.Sprintf("key-%d", i)))
	}
}

func benchmarkChecksum(b *testing.B, tree db.Tree) {
	fill(b, tree, 10_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tree.Checksum(); err != nil {
			b.Fatalf("Checksum failed: %v", err)
		}
	}
}

// 80% reads, 15% writes, 5% removes
func benchmarkMixedUsage(b *testing.B, tree db.Tree) {
	const numKeys = 1000
	fill(b, tree, numKeys)
	value := []byte("mixed-value")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := []byte(fmt.Sprintf("key-%d", r.Intn(numKeys)))
			switch op := r.Intn(100); {
			case op < 80:
				_, _, _ = tree.Get(key)
			case op < 95:
				_, _, _ = tree.Insert(key, value)
			default:
				_, _, _ = tree.Remove(key)
			}
		}
	})
}
