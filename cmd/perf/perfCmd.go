package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nKV/cmd/util"
	"github.com/ValentinKolb/nKV/lib/native"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// PerfCmd benchmarks the operation façade against a local database
	PerfCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for nKV databases",
		Long:    util.WrapString("Runs concurrent insert, get and remove benchmarks through the operation façade. By default the database is temporary and removed afterwards."),
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupDatabaseFlags(PerfCmd)

	// add flags
	key := "skip"
	PerfCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	PerfCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines per CPU to use for the benchmark"))
	key = "large-value-size"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How large the value for the insert-large test should be (in KB)"))
	key = "keys"
	PerfCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "temporary"
	PerfCmd.Flags().Bool(key, true, util.WrapString("Remove the database after the benchmark"))
	key = "csv"
	PerfCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = viper.GetInt("keys")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfKeySpread <= 0 {
		return fmt.Errorf("keys must be positive, got %d", perfKeySpread)
	}
	useScratchPath(cmd)
	return nil
}

// useScratchPath points a temporary benchmark database to a fresh directory unless
// a path was given explicitly, so an existing database is never removed.
func useScratchPath(cmd *cobra.Command) {
	if cmd.Flags().Changed("path") || !viper.GetBool("temporary") {
		return
	}
	viper.Set("path", filepath.Join(os.TempDir(), fmt.Sprintf("nkv-%s-%d", cmd.Name(), os.Getpid())))
}

// benchmark is one named workload. The function receives the benchmark and the tree to work on.
type benchmark struct {
	name string
	fn   func(b *testing.B, m *native.Module, tree *resource.Handle)
}

func benchmarks() []benchmark {
	return []benchmark{
		{"insert", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			getKey, _ := getKeys("insert")
			parallel(b, func(ctx context.Context, counter int) error {
				_, _, err := m.Insert(ctx, tree, getKey(counter), []byte("test"))
				return err
			})
		}},
		{"insert-large", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			largeValue := make([]byte, perfLargeValueSizeKB*1024)
			getKey, _ := getKeys("insert-large")
			parallel(b, func(ctx context.Context, counter int) error {
				_, _, err := m.Insert(ctx, tree, getKey(counter), largeValue)
				return err
			})
		}},
		{"get", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			getKey, keys := getKeys("get")
			prefill(m, tree, keys)
			parallel(b, func(ctx context.Context, counter int) error {
				_, _, err := m.Get(ctx, tree, getKey(counter))
				return err
			})
		}},
		{"get-not", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			getKey, _ := getKeys("get-not")
			parallel(b, func(ctx context.Context, counter int) error {
				_, _, err := m.Get(ctx, tree, getKey(counter))
				return err
			})
		}},
		{"remove", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			getKey, keys := getKeys("remove")
			prefill(m, tree, keys)
			parallel(b, func(ctx context.Context, counter int) error {
				_, _, err := m.Remove(ctx, tree, getKey(counter))
				return err
			})
		}},
		{"mixed", func(b *testing.B, m *native.Module, tree *resource.Handle) {
			getKey, keys := getKeys("mixed")
			prefill(m, tree, keys)
			parallel(b, func(ctx context.Context, counter int) error {
				var err error
				key := getKey(counter)
				switch counter % 3 {
				case 0:
					_, _, err = m.Insert(ctx, tree, key, []byte("test"))
				case 1:
					_, _, err = m.Get(ctx, tree, key)
				case 2:
					_, _, err = m.Remove(ctx, tree, key)
				}
				return err
			})
		}},
	}
}

func run(cmd *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for nKV databases")

	session, err := util.OpenSession(cmd.Context())
	if err != nil {
		return err
	}
	defer session.Close()

	tree, err := session.Tree(cmd.Context())
	if err != nil {
		return err
	}
	defer tree.Release()

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	for _, key := range []string{"path", "mode", "flush-every-ms", "compression", "workers", "temporary"} {
		fmt.Printf("%-20s%v\n", key, viper.Get(key))
	}
	fmt.Printf("%-20s%d\n", "threads", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, bench := range benchmarks() {
		if shouldSkip(bench.name) {
			results[bench.name] = testing.BenchmarkResult{}
			printResult(bench.name, results[bench.name])
			continue
		}
		result := testing.Benchmark(func(b *testing.B) {
			bench.fn(b, session.Module, tree)
		})
		results[bench.name] = result
		printResult(bench.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parallel runs op b.N times across perfNumThreads goroutines per CPU
func parallel(b *testing.B, op func(ctx context.Context, counter int) error) {
	ctx := context.Background()
	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if err := op(ctx, counter); err != nil {
				util.Logger.Errorf("(%s) - operation failed: %v", b.Name(), err)
			}
			counter++
		}
	})
}

// prefill inserts all keys concurrently before a benchmark starts
func prefill(m *native.Module, tree *resource.Handle, keys [][]byte) {
	p := pool.New().WithMaxGoroutines(perfNumThreads)
	for _, key := range keys {
		p.Go(func() {
			if _, _, err := m.Insert(context.Background(), tree, key, []byte("test")); err != nil {
				util.Logger.Errorf("prefill - error inserting key %s: %v", key, err)
			}
		})
	}
	p.Wait()
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// getKeys creates the test keys of a benchmark and a function selecting one by index (with wraparound)
func getKeys(prefix string) (func(int) []byte, [][]byte) {
	keys := make([][]byte, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = []byte(fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i))
	}

	getKey := func(i int) []byte {
		return keys[i%perfKeySpread]
	}
	return getKey, keys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"FlushEveryMs", "Compression", "Workers",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strconv.Itoa(viper.GetInt("flush-every-ms")),
			viper.GetString("compression"),
			strconv.Itoa(viper.GetInt("workers")),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
