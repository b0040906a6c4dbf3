package perf

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/nKV/cmd/util"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// MetricsCmd runs a short workload and prints the module metrics in Prometheus text format
var MetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Prints the metrics of a short workload",
	Long:  util.WrapString("Runs a short concurrent insert/get/remove workload through the operation façade and prints the collected metrics (call latencies, errors by tag and scheduler statistics) in Prometheus text format."),
	Args:  cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := util.BindCommandFlags(cmd); err != nil {
			return err
		}
		useScratchPath(cmd)
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
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

		ctx := context.Background()
		m := session.Module
		ops := viper.GetInt("ops")

		var wg conc.WaitGroup
		for g := 0; g < viper.GetInt("threads"); g++ {
			wg.Go(func() {
				for i := 0; i < ops; i++ {
					key := []byte(fmt.Sprintf("__metrics-%d-%d", g, i))
					_, _, _ = m.Insert(ctx, tree, key, []byte("value"))
					_, _, _ = m.Get(ctx, tree, key)
					_, _, _ = m.Remove(ctx, tree, key)
				}
			})
		}
		wg.Wait()

		_, _ = m.Flush(ctx, tree)
		m.WritePrometheus(os.Stdout)
		return nil
	},
}

func init() {
	util.SetupDatabaseFlags(MetricsCmd)

	key := "threads"
	MetricsCmd.Flags().Int(key, 4, util.WrapString("Number of goroutines running the workload"))
	key = "ops"
	MetricsCmd.Flags().Int(key, 100, util.WrapString("Operations per goroutine"))
	key = "temporary"
	MetricsCmd.Flags().Bool(key, true, util.WrapString("Remove the database afterwards"))
}
