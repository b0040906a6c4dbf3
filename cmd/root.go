package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/nKV/cmd/db"
	"github.com/ValentinKolb/nKV/cmd/perf"
	"github.com/ValentinKolb/nKV/cmd/tree"
	"github.com/ValentinKolb/nKV/cmd/util"
	"github.com/ValentinKolb/nKV/lib/native"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "nkv",
		Short: "embedded key-value databases",
		Long: fmt.Sprintf(`nKV (v%s)

An embedded, crash-safe key-value store exposed through a small set of
tagged-result operations. Every blocking operation runs on a dedicated
worker pool, handles are reference counted and released by the garbage
collector.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of nKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nKV v%s\n", Version)
		},
	}
	functionsCmd = &cobra.Command{
		Use:   "functions",
		Short: "List the functions of the native module",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := native.Load()
			if err != nil {
				return err
			}
			defer m.Close()
			for _, f := range m.Functions() {
				fmt.Println(f)
			}
			return nil
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(db.DatabaseCommands)
	RootCmd.AddCommand(tree.TreeCommands)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(perf.MetricsCmd)
	RootCmd.AddCommand(functionsCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	err := RootCmd.Execute()

	// sessions of failed commands are still open here
	db.Release()
	tree.Release()

	if err != nil {
		os.Exit(1)
	}
}
