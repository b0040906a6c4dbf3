package db

import (
	"github.com/ValentinKolb/nKV/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session *util.Session

	// DatabaseCommands represents the database command group
	DatabaseCommands = &cobra.Command{
		Use:                "db",
		Short:              "Inspect and maintain a database",
		PersistentPreRunE:  openSession,
		PersistentPostRunE: closeSession,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add flags describing the database
	util.SetupDatabaseFlags(DatabaseCommands)

	// Add subcommands
	DatabaseCommands.AddCommand(infoCmd)
	DatabaseCommands.AddCommand(checksumCmd)
	DatabaseCommands.AddCommand(treesCmd)
	DatabaseCommands.AddCommand(dropTreeCmd)
	DatabaseCommands.AddCommand(recoveredCmd)
}

// openSession binds the flags and opens the database
func openSession(cmd *cobra.Command, _ []string) (err error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	session, err = util.OpenSession(cmd.Context())
	return err
}

func closeSession(_ *cobra.Command, _ []string) error {
	Release()
	return nil
}

// Release closes the session of the last command. It also runs when the command failed.
func Release() {
	if session != nil {
		session.Close()
		session = nil
	}
}
