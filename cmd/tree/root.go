package tree

import (
	"github.com/ValentinKolb/nKV/cmd/util"
	"github.com/ValentinKolb/nKV/lib/resource"
	"github.com/spf13/cobra"
)

var (
	session *util.Session
	tree    *resource.Handle

	// TreeCommands represents the tree command group
	TreeCommands = &cobra.Command{
		Use:                "tree",
		Short:              "Perform key-value operations on a tree",
		PersistentPreRunE:  openTree,
		PersistentPostRunE: closeTree,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add flags describing the database
	util.SetupDatabaseFlags(TreeCommands)

	TreeCommands.PersistentFlags().String("tree", "", util.WrapString("Name of the tree to work on (default tree if empty)"))

	// Add subcommands
	TreeCommands.AddCommand(getCmd)
	TreeCommands.AddCommand(insertCmd)
	TreeCommands.AddCommand(removeCmd)
	TreeCommands.AddCommand(flushCmd)
	TreeCommands.AddCommand(checksumCmd)
}

// openTree opens the database and the selected tree
func openTree(cmd *cobra.Command, _ []string) (err error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if session, err = util.OpenSession(cmd.Context()); err != nil {
		return err
	}
	if tree, err = session.Tree(cmd.Context()); err != nil {
		session.Close()
		session = nil
		return err
	}
	return nil
}

func closeTree(_ *cobra.Command, _ []string) error {
	Release()
	return nil
}

// Release closes the tree and the session of the last command. cobra skips the post run
// hooks of a failed command, so Execute calls it once the command returned.
func Release() {
	if tree != nil {
		_ = tree.Release()
		tree = nil
	}
	if session != nil {
		session.Close()
		session = nil
	}
}
