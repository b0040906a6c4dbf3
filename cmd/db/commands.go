package db

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := session.Module.Info(cmd.Context(), session.DB)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	checksumCmd = &cobra.Command{
		Use:   "checksum",
		Short: "Computes the checksum over all trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := session.Module.DbChecksum(cmd.Context(), session.DB)
			if err != nil {
				return err
			}
			size, err := session.Module.SizeOnDisk(cmd.Context(), session.DB)
			if err != nil {
				return err
			}
			fmt.Printf("checksum=%08x, size=%d bytes\n", sum, size)
			return nil
		},
	}
	treesCmd = &cobra.Command{
		Use:   "trees",
		Short: "Lists all trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := session.Module.TreeNames(cmd.Context(), session.DB)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Printf("%s\n", name)
			}
			return nil
		},
	}
	dropTreeCmd = &cobra.Command{
		Use:   "drop-tree [name]",
		Short: "Deletes a tree and all its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := session.Module.TreeDrop(cmd.Context(), session.DB, []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("tree=%s, existed=%t\n", args[0], existed)
			return nil
		},
	}
	recoveredCmd = &cobra.Command{
		Use:   "recovered",
		Short: "Reports whether the database was not closed cleanly",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recovered, err := session.Module.WasRecovered(cmd.Context(), session.DB)
			if err != nil {
				return err
			}
			fmt.Printf("recovered=%t\n", recovered)
			return nil
		},
	}
)
