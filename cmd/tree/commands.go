package tree

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if value, found, err := session.Module.Get(cmd.Context(), tree, []byte(key)); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, value=%s\n", key, found, value)
			}
			return nil
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Sets the value for a key and prints the previous value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]
			if prev, found, err := session.Module.Insert(cmd.Context(), tree, []byte(key), []byte(value)); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, replaced=%v, previous=%s\n", key, found, prev)
			}
			return nil
		},
	}
	removeCmd = &cobra.Command{
		Use:   "remove [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if prev, found, err := session.Module.Remove(cmd.Context(), tree, []byte(key)); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, removed=%v, value=%s\n", key, found, prev)
			}
			return nil
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Makes all writes to the tree durable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if written, err := session.Module.Flush(cmd.Context(), tree); err != nil {
				return err
			} else {
				fmt.Printf("flushed %d bytes\n", written)
			}
			return nil
		},
	}
	checksumCmd = &cobra.Command{
		Use:   "checksum",
		Short: "Computes the checksum of the tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sum, err := session.Module.Checksum(cmd.Context(), tree); err != nil {
				return err
			} else {
				fmt.Printf("checksum=%08x\n", sum)
			}
			return nil
		},
	}
)
