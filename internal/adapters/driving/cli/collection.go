package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/keystone-data/storekit/internal/core/ports/driven"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection (no-op if it already exists)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionCreate,
}

var collectionDropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Drop a collection and all its documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionDrop,
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionDropCmd)
	rootCmd.AddCommand(collectionCmd)
}

func runCollectionCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		if err := s.CreateCollection(ctx, name, nil); err != nil {
			return err
		}
		cmd.Printf("collection %s ready\n", name)
		return nil
	})
}

func runCollectionDrop(cmd *cobra.Command, args []string) error {
	name := args[0]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		if err := s.DropCollection(ctx, name); err != nil {
			return err
		}
		cmd.Printf("collection %s dropped\n", name)
		return nil
	})
}
