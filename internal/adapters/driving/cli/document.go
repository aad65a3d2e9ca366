package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/keystone-data/storekit/internal/core/ports/driven"
)

var setCmd = &cobra.Command{
	Use:   "set <collection> <key> <json>",
	Short: "Store or replace a document",
	Args:  cobra.ExactArgs(3),
	RunE:  runSet,
}

var getCmd = &cobra.Command{
	Use:   "get <collection> <key>",
	Short: "Retrieve a document",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

var delCmd = &cobra.Command{
	Use:   "del <collection> <key>",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(2),
	RunE:  runDel,
}

var existsCmd = &cobra.Command{
	Use:   "exists <collection> <key>",
	Short: "Check whether a document exists",
	Args:  cobra.ExactArgs(2),
	RunE:  runExists,
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(delCmd)
	rootCmd.AddCommand(existsCmd)
}

// withStorage resolves the manager and runs fn against a scoped adapter.
func withStorage(fn func(ctx context.Context, s driven.Storage) error) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	ctx := context.Background()
	return mgr.With(ctx, func(s driven.Storage) error {
		return fn(ctx, s)
	})
}

func runSet(cmd *cobra.Command, args []string) error {
	collection, key, raw := args[0], args[1], args[2]

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("value must be a JSON object: %w", err)
	}

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		if err := s.Store(ctx, collection, key, value); err != nil {
			return err
		}
		cmd.Printf("stored %s/%s\n", collection, key)
		return nil
	})
}

func runGet(cmd *cobra.Command, args []string) error {
	collection, key := args[0], args[1]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		value, err := s.Retrieve(ctx, collection, key)
		if err != nil {
			return err
		}
		return printJSON(cmd, value)
	})
}

func runDel(cmd *cobra.Command, args []string) error {
	collection, key := args[0], args[1]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		removed, err := s.Delete(ctx, collection, key)
		if err != nil {
			return err
		}
		if removed {
			cmd.Printf("deleted %s/%s\n", collection, key)
		} else {
			cmd.Printf("%s/%s not found\n", collection, key)
		}
		return nil
	})
}

func runExists(cmd *cobra.Command, args []string) error {
	collection, key := args[0], args[1]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		ok, err := s.Exists(ctx, collection, key)
		if err != nil {
			return err
		}
		cmd.Println(ok)
		return nil
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
