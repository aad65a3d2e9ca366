package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keystone-data/storekit/internal/core/ports/driven"
)

var keysCmd = &cobra.Command{
	Use:   "keys <collection>",
	Short: "List all keys in a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeys,
}

var queryCmd = &cobra.Command{
	Use:   "query <collection> [field=value ...]",
	Short: "Find documents by exact field match",
	Long: `Returns every document whose value has each given field present and
exactly equal. Values are parsed as JSON where possible, so age=25 matches
a numeric field while name=Alice matches a string.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(queryCmd)
}

func runKeys(cmd *cobra.Command, args []string) error {
	collection := args[0]

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		keys, err := s.ListKeys(ctx, collection)
		if err != nil {
			return err
		}
		for _, key := range keys {
			cmd.Println(key)
		}
		return nil
	})
}

func runQuery(cmd *cobra.Command, args []string) error {
	collection := args[0]

	filters, err := parseFilters(args[1:])
	if err != nil {
		return err
	}

	return withStorage(func(ctx context.Context, s driven.Storage) error {
		results, err := s.Query(ctx, collection, filters)
		if err != nil {
			return err
		}
		return printJSON(cmd, results)
	})
}

// parseFilters turns field=value arguments into a filter map. Values are
// decoded as JSON when they parse, otherwise taken as plain strings.
func parseFilters(args []string) (map[string]any, error) {
	filters := make(map[string]any, len(args))
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value", arg)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		filters[field] = value
	}
	return filters, nil
}
