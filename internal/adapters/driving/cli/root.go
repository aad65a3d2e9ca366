// Package cli implements the storekit command line interface.
//
// Commands resolve a storage manager from either a TOML config file
// (--config) or the STORAGE_* environment variables, then run against a
// scoped adapter so the backend is always closed on exit.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/keystone-data/storekit/internal/logger"
	"github.com/keystone-data/storekit/internal/manager"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "storekit",
	Short: "Inspect and manipulate storekit collections",
	Long: `storekit is an operations tool for the storekit storage layer.

The backend is selected from a TOML config file (--config) or from
STORAGE_* environment variables. Without either, the embedded sqlite
backend at data/storekit.db is used.

Examples:
  # Store and fetch a document
  storekit set users u1 '{"name":"Alice","age":25}'
  storekit get users u1

  # List and query
  storekit keys users
  storekit query users name=Alice

  # Collection management
  storekit collection create users
  storekit collection drop users`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML storage config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

// newManager resolves the storage manager for the current invocation.
func newManager() (*manager.Manager, error) {
	if configPath != "" {
		return manager.FromFile(configPath)
	}
	return manager.FromEnv()
}

// SetVersion sets the version string reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
