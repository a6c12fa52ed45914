// Package commands implements the filecached CLI: a Cobra root command with
// serve, stats, and version subcommands, Viper-backed configuration with
// environment > file > default precedence (see pkg/config.Load); --config
// is the only flag that affects configuration.
package commands

import (
	"github.com/spf13/cobra"
)

// Build-time variables, set by main from -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "filecached",
	Short: "An in-memory, network-accessible file cache",
	Long: `filecached serves many concurrent clients over a local stream socket to
open, read, write, append to, lock, unlock, remove, and bulk-read named
byte-blob files, under a bounded file count and byte size with FIFO
eviction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml or /etc/filecached/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}
