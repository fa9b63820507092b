package main

import (
	"github.com/spf13/cobra"

	"github.com/shopdex/shopdex/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// resolveConfigFile returns the --config value, falling back to the
// conventional XDG location when the flag was not given.
func resolveConfigFile() string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultPath()
}

// NewRootCmd creates the root command for the Shopdex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopdex",
		Short: "Shopdex - locations and inventory directory backend",
		Long: `Shopdex serves the HTTP backend for a locations and inventory
directory: account registration and login, JWT sessions with refresh
token rotation, and self-service password recovery.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (default $XDG_CONFIG_HOME/shopdex/config.yaml when present)")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
