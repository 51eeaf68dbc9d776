package commands

import (
	"fmt"

	"github.com/ncobase/hostkit/config"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	// Define root command
	rootCmd := &cobra.Command{
		Use:           "hostkit",
		Short:         "Extension runtime host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (defaults to ./config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(
		NewRunCommand(opts),
		NewResolveCommand(opts),
		NewVersionCommand(),
	)

	return rootCmd
}

// loadConfig reads the config file. Without an explicit path a missing
// file falls back to the defaults; watchable reports whether a file backs
// the returned configuration.
func loadConfig(path string) (cfg *config.Config, watchable bool, err error) {
	config.SetPath(path)
	cfg, err = config.GetConfig()
	if err == nil {
		return cfg, true, nil
	}
	if path != "" {
		return nil, false, fmt.Errorf("failed to load config: %w", err)
	}
	return config.Default(), false, nil
}
