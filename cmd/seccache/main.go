package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultmesh/seccache/cmd/seccache/commands"
	"github.com/vaultmesh/seccache/internal/config"
	"github.com/vaultmesh/seccache/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:     "seccache",
		Short:   "Resolve secrets and certificates from the local mount or a vault",
		Long:    `seccache resolves and caches secret and certificate contents from the local secret mount and configured vaults.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
			if err := cfg.Load(); err != nil {
				return err
			}
			return cfg.Apply()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "vaults.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewGetCommand(cfg),
		commands.NewIssuerTLSCommand(cfg),
	)

	return rootCmd.Execute()
}
