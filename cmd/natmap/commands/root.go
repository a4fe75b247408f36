// Package commands implements the natmap command line.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nknorg/go-natmap/internal/config"
	"github.com/nknorg/go-natmap/internal/logging"
)

var (
	Version = "dev"
	Commit  = "none"
)

// NewRootCmd builds the natmap command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "natmap",
		Short:         "Allocate port mappings on UPnP IGD and NAT-PMP gateways",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().Duration("timeout", 0, "gateway discovery timeout")

	rootCmd.AddCommand(newMapCmd(), newScanCmd(), newVersionCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads configuration with the persistent flags and extra bound.
func loadConfig(cmd *cobra.Command, extra map[string]string) (*config.Config, *zap.Logger, error) {
	flags := map[string]*pflag.Flag{}
	bind := func(key, name string) {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			flags[key] = f
		}
	}
	bind("logging.level", "log-level")
	bind("logging.format", "log-format")
	bind("discovery.timeout", "timeout")
	for key, name := range extra {
		bind(key, name)
	}

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
