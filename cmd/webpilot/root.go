package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/webpilot/pkg/config"
	"github.com/entrhq/webpilot/pkg/logging"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
	verbosity  string
	install    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "webpilot",
		Short:         "Drive a remote browser toward a natural-language goal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to configuration file (YAML)")
	flags.StringVar(&opts.verbosity, "verbosity", "", "logging verbosity: quiet, normal, verbose, debug")
	flags.BoolVar(&opts.install, "install-driver", false, "download the playwright driver before connecting")

	cmd.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newSessionCommand(opts),
	)
	return cmd
}

// load reads the configuration, applies flag overrides through override and
// configures logging.
func (o *rootOptions) load(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.verbosity != "" {
		cfg.Logging.Verbosity = o.verbosity
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Configure(cfg.LoggingOptions())
	return cfg, nil
}
