// Package cli implements the corun-echo command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/webriots/corun/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Config  string
}

// NewRootCommand creates the root command of corun-echo.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "corun-echo",
		Short: "Echo server on the corun coroutine runtime",
		Long: `An echo server whose connections are served by cooperative coroutines
on a single scheduler loop, with a bound on concurrent connections.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log at debug level")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "configuration file (.yaml, .yml or .toml)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// loadConfig returns the configuration selected by the global flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return nil, err
		}
	}
	if opts.Verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, nil
}
