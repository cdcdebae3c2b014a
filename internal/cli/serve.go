package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/webriots/corun/internal/app"
)

// ServeOptions holds flags overriding the configuration file.
type ServeOptions struct {
	Listen         string
	MaxConnections int
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Listen, "listen", "l", "", "listen address, overrides the configuration")
	cmd.Flags().IntVar(&opts.MaxConnections, "max-connections", -1, "connection limit, overrides the configuration")

	return cmd
}

func runServe(rootOpts *RootOptions, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.MaxConnections >= 0 {
		cfg.Server.MaxConnections = opts.MaxConnections
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	i := app.New(cfg, cmd.ErrOrStderr())
	defer i.Shutdown()

	return app.Serve(ctx, i, ctx.Done())
}
