// Package server provides the `quantor server` command.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quantor/quantor/cmd/quantor/internal/bind"
	"github.com/quantor/quantor/pkg/config"
	"github.com/quantor/quantor/pkg/server/app"
)

// NewCommand constructs the server command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "server",
		Short:   "Run the job coordination server",
		Long:    `Serves the HTTP API: job admission, status, live event streams and the administrative dashboard. Runs until interrupted.`,
		GroupID: "core",
		Args:    cobra.NoArgs,
		RunE:    runServerCommand,
	}

	defaults := config.DefaultServerConfig()
	cmd.Flags().String("addr", defaults.Addr, "Listen address")
	cmd.Flags().Int("port", defaults.Port, "Listen port")
	cmd.Flags().Bool("no-api", false, "Serve health endpoints only")

	return cmd
}

func runServerCommand(cmd *cobra.Command, args []string) error {
	opts, err := bind.BindServerOptions(cmd)
	if err != nil {
		return err
	}

	manager, ok := config.ManagerFrom(cmd.Context())
	if !ok {
		return fmt.Errorf("configuration missing from context")
	}
	cfg := manager.Get()
	cfg.Server.Addr = opts.Addr
	cfg.Server.Port = opts.Port
	if opts.NoAPI {
		cfg.Server.APIEnabled = false
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("component", "server").
		Strs("kinds", a.Deps().Kinds.Names()).
		Msg("Starting server")

	return a.Run(ctx)
}
