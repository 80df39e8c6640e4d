package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"completion-gateway/internal/server"
)

func newServeCmd() *cobra.Command {
	flags := &providerFlags{}
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw, cfg, logger, err := loadGateway(cmd, *flags)
			if err != nil {
				return err
			}
			srv := server.NewServer(gw, server.Config{
				Addr:            firstNonEmpty(addr, cfg.Server.Addr),
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	flags.register(cmd)
	return cmd
}
