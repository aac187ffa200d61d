package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/sai/server"
)

func newServeCmd(opts *rootOptions, d deps) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session over HTTP with a websocket event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, opts, d)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if addr == "" {
				addr = a.cfg.Addr
			}
			srvCfg := server.Config{
				Addr:    addr,
				Session: a.session,
				Hub:     a.hub,
				Journal: a.journal,
				Logger:  a.logger,
			}
			if a.tp != nil {
				srvCfg.TracerProvider = a.tp
			}
			srv, err := server.New(srvCfg)
			if err != nil {
				return err
			}
			if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to SAI_ADDR or 127.0.0.1:7171)")
	return cmd
}
