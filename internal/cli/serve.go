package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/storyloop/internal/api"
)

func newServeCmd() *cobra.Command {
	var autoAdvance bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control surface",
		Long: `Start the storyloop API server.

The server exposes REST commands for each task session, an SSE stream of
phase transitions and agent output, a websocket terminal attached to the
running agent, and Prometheus metrics at /metrics.

Example:
  storyloop serve                  # listen on server.addr (default :7420)
  storyloop serve --addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, tc, engineOptions{autoAdvance: autoAdvance})
			if err != nil {
				return err
			}

			server := api.New(api.Config{
				Addr:       a.cfg.Server.Addr,
				KeepAlive:  a.cfg.Server.KeepAlive,
				Logger:     a.logger,
				Sessions:   a.sessions,
				Store:      a.store,
				Workspaces: a.workspaces,
				Terminal:   a.runner,
			})

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "storyloop serving %s on %s\n", a.root, a.cfg.Server.Addr)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.StartContext(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				a.logger.Info("shutting down")
				return a.Close()
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoAdvance, "auto-advance", false, "start the next story automatically after each one passes")
	return cmd
}
