package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/webpilot/pkg/api"
	"github.com/entrhq/webpilot/pkg/config"
)

// shutdownTimeout leaves room for active runs to finish their current step.
const shutdownTimeout = 2 * time.Minute

func newServeCommand(root *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and streaming API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(func(c *config.Config) {
				if cmd.Flags().Changed("address") {
					c.Server.Address = address
				}
			})
			if err != nil {
				return err
			}

			a, err := newApp(cfg, root.install)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := api.NewServer(api.ServerConfig{
				Address:       cfg.Server.Address,
				AllowedOrigin: cfg.Server.AllowedOrigin,
				Heartbeat:     cfg.Server.Heartbeat,
				Loop:          a.loop,
				Sessions:      a.gateway,
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(srv.ListenAndServe)
			g.Go(func() error {
				<-ctx.Done()
				fmt.Fprintln(cmd.OutOrStdout(), tipsStyle.Render("Shutting down gracefully..."))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			fmt.Fprintln(cmd.OutOrStdout(), headerStyle.Render("webpilot v"+version)+" "+
				tipsStyle.Render("listening on "+cfg.Server.Address))
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "address to listen on (overrides server.address)")
	return cmd
}
