package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and release browser sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a session and print its id and live view URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}
			gateway, err := newGateway(cfg)
			if err != nil {
				return err
			}

			lease, err := gateway.Open(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Session"), lease.ID)
			fmt.Fprintf(out, "%s %s\n", tipsStyle.Render("Live view:"), lease.LiveURL)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "release <id>",
		Short: "Release a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(nil)
			if err != nil {
				return err
			}
			gateway, err := newGateway(cfg)
			if err != nil {
				return err
			}

			if err := gateway.Release(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", toolStyle.Render("Released"), args[0])
			return nil
		},
	})

	return cmd
}
