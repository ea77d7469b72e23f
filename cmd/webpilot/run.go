package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/entrhq/webpilot/pkg/config"
	"github.com/entrhq/webpilot/pkg/types"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		maxSteps int
		jsonOut  bool
	)

	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a goal to completion, printing the live session URL and every step",
		Example: `  webpilot run "find the price of the cheapest flight from SFO to JFK tomorrow"
  webpilot run --json --max-steps 10 "read the title of example.com"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			goal := types.Goal(strings.TrimSpace(strings.Join(args, " ")))

			cfg, err := root.load(func(c *config.Config) {
				if cmd.Flags().Changed("max-steps") {
					c.Agent.MaxSteps = maxSteps
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

			st, err := a.loop.Start(cmd.Context(), goal)
			if err != nil {
				return err
			}

			r := newStepRenderer(cmd.OutOrStdout(), jsonOut)
			r.Session(st.ID, st.SessionID, st.LiveURL)
			runErr := a.loop.Run(cmd.Context(), st, func(step types.Step) {
				r.Step(st.ID, step)
			})
			r.Finish(st.ID, st.Status, st.LastExtraction, runErr)
			return runErr
		},
	}

	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step budget (overrides agent.max_steps)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print run events as JSON lines")
	return cmd
}
