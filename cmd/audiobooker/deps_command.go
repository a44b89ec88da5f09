package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"audiobooker/internal/deps"
	"audiobooker/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps [project.json]",
		Short: "Check the external tools and directories rendering relies on",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			rows := make([][]string, 0, len(statuses))
			for _, s := range statuses {
				state := "ok"
				detail := s.Path
				if !s.Available {
					state = "missing"
					detail = s.Detail
				}
				rows = append(rows, []string{s.Name, s.Command, state, yesNo(!s.Optional), detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Tool", "Command", "Status", "Required", "Detail"}, rows, nil))

			var cacheRoot string
			if len(args) == 1 {
				if cacheRoot, err = cfg.CacheRoot(args[0]); err != nil {
					return err
				}
			}
			checks := preflight.RunAll(cfg, cacheRoot)
			failed := 0
			if len(checks) > 0 {
				checkRows := make([][]string, 0, len(checks))
				for _, c := range checks {
					state := "ok"
					if !c.Passed {
						state = "failed"
						failed++
					}
					checkRows = append(checkRows, []string{c.Name, state, c.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Status", "Detail"}, checkRows, nil))
			}

			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tool(s) missing; install them or fix the paths in the config", len(missing))
			}
			if failed > 0 {
				return fmt.Errorf("%d preflight check(s) failed", failed)
			}
			return nil
		},
	}
}
