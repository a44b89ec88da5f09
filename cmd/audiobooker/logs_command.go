package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"audiobooker/internal/logging"
	"audiobooker/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var runID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent entries from the audiobooker log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return fmt.Errorf("--lines must be zero or more")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
			filter := logs.RunFilter(runID)

			recent, offset, err := logs.Last(path, lines, filter)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recent) == 0 && !follow {
				fmt.Fprintf(out, "No log entries in %s\n", path)
				return nil
			}
			for _, line := range recent {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = logs.Follow(sigCtx, path, offset, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&runID, "run", "", "Only show lines for this render run id")
	return cmd
}
