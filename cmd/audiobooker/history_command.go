package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"audiobooker/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent render runs and measured voice paces",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Paths.HistoryDB) == "" {
				return fmt.Errorf("paths.history_db is not configured")
			}
			store, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			paces, err := store.VoicePaces(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]any{"runs": runs, "voice_paces": paces})
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No render runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				rows = append(rows, []string{
					formatTime(run.StartedAt),
					run.BookTitle,
					run.Status,
					fmt.Sprint(run.Rendered),
					fmt.Sprint(run.Cached),
					fmt.Sprint(run.Failed),
					run.Duration().Round(time.Second).String(),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Started", "Book", "Status", "Rendered", "Cached", "Failed", "Took"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))
			if len(paces) > 0 {
				paceRows := make([][]string, 0, len(paces))
				for _, voice := range sortedKeys(paces) {
					paceRows = append(paceRows, []string{voice, fmt.Sprintf("%.2fx", paces[voice])})
				}
				fmt.Fprintln(out, renderTable([]string{"Voice", "Pace"}, paceRows, []columnAlignment{alignLeft, alignRight}))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")
	return cmd
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
