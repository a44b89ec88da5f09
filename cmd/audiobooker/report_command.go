package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"audiobooker/internal/failure"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "report <project.json>",
		Short: "Show the failure report left by the last failed render",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root, err := cfg.CacheRoot(args[0])
			if err != nil {
				return err
			}
			report, ok, err := failure.Load(root)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintln(out, "No failure report; the last render completed or none has run.")
				return nil
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw report")
	return cmd
}

func printReport(cmd *cobra.Command, report failure.Report) {
	out := cmd.OutOrStdout()
	if report.BookTitle != "" {
		fmt.Fprintf(out, "Book: %s\n", report.BookTitle)
	}
	fmt.Fprintf(out, "Run: %s at %s\n", report.RunID, formatTime(report.CreatedAt))
	fmt.Fprintf(out, "Chapters: %d total, %d rendered, %d cached, %d failed\n",
		report.TotalChapters, report.Rendered, report.Cached, report.Failed)
	if report.Stage != "" {
		fmt.Fprintf(out, "Failed during %s: %s\n", report.Stage, report.Error)
	}
	if len(report.Chapters) > 0 {
		rows := make([][]string, 0, len(report.Chapters))
		for _, ch := range report.Chapters {
			utterance, voice, preview := "-", "-", ""
			if u := ch.Utterance; u != nil {
				utterance = fmt.Sprint(u.Index)
				voice = u.Voice
				preview = u.TextPreview
			}
			rows = append(rows, []string{
				fmt.Sprint(ch.Index), ch.Title, ch.ErrorKind, utterance, voice, truncate(preview, 40), truncate(ch.Error, 60),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"#", "Title", "Kind", "Utterance", "Voice", "Text", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
		))
	}
	fmt.Fprintf(out, "Cache: %s\n", report.CacheDir)
	fmt.Fprintf(out, "Ledger: %s\n", report.LedgerPath)
}
