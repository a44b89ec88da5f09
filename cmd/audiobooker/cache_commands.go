package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"audiobooker/internal/book"
	"audiobooker/internal/chaptercache"
	"audiobooker/internal/config"
	"audiobooker/internal/failure"
	"audiobooker/internal/fingerprint"
	"audiobooker/internal/ledger"
	"audiobooker/internal/render"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear a project's chapter cache",
	}
	cacheCmd.AddCommand(newCacheStatusCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

// chapterStatus is one row of the cache status view.
type chapterStatus struct {
	Index           int     `json:"index"`
	Title           string  `json:"title"`
	Ledger          string  `json:"ledger_status"`
	Validity        string  `json:"validity"`
	Reason          string  `json:"reason,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
}

type cacheStatus struct {
	Project   string             `json:"project"`
	CacheRoot string             `json:"cache_root"`
	Ledger    string             `json:"ledger"`
	Stats     chaptercache.Stats `json:"stats"`
	Chapters  []chapterStatus    `json:"chapters"`
	Valid     int                `json:"valid"`
	Failed    int                `json:"failed"`
	Report    bool               `json:"failure_report"`
}

func newCacheStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var verify bool

	cmd := &cobra.Command{
		Use:   "status <project.json>",
		Short: "Show which chapters have valid cached audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := loadCacheStatus(cfg, args[0], verify || cfg.Render.VerifyChecksums)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			printCacheStatus(cmd, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	cmd.Flags().BoolVar(&verify, "verify", false, "Re-hash cached files")
	return cmd
}

func loadCacheStatus(cfg *config.Config, projectPath string, verify bool) (cacheStatus, error) {
	project, err := book.Load(projectPath)
	if err != nil {
		return cacheStatus{}, err
	}
	root, err := cfg.CacheRoot(projectPath)
	if err != nil {
		return cacheStatus{}, err
	}
	store := chaptercache.New(root, chaptercache.WithChecksumVerification(verify))
	stats, err := store.Stats()
	if err != nil {
		return cacheStatus{}, err
	}
	led := ledger.Open(filepath.Join(root, ledger.FileName), nil)
	params := cfg.RenderParams()

	status := cacheStatus{
		Project:   projectPath,
		CacheRoot: root,
		Ledger:    led.Path(),
		Stats:     stats,
	}
	for _, ch := range project.Chapters {
		entry, found := led.Get(ch.Index)
		check := store.Check(entry, found, fingerprint.Compute(ch, params))
		row := chapterStatus{
			Index:    ch.Index,
			Title:    ch.DisplayTitle(),
			Ledger:   "-",
			Validity: check.Validity.String(),
			Reason:   check.Reason,
		}
		if found {
			row.Ledger = string(entry.Status)
			row.DurationSeconds = entry.DurationSeconds
			row.SizeBytes = entry.SizeBytes
			row.LastError = entry.LastError
		}
		if check.Validity == chaptercache.Valid {
			status.Valid++
		}
		if found && entry.Status == ledger.StatusFailed {
			status.Failed++
		}
		status.Chapters = append(status.Chapters, row)
	}
	_, status.Report, err = failure.Load(root)
	if err != nil {
		return cacheStatus{}, err
	}
	return status, nil
}

func printCacheStatus(cmd *cobra.Command, status cacheStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cache: %s\n", status.CacheRoot)
	fmt.Fprintf(out, "Files: %d (%s)", status.Stats.Files, formatBytes(status.Stats.TotalBytes))
	if status.Stats.TotalFSBytes > 0 {
		fmt.Fprintf(out, ", %s free", formatBytes(int64(status.Stats.FreeBytes)))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Chapters: %d valid of %d, %d failed\n", status.Valid, len(status.Chapters), status.Failed)
	if status.Report {
		fmt.Fprintln(out, "A failure report exists; run `audiobooker report` to view it.")
	}

	rows := make([][]string, 0, len(status.Chapters))
	for _, ch := range status.Chapters {
		duration := "-"
		if ch.DurationSeconds > 0 {
			duration = formatSeconds(ch.DurationSeconds)
		}
		note := ch.Reason
		if ch.LastError != "" {
			note = ch.LastError
		}
		rows = append(rows, []string{fmt.Sprint(ch.Index), ch.Title, ch.Ledger, ch.Validity, duration, truncate(note, 60)})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Title", "Ledger", "Cache", "Duration", "Note"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <project.json>",
		Short: "Remove cached chapters, the ledger and any failure report",
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
			if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(cmd.OutOrStdout(), "Nothing cached at %s\n", root)
				return nil
			}
			lock, err := render.AcquireLock(root)
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			if err := chaptercache.New(root).Clear(); err != nil {
				return err
			}
			if err := ledger.Open(filepath.Join(root, ledger.FileName), nil).Reset(); err != nil {
				return err
			}
			if err := failure.Remove(root); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared cache at %s\n", root)
			return nil
		},
	}
	return cmd
}

func truncate(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
