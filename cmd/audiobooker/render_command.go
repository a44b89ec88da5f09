package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"audiobooker/internal/assembly"
	"audiobooker/internal/book"
	"audiobooker/internal/config"
	"audiobooker/internal/history"
	"audiobooker/internal/logging"
	"audiobooker/internal/media/ffprobe"
	"audiobooker/internal/notifications"
	"audiobooker/internal/progress"
	"audiobooker/internal/publish"
	"audiobooker/internal/render"
	"audiobooker/internal/services"
	"audiobooker/internal/services/ffmpeg"
	"audiobooker/internal/services/tts"
	"audiobooker/internal/synthesis"
)

// pipeline holds the external collaborators a render needs.
type pipeline struct {
	synth synthesis.Synthesizer
	muxer assembly.Muxer
	probe assembly.DurationFunc
}

// newPipeline builds the synthesis and assembly tools from configuration.
// Tests replace it to avoid running piper and ffmpeg.
var newPipeline = func(cfg *config.Config, logger *slog.Logger) (pipeline, error) {
	synth, err := tts.NewFromConfig(cfg, logger)
	if err != nil {
		return pipeline{}, err
	}
	return pipeline{
		synth: synth,
		muxer: ffmpeg.NewMuxer(logger, cfg.FFmpeg.FFmpegBinary),
		probe: ffprobe.New(cfg.FFmpeg.FFprobeBinary).Duration,
	}, nil
}

// uploader publishes a finished audiobook and returns its URL.
type uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

var newUploader = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (uploader, error) {
	return publish.NewS3Uploader(ctx, publish.FromConfig(cfg.Publish), logger)
}

type renderFlags struct {
	output        string
	noResume      bool
	fromChapter   int
	chapter       int
	allowPartial  bool
	cleanCache    bool
	workers       int
	noRetryFailed bool
	verify        bool
	publish       bool
	jsonOutput    bool
}

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var flags renderFlags

	cmd := &cobra.Command{
		Use:   "render <project.json>",
		Short: "Synthesize and assemble a project, reusing cached chapters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts, err := renderOptions(cmd, cfg, flags, args[0])
			if err != nil {
				return err
			}
			return runRender(cmd, cfg, logger, args[0], opts, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output audiobook path (default: beside the project file)")
	cmd.Flags().BoolVar(&flags.noResume, "no-resume", false, "Re-synthesize every selected chapter even when cached audio is valid")
	cmd.Flags().IntVar(&flags.fromChapter, "from-chapter", 0, "Skip synthesis of chapters before this index")
	cmd.Flags().IntVar(&flags.chapter, "chapter", -1, "Render only this chapter and write its audio to the output path")
	cmd.Flags().BoolVar(&flags.allowPartial, "allow-partial", false, "Continue past failed chapters and assemble what is available")
	cmd.Flags().BoolVar(&flags.cleanCache, "clean-cache", false, "Discard all cached chapters before rendering")
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 0, "Concurrent chapter syntheses (default from config)")
	cmd.Flags().BoolVar(&flags.noRetryFailed, "no-retry-failed", false, "Leave chapters that failed in an earlier run failed")
	cmd.Flags().BoolVar(&flags.verify, "verify", false, "Re-hash cached chapter audio before trusting it")
	cmd.Flags().BoolVar(&flags.publish, "publish", false, "Upload the finished audiobook to the configured S3 bucket")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the run summary as JSON")
	cmd.MarkFlagsMutuallyExclusive("chapter", "from-chapter")

	return cmd
}

// renderOptions merges configuration defaults with command-line overrides.
func renderOptions(cmd *cobra.Command, cfg *config.Config, flags renderFlags, projectPath string) (render.Options, error) {
	opts := render.DefaultOptions()
	opts.Resume = cfg.Render.Resume && !flags.noResume
	opts.AllowPartial = cfg.Render.AllowPartial
	if cmd.Flags().Changed("allow-partial") {
		opts.AllowPartial = flags.allowPartial
	}
	opts.RetryFailed = cfg.Render.RetryFailed && !flags.noRetryFailed
	opts.VerifyChecksums = cfg.Render.VerifyChecksums || flags.verify
	opts.ValidateVoices = cfg.Render.ValidateVoices
	opts.CleanCache = flags.cleanCache
	opts.Workers = cfg.Render.Workers
	if cmd.Flags().Changed("workers") {
		if flags.workers < 1 {
			return opts, fmt.Errorf("--workers must be at least 1, got %d", flags.workers)
		}
		opts.Workers = flags.workers
	}
	if flags.fromChapter < 0 {
		return opts, fmt.Errorf("--from-chapter must not be negative, got %d", flags.fromChapter)
	}
	opts.StartChapter = flags.fromChapter
	if cmd.Flags().Changed("chapter") {
		if flags.chapter < 0 {
			return opts, fmt.Errorf("--chapter must not be negative, got %d", flags.chapter)
		}
		index := flags.chapter
		opts.OnlyChapter = &index
	}
	opts.GapMS = cfg.Audio.ChapterPauseMS

	output := strings.TrimSpace(flags.output)
	if output == "" {
		if opts.OnlyChapter != nil {
			output = strings.TrimSuffix(cfg.DefaultOutputPath(projectPath), "."+cfg.Audio.Format) + fmt.Sprintf(".chapter_%04d.wav", *opts.OnlyChapter)
		} else {
			output = cfg.DefaultOutputPath(projectPath)
		}
	} else {
		expanded, err := config.ExpandPath(output)
		if err != nil {
			return opts, fmt.Errorf("resolve output path: %w", err)
		}
		output = expanded
	}
	opts.OutputPath = output
	return opts, nil
}

func runRender(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, projectPath string, opts render.Options, flags renderFlags) error {
	if flags.publish && !cfg.Publish.Enabled() {
		return errors.New("--publish requires publish.s3_bucket in the configuration")
	}

	project, err := book.Load(projectPath)
	if err != nil {
		return err
	}
	cacheRoot, err := cfg.CacheRoot(projectPath)
	if err != nil {
		return err
	}
	tools, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newProgressPrinter(cmd.ErrOrStderr())
	rendererOpts := []render.Option{
		render.WithLogger(logger),
		render.WithDurationProbe(tools.probe),
		render.WithProgressOptions(progress.Options{
			Alpha:          cfg.Progress.EWMAAlpha,
			DefaultPace:    cfg.Progress.DefaultPace,
			WordsPerMinute: cfg.Progress.WordsPerMinute,
		}),
		render.WithProgressFunc(printer.update),
	}
	if cfg.Paths.HistoryDB != "" {
		store, err := history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "pace estimates start from defaults and this run is not recorded"),
				logging.String(logging.FieldErrorHint, "check paths.history_db"),
			)
		} else {
			defer store.Close()
			rendererOpts = append(rendererOpts, render.WithHistory(store))
		}
	}

	renderer := render.New(tools.synth, tools.muxer, rendererOpts...)
	result, renderErr := renderer.Render(runCtx, project, cfg.RenderParams(), cacheRoot, opts)
	printer.finish()

	if errors.Is(renderErr, render.ErrLocked) {
		return renderErr
	}
	if flags.jsonOutput {
		if err := writeJSON(cmd, newRenderSummary(result, renderErr)); err != nil {
			return err
		}
	} else {
		printRenderSummary(cmd.OutOrStdout(), result, renderErr)
	}
	notifyRender(runCtx, notifications.NewService(cfg), logger, project.Title, result, renderErr)
	if renderErr != nil {
		return renderErr
	}

	if flags.publish && result.OutputPath != "" {
		up, err := newUploader(runCtx, cfg, logger)
		if err != nil {
			return err
		}
		url, err := up.Upload(runCtx, result.OutputPath)
		if err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published: %s\n", url)
	}
	return nil
}

// notifyRender reports the outcome of a run. Delivery failures are logged
// and do not change the command result.
func notifyRender(ctx context.Context, svc notifications.Service, logger *slog.Logger, title string, result render.Result, renderErr error) {
	if errors.Is(renderErr, context.Canceled) || ctx.Err() != nil {
		return
	}
	var err error
	if renderErr != nil {
		err = svc.NotifyRenderFailed(ctx, title, renderErr, result.ReportPath)
	} else {
		err = svc.NotifyRenderCompleted(ctx, notifications.RenderSummary{
			BookTitle:  title,
			OutputPath: result.OutputPath,
			Rendered:   result.Rendered,
			Cached:     result.Cached,
			Failed:     result.Failed,
			Missing:    result.Missing(),
			Elapsed:    result.FinishedAt.Sub(result.StartedAt),
		})
	}
	if err != nil {
		logging.WarnWithContext(logger, "render notification not delivered", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// renderSummary is the machine-readable run summary.
type renderSummary struct {
	RunID            string   `json:"run_id"`
	OutputPath       string   `json:"output_path,omitempty"`
	Rendered         int      `json:"rendered"`
	Cached           int      `json:"cached"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
	Missing          []int    `json:"missing_chapters,omitempty"`
	ChaptersEmbedded bool     `json:"chapters_embedded"`
	FallbackReason   string   `json:"fallback_reason,omitempty"`
	DurationSeconds  float64  `json:"duration_seconds"`
	ReportPath       string   `json:"failure_report,omitempty"`
	LedgerRecovered  string   `json:"ledger_recovered,omitempty"`
	SelfHealed       []int    `json:"self_healed,omitempty"`
	Error            string   `json:"error,omitempty"`
	ErrorKind        string   `json:"error_kind,omitempty"`
	Failures         []string `json:"failures,omitempty"`
}

func newRenderSummary(result render.Result, err error) renderSummary {
	summary := renderSummary{
		RunID:           result.RunID,
		OutputPath:      result.OutputPath,
		Rendered:        result.Rendered,
		Cached:          result.Cached,
		Failed:          result.Failed,
		Skipped:         result.Skipped,
		Missing:         result.Missing(),
		ReportPath:      result.ReportPath,
		LedgerRecovered: result.LedgerRecovered,
	}
	if result.Assembly != nil {
		summary.ChaptersEmbedded = result.Assembly.ChaptersEmbedded
		summary.FallbackReason = result.Assembly.FallbackReason
		summary.DurationSeconds = result.Assembly.DurationSeconds
	}
	for _, ch := range result.Chapters {
		if ch.SelfHealed {
			summary.SelfHealed = append(summary.SelfHealed, ch.Index)
		}
		if ch.State == render.StateFailed {
			summary.Failures = append(summary.Failures, fmt.Sprintf("chapter %d (%s): %s", ch.Index, ch.Title, ch.Error))
		}
	}
	if err != nil {
		summary.Error = err.Error()
		summary.ErrorKind = services.Classify(err)
	}
	return summary
}

func printRenderSummary(out io.Writer, result render.Result, err error) {
	if len(result.Chapters) == 0 {
		return
	}
	if result.LedgerRecovered != "" {
		fmt.Fprintf(out, "Ledger was unreadable (%s); all chapters were re-validated\n", result.LedgerRecovered)
	}
	for _, ch := range result.Chapters {
		if ch.SelfHealed {
			fmt.Fprintf(out, "Chapter %d cache entry did not match its file and was re-rendered\n", ch.Index)
		}
	}

	fmt.Fprintf(out, "Rendered: %d  Cached: %d  Failed: %d  Skipped: %d\n",
		result.Rendered, result.Cached, result.Failed, result.Skipped)
	for _, ch := range result.Chapters {
		if ch.State == render.StateFailed {
			fmt.Fprintf(out, "  chapter %d (%s) failed: %s\n", ch.Index, ch.Title, ch.Error)
		}
	}
	if a := result.Assembly; a != nil {
		fmt.Fprintf(out, "Duration: %s\n", formatSeconds(a.DurationSeconds))
		if len(a.Missing) > 0 {
			fmt.Fprintf(out, "Missing chapters: %s\n", joinInts(a.Missing))
		}
		if !a.ChaptersEmbedded && a.FallbackReason != "" {
			fmt.Fprintf(out, "Chapter markers not embedded: %s\n", a.FallbackReason)
		}
	}
	if result.OutputPath != "" {
		fmt.Fprintf(out, "Output: %s\n", result.OutputPath)
	}
	if result.ReportPath != "" {
		fmt.Fprintf(out, "Failure report: %s\n", result.ReportPath)
	}
	if err != nil && result.ReportPath != "" {
		fmt.Fprintln(out, "Fix the problem and run render again; finished chapters will be reused.")
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
