package render

import (
	"context"
	"errors"
	"fmt"

	"audiobooker/internal/assembly"
	"audiobooker/internal/failure"
	"audiobooker/internal/fileutil"
	"audiobooker/internal/history"
	"audiobooker/internal/logging"
)

// reportFailure writes the failure report. A report that cannot be written
// is logged; the caller still returns the original error.
func (s *session) reportFailure(stage string, cause error) {
	report := failure.Report{
		RunID:         s.result.RunID,
		CreatedAt:     s.r.now(),
		BookTitle:     s.ledger.BookTitle(),
		TotalChapters: len(s.result.Chapters),
		Rendered:      s.result.Rendered,
		Cached:        s.result.Cached,
		Stage:         stage,
		Chapters:      s.failures,
		CacheDir:      s.store.Root(),
		LedgerPath:    s.ledger.Path(),
	}
	if cause != nil {
		report.Error = cause.Error()
	}
	path, err := failure.Write(s.store.Root(), report)
	if err != nil {
		logging.ErrorWithContext(s.logger, "failure report not written", "failure_report_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the cache directory"),
		)
		return
	}
	s.result.ReportPath = path
	s.logger.Info("failure report written",
		logging.String(logging.FieldEventType, "failure_report_written"),
		logging.String("path", path),
		logging.Int("failed_chapters", len(s.failures)),
	)
}

// exportChapter copies the cached audio of one chapter to the output path.
func (s *session) exportChapter(index int) error {
	res, ok := s.byIndex[index]
	if !ok || (res.State != StateCached && res.State != StateRendered) {
		return fmt.Errorf("chapter %d has no audio to export", index)
	}
	if err := fileutil.CopyFileVerified(res.AudioPath, s.opts.OutputPath); err != nil {
		return fmt.Errorf("export chapter %d: %w", index, err)
	}
	s.result.OutputPath = s.opts.OutputPath
	s.logger.Info("chapter exported",
		logging.String(logging.FieldEventType, "chapter_exported"),
		logging.Int(logging.FieldChapterIndex, index),
		logging.String("output", s.opts.OutputPath),
	)
	return nil
}

func (s *session) assemble(ctx context.Context) error {
	parts := make([]assembly.Part, 0, len(s.result.Chapters))
	for _, res := range s.result.Chapters {
		available := res.State == StateCached || res.State == StateRendered
		parts = append(parts, assembly.Part{
			Index:           res.Index,
			Title:           res.Title,
			AudioPath:       res.AudioPath,
			DurationSeconds: res.DurationSeconds,
			Available:       available,
		})
	}
	title := s.opts.Title
	if title == "" {
		title = s.project.Title
	}
	author := s.opts.Author
	if author == "" {
		author = s.project.Author
	}

	out, err := assembly.Assemble(ctx, s.r.muxer, parts, assembly.Options{
		OutputPath:   s.opts.OutputPath,
		AllowPartial: s.opts.AllowPartial,
		GapMS:        s.opts.GapMS,
		Title:        title,
		Author:       author,
		Params:       s.params,
		Duration:     s.r.duration,
		Logger:       s.logger,
	})
	s.result.Assembly = &out
	if err != nil {
		return err
	}
	s.result.OutputPath = out.OutputPath
	return nil
}

// finish records the run in history and logs the summary.
func (s *session) finish(ctx context.Context, runErr error) {
	s.result.FinishedAt = s.r.now()
	s.result.Progress = s.tracker.Snapshot()

	status := history.StatusSucceeded
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		status = history.StatusInterrupted
	case runErr != nil:
		status = history.StatusFailed
	case s.result.Failed > 0 || len(s.result.Missing()) > 0 || (s.result.Assembly != nil && !s.result.Assembly.ChaptersEmbedded):
		status = history.StatusPartial
	}

	if s.r.history != nil {
		run := history.Run{
			RunID:         s.result.RunID,
			BookTitle:     s.ledger.BookTitle(),
			CacheRoot:     s.result.CacheRoot,
			Status:        status,
			TotalChapters: len(s.result.Chapters),
			Rendered:      s.result.Rendered,
			Cached:        s.result.Cached,
			Failed:        s.result.Failed,
			Skipped:       s.result.Skipped,
			OutputPath:    s.result.OutputPath,
			StartedAt:     s.result.StartedAt,
			FinishedAt:    s.result.FinishedAt,
		}
		if runErr != nil {
			run.Error = runErr.Error()
		}
		// Recorded even when the run was canceled.
		if err := s.r.history.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			logging.WarnWithContext(s.logger, "run not recorded in history", "history_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "'audiobooker history' will not list this run"),
			)
		}
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "render_complete"),
		logging.String("status", status),
		logging.Int("rendered", s.result.Rendered),
		logging.Int("cached", s.result.Cached),
		logging.Int("failed", s.result.Failed),
		logging.Int("skipped", s.result.Skipped),
		logging.Duration("elapsed", s.result.FinishedAt.Sub(s.result.StartedAt)),
	}
	if s.result.OutputPath != "" {
		attrs = append(attrs, logging.String("output", s.result.OutputPath))
	}
	if runErr != nil {
		attrs = append(attrs, logging.Error(runErr))
	}
	s.logger.Info("render finished", logging.Args(attrs...)...)
}
