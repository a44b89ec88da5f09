package logging

import (
	"context"
	"log/slog"

	"audiobooker/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldEventType classifies a log line for filtering (e.g. chapter_failed).
	FieldEventType = "event_type"
	// FieldErrorHint carries the suggested next step for the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact states what a warning means for the finished audiobook.
	FieldImpact = "impact"
	// FieldRunID identifies one render invocation.
	FieldRunID = "run_id"
	// FieldChapterIndex is the zero-based chapter index.
	FieldChapterIndex = "chapter_index"
	// FieldChapterTitle is the display title of the chapter.
	FieldChapterTitle = "chapter_title"
	// FieldStage is the pipeline stage (fingerprint, synthesis, assembly).
	FieldStage = "stage"
	// FieldVoice is the resolved synthesis voice id.
	FieldVoice = "voice"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.RunIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldRunID, id))
	}
	if idx, ok := services.ChapterFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldChapterIndex, idx))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
