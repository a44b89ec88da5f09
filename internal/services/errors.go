package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Error kinds persisted in the ledger and failure report.
const (
	KindTransient     = "transient"
	KindConfiguration = "configuration"
	KindExternalTool  = "external_tool"
	KindValidation    = "validation"
	KindNotFound      = "not_found"
	KindTimeout       = "timeout"
	KindCanceled      = "canceled"
	KindUnknown       = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to the kind recorded alongside failed chapters.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsFatalForRun reports whether err should stop a render run even when
// partial output is allowed. Only configuration problems qualify; they repeat
// for every chapter. Anything else fails just the chapter it came from.
func IsFatalForRun(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
