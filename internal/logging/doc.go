// Package logging assembles structured slog loggers and formatting helpers used
// across audiobooker.
//
// It owns the console/JSON handlers, level and output plumbing (including the
// rotating log file), and context-aware helpers so pipeline code can tag log
// lines with run IDs and chapter indexes. WarnWithContext and ErrorWithContext
// enforce the event_type/error_hint/impact fields on problem reports. A no-op
// logger is provided for tests and wiring code that cannot fail.
package logging
