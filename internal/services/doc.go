// Package services defines shared utilities consumed by the render pipeline
// and its external integrations (speech engines, ffmpeg).
//
// Key responsibilities:
//   - Context helpers that stamp run identifiers, chapter indexes, and stage
//     names for logging.
//   - Structured error markers plus the Wrap helper, and Classify, which turns
//     a wrapped failure into the error kind persisted with a failed chapter.
//
// Adapters under services/ (tts, ffmpeg) return errors tagged with these
// markers so the orchestrator can tell a configuration problem, which stops
// the run, from a transient one, which is retried on the next invocation.
package services
