// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio stream properties
//   - Format: container-level metadata (duration, size, bitrate, chapters)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns parsed Result
//   - Prober.Duration: measures cached chapter audio for assembly
package ffprobe
