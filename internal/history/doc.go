// Package history keeps a SQLite record of render runs and per-voice
// synthesis pace.
//
// Run summaries back the "audiobooker history" command. Pace measurements
// seed the progress tracker of later runs so the first estimate of a run is
// informed by throughput observed before. The schema is created from the
// embedded schema.sql; a version mismatch is reported rather than migrated.
package history
