// Package progress derives completion counts and an ETA for a render run.
//
// The Tracker keeps an exponentially weighted per-voice pace (seconds of
// audio produced per second of synthesis) and estimates the remaining time
// as the sum over unrendered chapters of estimated audio length divided by
// that voice's pace, falling back to the overall pace and then to a fixed
// default. Estimates are always finite and never negative.
package progress
