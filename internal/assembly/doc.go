// Package assembly joins cached chapter audio into the final audiobook.
//
// Assemble decides which chapters are included (all of them, or only the
// available ones when partial output is allowed), computes chapter marker
// offsets including the inter-chapter gap, and hands the work to a Muxer.
// A *ChapterEmbedError from the muxer is recovered by copying the
// concatenated audio to a markers-less ".m4a" next to the requested output.
package assembly
