// Package ffmpeg assembles chapter audio into a single chaptered audiobook
// with the ffmpeg binary.
//
// Muxing runs in two passes. The first concatenates every track, with
// generated silence between chapters, and encodes once with bit-exact flags
// so identical inputs give identical bytes. The second copies that stream
// into the final container together with an FFMETADATA1 document carrying
// the book tags and chapter markers. Only a failure of the second pass is
// recoverable; it is reported as *assembly.ChapterEmbedError.
package ffmpeg
