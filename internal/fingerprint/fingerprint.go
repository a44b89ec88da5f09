package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"audiobooker/internal/book"
)

// Version is mixed into every digest. Bump it when the synthesis pipeline
// changes in a way that alters audio for identical inputs.
const Version = "audiobooker-render-v1"

// Compute returns the render fingerprint for a chapter: a hex SHA-256 over the
// normalized text, kind, voice, and emotion of every utterance in order, plus
// the audio-affecting render parameters. Speaker names and chapter titles do
// not participate.
func Compute(ch book.Chapter, params book.RenderParams) string {
	h := sha256.New()
	writeField(h, Version)

	writeField(h, "params")
	writeField(h, strconv.Itoa(params.SampleRate))
	writeField(h, strings.ToLower(strings.TrimSpace(params.Bitrate)))
	writeField(h, strings.ToLower(strings.TrimSpace(params.Codec)))
	writeField(h, strconv.Itoa(params.NarratorPauseMS))
	writeField(h, strconv.Itoa(params.DialoguePauseMS))

	writeField(h, "utterances")
	writeField(h, strconv.Itoa(len(ch.Utterances)))
	for _, u := range ch.Utterances {
		writeField(h, NormalizeText(u.Text))
		writeField(h, string(u.Kind))
		writeField(h, u.Voice)
		writeField(h, u.Emotion)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText folds line endings to LF and applies Unicode NFC so that
// re-encoded source text hashes identically.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(text)
}

func writeField(h hash.Hash, value string) {
	_, _ = h.Write([]byte(strconv.Itoa(len(value))))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(value))
	_, _ = h.Write([]byte{0})
}
