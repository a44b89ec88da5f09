package synthesis

import (
	"context"
	"errors"
	"fmt"

	"audiobooker/internal/book"
)

// Request asks for the audio of one chapter.
type Request struct {
	ChapterIndex int
	Utterances   []book.Utterance
	Params       book.RenderParams
}

// Result is the synthesized chapter audio.
type Result struct {
	// Audio is a complete, self-describing audio file (WAV).
	Audio []byte
	// DurationSeconds is the playback length of Audio.
	DurationSeconds float64
}

// Synthesizer turns a chapter's utterances into audio. Implementations may
// be called concurrently for different chapters.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// VoiceChecker is implemented by synthesizers that can verify voice ids
// before any rendering starts. An unknown voice should be reported with the
// services.ErrConfiguration marker.
type VoiceChecker interface {
	CheckVoices(ctx context.Context, voices []string) error
}

// UtteranceError names the utterance that failed within a chapter.
type UtteranceError struct {
	Index int
	Err   error
}

func (e *UtteranceError) Error() string {
	return fmt.Sprintf("utterance %d: %v", e.Index, e.Err)
}

func (e *UtteranceError) Unwrap() error { return e.Err }

// FailedUtterance returns the index carried by an UtteranceError in err's
// chain, or -1.
func FailedUtterance(err error) int {
	var uerr *UtteranceError
	if errors.As(err, &uerr) {
		return uerr.Index
	}
	return -1
}

// Func adapts a function to the Synthesizer interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Synthesize calls f.
func (f Func) Synthesize(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
