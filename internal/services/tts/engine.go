package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"audiobooker/internal/config"
	"audiobooker/internal/services"
)

// Audio is mono 16-bit PCM.
type Audio struct {
	Samples    []int16
	SampleRate int
}

// Engine synthesizes a single utterance.
type Engine interface {
	Synthesize(ctx context.Context, text, voice, emotion string) (Audio, error)
}

// VoiceValidator is implemented by engines that can verify a voice id
// without synthesizing.
type VoiceValidator interface {
	ValidateVoice(ctx context.Context, voice string) error
}

// NewFromConfig builds the chapter synthesizer selected by cfg.TTS.Engine.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*ChapterSynthesizer, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tts", "init", "configuration is required", nil)
	}
	var engine Engine
	switch cfg.TTS.Engine {
	case "piper":
		engine = NewPiperEngine(cfg.TTS.PiperBinary, cfg.TTS.PiperVoicesDir, cfg.TTS.PiperSampleRate, logger)
	case "edge":
		engine = NewEdgeEngine(logger)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "tts", "init", fmt.Sprintf("unknown engine %q", cfg.TTS.Engine), nil)
	}
	return NewChapterSynthesizer(engine,
		WithLogger(logger),
		WithUtteranceTimeout(time.Duration(cfg.TTS.TimeoutSeconds)*time.Second),
	), nil
}
