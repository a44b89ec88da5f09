package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"audiobooker/internal/logging"
	"audiobooker/internal/services"
	"audiobooker/internal/synthesis"
	"audiobooker/internal/wav"
)

// ChapterSynthesizer renders whole chapters with an Engine. It is safe for
// concurrent use when the engine is.
type ChapterSynthesizer struct {
	engine  Engine
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a ChapterSynthesizer.
type Option func(*ChapterSynthesizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *ChapterSynthesizer) { s.logger = logging.NewComponentLogger(logger, "tts") }
}

// WithUtteranceTimeout bounds each engine call. Zero disables the bound.
func WithUtteranceTimeout(d time.Duration) Option {
	return func(s *ChapterSynthesizer) { s.timeout = d }
}

// NewChapterSynthesizer wraps engine.
func NewChapterSynthesizer(engine Engine, opts ...Option) *ChapterSynthesizer {
	s := &ChapterSynthesizer{
		engine: engine,
		logger: logging.NewComponentLogger(nil, "tts"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ synthesis.Synthesizer = (*ChapterSynthesizer)(nil)
var _ synthesis.VoiceChecker = (*ChapterSynthesizer)(nil)

// Synthesize speaks the utterances in order and returns a mono WAV at
// req.Params.SampleRate. The pause for an utterance's kind follows every
// utterance except the last.
func (s *ChapterSynthesizer) Synthesize(ctx context.Context, req synthesis.Request) (synthesis.Result, error) {
	if s.engine == nil {
		return synthesis.Result{}, services.Wrap(services.ErrConfiguration, "tts", "synthesize", "engine not configured", nil)
	}
	rate := req.Params.SampleRate
	if rate <= 0 {
		return synthesis.Result{}, services.Wrap(services.ErrConfiguration, "tts", "synthesize", fmt.Sprintf("invalid sample rate %d", rate), nil)
	}

	var samples []int16
	last := len(req.Utterances) - 1
	for i, u := range req.Utterances {
		if err := ctx.Err(); err != nil {
			return synthesis.Result{}, err
		}
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		audio, err := s.speak(ctx, text, u.Voice, u.Emotion)
		if err != nil {
			if ctx.Err() != nil {
				return synthesis.Result{}, ctx.Err()
			}
			return synthesis.Result{}, &synthesis.UtteranceError{Index: i, Err: err}
		}
		samples = append(samples, wav.Resample(audio.Samples, audio.SampleRate, rate)...)
		if i < last {
			samples = append(samples, wav.Silence(req.Params.PauseAfter(u.Kind), rate)...)
		}
	}
	if len(samples) == 0 {
		return synthesis.Result{}, services.Wrap(services.ErrValidation, "tts", "synthesize", fmt.Sprintf("chapter %d produced no audio", req.ChapterIndex), nil)
	}

	duration := float64(len(samples)) / float64(rate)
	s.logger.Debug("chapter synthesized",
		logging.Int(logging.FieldChapterIndex, req.ChapterIndex),
		logging.Int("utterances", len(req.Utterances)),
		logging.Float64("audio_seconds", duration),
	)
	return synthesis.Result{Audio: wav.Encode(samples, rate), DurationSeconds: duration}, nil
}

func (s *ChapterSynthesizer) speak(ctx context.Context, text, voice, emotion string) (Audio, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	audio, err := s.engine.Synthesize(ctx, text, voice, emotion)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
			return Audio{}, services.Wrap(services.ErrTimeout, "tts", "utterance", fmt.Sprintf("no audio within %s", s.timeout), err)
		}
		return Audio{}, err
	}
	if len(audio.Samples) == 0 || audio.SampleRate <= 0 {
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "utterance", "engine returned no audio", nil)
	}
	return audio, nil
}

// CheckVoices validates every voice with the engine, when the engine can.
// All invalid voices are reported together.
func (s *ChapterSynthesizer) CheckVoices(ctx context.Context, voices []string) error {
	validator, ok := s.engine.(VoiceValidator)
	if !ok {
		return nil
	}
	var errs []error
	for _, voice := range voices {
		if err := validator.ValidateVoice(ctx, voice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
