package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"audiobooker/internal/logging"
	"audiobooker/internal/services"
	"audiobooker/internal/wav"
)

// piperSampleRate is the output rate of the bundled piper voices.
const piperSampleRate = 22050

// commandRunner runs name with stdin and returns its stdout.
type commandRunner func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)

// PiperEngine synthesizes speech with the piper CLI. Each voice id maps to
// a model file <voicesDir>/<voice>.onnx.
type PiperEngine struct {
	binary     string
	voicesDir  string
	sampleRate int
	logger     *slog.Logger
	run        commandRunner
}

// NewPiperEngine constructs a piper engine. A zero sampleRate selects the
// piper default.
func NewPiperEngine(binary, voicesDir string, sampleRate int, logger *slog.Logger) *PiperEngine {
	if strings.TrimSpace(binary) == "" {
		binary = "piper"
	}
	if sampleRate <= 0 {
		sampleRate = piperSampleRate
	}
	return &PiperEngine{
		binary:     binary,
		voicesDir:  voicesDir,
		sampleRate: sampleRate,
		logger:     logging.NewComponentLogger(logger, "piper"),
		run:        runCommand,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (p *PiperEngine) WithCommandRunner(r commandRunner) {
	if p != nil && r != nil {
		p.run = r
	}
}

// ModelPath returns the model file used for voice.
func (p *PiperEngine) ModelPath(voice string) string {
	return filepath.Join(p.voicesDir, voice+".onnx")
}

// ValidateVoice checks that voice names a model file in the voices
// directory.
func (p *PiperEngine) ValidateVoice(_ context.Context, voice string) error {
	voice = strings.TrimSpace(voice)
	if voice == "" || strings.ContainsAny(voice, `/\`) || voice == "." || voice == ".." {
		return services.Wrap(services.ErrConfiguration, "tts", "piper voice", fmt.Sprintf("invalid voice id %q", voice), nil)
	}
	model := p.ModelPath(voice)
	info, err := os.Stat(model)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return services.Wrap(services.ErrConfiguration, "tts", "piper voice", fmt.Sprintf("voice %q has no model at %s", voice, model), nil)
		}
		return services.Wrap(services.ErrConfiguration, "tts", "piper voice", "stat model", err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrConfiguration, "tts", "piper voice", fmt.Sprintf("model path %s is a directory", model), nil)
	}
	return nil
}

// Synthesize runs piper for one utterance. Piper voices carry no emotion
// control, so emotion only reaches the log.
func (p *PiperEngine) Synthesize(ctx context.Context, text, voice, emotion string) (Audio, error) {
	if err := p.ValidateVoice(ctx, voice); err != nil {
		return Audio{}, err
	}
	p.logger.Debug("piper synthesis",
		logging.String(logging.FieldVoice, voice),
		logging.String("emotion", emotion),
		logging.Int("chars", len([]rune(text))),
	)

	out, err := p.run(ctx, []byte(text), p.binary, "--model", p.ModelPath(voice), "--output-raw")
	if err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return Audio{}, services.Wrap(services.ErrConfiguration, "tts", "piper", fmt.Sprintf("piper binary %q not found", p.binary), err)
		case errors.Is(err, context.DeadlineExceeded):
			return Audio{}, services.Wrap(services.ErrTimeout, "tts", "piper", "synthesis timed out", err)
		case ctx.Err() != nil:
			return Audio{}, ctx.Err()
		}
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "piper", "piper failed", err)
	}
	if len(out) < 2 {
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "piper", "piper returned no audio", nil)
	}
	return Audio{Samples: wav.BytesToInt16(out), SampleRate: p.sampleRate}, nil
}

func runCommand(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
