package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"audiobooker/internal/logging"
	"audiobooker/internal/services"
)

// streamFunc returns the MP3 bytes for text spoken by voice.
type streamFunc func(ctx context.Context, text, voice string) ([]byte, error)

// EdgeEngine synthesizes speech through the Edge read-aloud service. Voice
// ids are service voice names such as "en-US-AriaNeural".
type EdgeEngine struct {
	logger *slog.Logger
	stream streamFunc
}

// NewEdgeEngine constructs an Edge engine.
func NewEdgeEngine(logger *slog.Logger) *EdgeEngine {
	return &EdgeEngine{
		logger: logging.NewComponentLogger(logger, "edge-tts"),
		stream: edgeStream,
	}
}

// ValidateVoice checks the shape of a service voice name. Whether the
// service knows the voice is only discovered on the first request.
func (e *EdgeEngine) ValidateVoice(_ context.Context, voice string) error {
	parts := strings.Split(strings.TrimSpace(voice), "-")
	if len(parts) < 3 || parts[0] == "" || parts[len(parts)-1] == "" {
		return services.Wrap(services.ErrConfiguration, "tts", "edge voice", fmt.Sprintf("voice %q is not a locale-qualified voice name", voice), nil)
	}
	return nil
}

// Synthesize requests one utterance and decodes it to mono PCM.
func (e *EdgeEngine) Synthesize(ctx context.Context, text, voice, emotion string) (Audio, error) {
	if err := e.ValidateVoice(ctx, voice); err != nil {
		return Audio{}, err
	}
	e.logger.Debug("edge synthesis",
		logging.String(logging.FieldVoice, voice),
		logging.String("emotion", emotion),
		logging.Int("chars", len([]rune(text))),
	)

	data, err := e.stream(ctx, text, voice)
	if err != nil {
		if ctx.Err() != nil {
			return Audio{}, ctx.Err()
		}
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "edge", "stream synthesis", err)
	}
	if len(data) == 0 {
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "edge", "service returned no audio", nil)
	}
	audio, err := decodeMP3(data)
	if err != nil {
		return Audio{}, services.Wrap(services.ErrTransient, "tts", "edge", "decode mp3", err)
	}
	return audio, nil
}

func edgeStream(ctx context.Context, text, voice string) ([]byte, error) {
	comm, err := edge.NewCommunicate(text, edge.WithVoice(voice))
	if err != nil {
		return nil, fmt.Errorf("create communicate: %w", err)
	}
	ch, err := comm.Stream()
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}

	var buf bytes.Buffer
	for msg := range ch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if kind, ok := msg["type"].(string); ok && kind == "audio" {
			if chunk, ok := msg["data"].([]byte); ok {
				buf.Write(chunk)
			}
		}
	}
	return buf.Bytes(), nil
}

// decodeMP3 decodes to 16-bit PCM and downmixes the decoder's stereo output
// to mono.
func decodeMP3(data []byte) (Audio, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Audio{}, err
	}
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return Audio{}, err
	}

	const bytesPerFrame = 4
	frames := len(pcm) / bytesPerFrame
	if frames == 0 {
		return Audio{}, fmt.Errorf("mp3 decoded to no samples")
	}
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		off := i * bytesPerFrame
		left := int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		right := int32(int16(binary.LittleEndian.Uint16(pcm[off+2:])))
		samples[i] = int16((left + right) / 2)
	}
	return Audio{Samples: samples, SampleRate: decoder.SampleRate()}, nil
}
