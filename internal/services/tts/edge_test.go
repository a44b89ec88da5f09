package tts

import (
	"context"
	"errors"
	"testing"

	"audiobooker/internal/services"
)

func TestEdgeValidateVoice(t *testing.T) {
	e := NewEdgeEngine(nil)
	valid := []string{"en-US-AriaNeural", "zh-CN-XiaoxiaoNeural", "en-GB-Ryan-Neural"}
	for _, voice := range valid {
		if err := e.ValidateVoice(context.Background(), voice); err != nil {
			t.Errorf("ValidateVoice(%q): %v", voice, err)
		}
	}
	invalid := []string{"", "aria", "en-US", "en-US-"}
	for _, voice := range invalid {
		if err := e.ValidateVoice(context.Background(), voice); !errors.Is(err, services.ErrConfiguration) {
			t.Errorf("ValidateVoice(%q) = %v, want configuration error", voice, err)
		}
	}
}

func TestEdgeSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
		want error
	}{
		{name: "stream failure", err: errors.New("websocket closed"), want: services.ErrTransient},
		{name: "empty audio", want: services.ErrTransient},
		{name: "undecodable audio", data: []byte("definitely not mp3"), want: services.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEdgeEngine(nil)
			e.stream = func(context.Context, string, string) ([]byte, error) { return tt.data, tt.err }
			_, err := e.Synthesize(context.Background(), "Hello.", "en-US-AriaNeural", "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEdgeSynthesizeHonorsCancellation(t *testing.T) {
	e := NewEdgeEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	e.stream = func(context.Context, string, string) ([]byte, error) {
		cancel()
		return nil, errors.New("aborted")
	}
	if _, err := e.Synthesize(ctx, "Hello.", "en-US-AriaNeural", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
