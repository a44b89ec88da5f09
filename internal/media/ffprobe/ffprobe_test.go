package ffprobe

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"testing"

	"audiobooker/internal/services"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "audio", SampleRate: "24000"},
			{CodecType: "audio", SampleRate: "48000"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
			BitRate:  "32000",
		},
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	if result.AudioSampleRate() != 24000 {
		t.Fatalf("unexpected sample rate: %d", result.AudioSampleRate())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "audio", SampleRate: "fast"}},
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
	if result.AudioSampleRate() != 0 {
		t.Fatalf("expected sample rate 0, got %d", result.AudioSampleRate())
	}
}

func TestProberDuration(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		runErr  error
		want    float64
		wantErr error
	}{
		{
			name:   "parses container duration",
			output: `{"streams":[{"codec_type":"audio","sample_rate":"24000"}],"format":{"duration":"61.500000","nb_chapters":3}}`,
			want:   61.5,
		},
		{name: "missing duration", output: `{"format":{}}`, wantErr: services.ErrExternalTool},
		{name: "tool failure", output: "Invalid data found", runErr: errors.New("exit status 1"), wantErr: services.ErrExternalTool},
		{name: "binary missing", runErr: &exec.Error{Name: "ffprobe", Err: exec.ErrNotFound}, wantErr: services.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New("")
			var gotArgs []string
			p.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
				if name != "ffprobe" {
					t.Fatalf("unexpected binary %q", name)
				}
				gotArgs = args
				return []byte(tt.output), tt.runErr
			}
			got, err := p.Duration(context.Background(), "/tmp/chapter.wav")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Duration: %v", err)
			}
			if got != tt.want {
				t.Fatalf("duration %v, want %v", got, tt.want)
			}
			if gotArgs[len(gotArgs)-1] != "/tmp/chapter.wav" || gotArgs[len(gotArgs)-2] != "--" {
				t.Fatalf("path must follow --, got %v", gotArgs)
			}
		})
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	if _, err := Inspect(context.Background(), "ffprobe", "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
