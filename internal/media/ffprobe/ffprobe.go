package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"audiobooker/internal/services"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
	raw     []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string            `json:"filename"`
	NBStreams  int               `json:"nb_streams"`
	NBChapters int               `json:"nb_chapters"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	FormatName string            `json:"format_name"`
	Tags       map[string]string `json:"tags"`
}

// runner executes the probe binary and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Prober runs ffprobe. The zero value is not usable; call New.
type Prober struct {
	binary string
	run    runner
}

// New returns a prober for binary, defaulting to "ffprobe".
func New(binary string) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary, run: combinedOutput}
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	return New(binary).Inspect(ctx, path)
}

// Inspect executes ffprobe against path and decodes the JSON response.
func (p *Prober) Inspect(ctx context.Context, path string) (Result, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	output, err := p.run(ctx, p.binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-show_chapters", "-of", "json", "--", path)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Result{}, services.Wrap(services.ErrConfiguration, "ffprobe", "inspect", fmt.Sprintf("binary %q not found", p.binary), err)
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "ffprobe", "inspect", strings.TrimSpace(string(output)), err)
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// Duration measures the playback length of path in seconds. Its signature
// matches assembly.DurationFunc.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	result, err := p.Inspect(ctx, path)
	if err != nil {
		return 0, err
	}
	seconds := result.DurationSeconds()
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0, services.Wrap(services.ErrExternalTool, "ffprobe", "duration", fmt.Sprintf("no usable duration for %s", path), nil)
	}
	return seconds, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// AudioSampleRate returns the sample rate of the first audio stream, or 0.
func (r Result) AudioSampleRate() int {
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			rate, err := strconv.Atoi(strings.TrimSpace(stream.SampleRate))
			if err != nil {
				return 0
			}
			return rate
		}
	}
	return 0
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// BitRate returns the container bitrate in bits per second, or 0 when unavailable.
func (r Result) BitRate() int64 {
	rate := parseFloat(r.Format.BitRate)
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	return int64(rate)
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}

func combinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
