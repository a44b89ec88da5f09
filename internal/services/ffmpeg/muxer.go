package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"audiobooker/internal/assembly"
	"audiobooker/internal/fileutil"
	"audiobooker/internal/logging"
	"audiobooker/internal/services"
	"audiobooker/internal/wav"
)

const (
	defaultSampleRate = 24000
	defaultCodec      = "aac"
	defaultBitrate    = "128k"
	// stderrTailLines bounds the diagnostics kept from a failed remux.
	stderrTailLines = 20
)

// commandRunner runs name and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Muxer assembles chapter tracks with ffmpeg.
type Muxer struct {
	binary string
	logger *slog.Logger
	run    commandRunner
}

var _ assembly.Muxer = (*Muxer)(nil)

// NewMuxer constructs a muxer using the ffmpeg binary at binary.
func NewMuxer(logger *slog.Logger, binary string) *Muxer {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Muxer{
		binary: binary,
		logger: logging.NewComponentLogger(logger, "ffmpeg"),
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (m *Muxer) WithCommandRunner(r commandRunner) {
	if m != nil && r != nil {
		m.run = r
	}
}

// Mux concatenates req.Tracks with req.GapMS of silence between them and
// writes the chaptered container to req.OutputPath. The output appears
// atomically or not at all.
func (m *Muxer) Mux(ctx context.Context, req assembly.MuxRequest) (assembly.MuxResult, error) {
	if m == nil {
		return assembly.MuxResult{}, fmt.Errorf("muxer not initialized")
	}
	if len(req.Tracks) == 0 {
		return assembly.MuxResult{}, services.Wrap(services.ErrValidation, "ffmpeg", "mux", "at least one track is required", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" || strings.TrimSpace(req.WorkDir) == "" {
		return assembly.MuxResult{}, services.Wrap(services.ErrValidation, "ffmpeg", "mux", "output path and work dir are required", nil)
	}
	for _, track := range req.Tracks {
		if _, err := os.Stat(track.Path); err != nil {
			return assembly.MuxResult{}, fmt.Errorf("track %q not found: %w", track.Path, err)
		}
	}

	listPath, err := m.writeConcatList(req)
	if err != nil {
		return assembly.MuxResult{}, err
	}

	audioPath := filepath.Join(req.WorkDir, "audio.m4a")
	m.logger.Debug("encoding concatenated audio",
		logging.Int("tracks", len(req.Tracks)),
		logging.Int("gap_ms", req.GapMS),
		logging.String("codec", codecOf(req)),
	)
	if out, err := m.run(ctx, m.binary, encodeArgs(req, listPath, audioPath)...); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return assembly.MuxResult{}, services.Wrap(services.ErrConfiguration, "ffmpeg", "encode", fmt.Sprintf("binary %q not found", m.binary), err)
		}
		return assembly.MuxResult{}, services.Wrap(services.ErrExternalTool, "ffmpeg", "encode", stderrTail(out), err)
	}

	metadataPath := filepath.Join(req.WorkDir, "metadata.txt")
	if err := fileutil.WriteFileAtomic(metadataPath, []byte(BuildMetadata(req.Title, req.Author, req.Markers)), 0o644); err != nil {
		return assembly.MuxResult{}, fmt.Errorf("write chapter metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return assembly.MuxResult{}, fmt.Errorf("create output directory: %w", err)
	}
	tmpPath := filepath.Join(filepath.Dir(req.OutputPath), ".mux-"+filepath.Base(req.OutputPath)+".tmp")
	if out, err := m.run(ctx, m.binary, remuxArgs(audioPath, metadataPath, tmpPath)...); err != nil {
		_ = os.Remove(tmpPath)
		if ctx.Err() != nil {
			return assembly.MuxResult{}, ctx.Err()
		}
		tail := stderrTail(out)
		logging.WarnWithContext(m.logger, "chapter metadata remux failed", "chapter_embed_failed",
			logging.Error(err),
			logging.String("stderr_tail", tail),
			logging.String(logging.FieldImpact, "output will have no chapter markers"),
			logging.String(logging.FieldErrorHint, "check chapter titles and the ffmpeg build"),
		)
		return assembly.MuxResult{}, &assembly.ChapterEmbedError{
			Reason:      "ffmpeg remux with chapter metadata failed: " + err.Error(),
			Diagnostics: tail,
			AudioPath:   audioPath,
		}
	}

	if _, err := os.Stat(tmpPath); err != nil {
		return assembly.MuxResult{}, fmt.Errorf("ffmpeg did not produce output file: %w", err)
	}
	if err := os.Rename(tmpPath, req.OutputPath); err != nil {
		_ = os.Remove(tmpPath)
		return assembly.MuxResult{}, fmt.Errorf("move output into place: %w", err)
	}

	m.logger.Info("audiobook muxed",
		logging.String(logging.FieldEventType, "mux_complete"),
		logging.String("output", req.OutputPath),
		logging.Int("chapters", len(req.Markers)),
	)
	return assembly.MuxResult{OutputPath: req.OutputPath}, nil
}

// writeConcatList writes the concat demuxer input, including one shared
// silence file for the chapter gap.
func (m *Muxer) writeConcatList(req assembly.MuxRequest) (string, error) {
	var gapPath string
	if req.GapMS > 0 && len(req.Tracks) > 1 {
		rate := sampleRateOf(req)
		gapPath = filepath.Join(req.WorkDir, "gap.wav")
		silence := wav.Encode(wav.Silence(req.GapMS, rate), rate)
		if err := fileutil.WriteFileAtomic(gapPath, silence, 0o644); err != nil {
			return "", fmt.Errorf("write chapter gap: %w", err)
		}
	}

	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for i, track := range req.Tracks {
		abs, err := filepath.Abs(track.Path)
		if err != nil {
			return "", fmt.Errorf("resolve track path: %w", err)
		}
		b.WriteString(concatLine(abs))
		if gapPath != "" && i < len(req.Tracks)-1 {
			b.WriteString(concatLine(gapPath))
		}
	}
	listPath := filepath.Join(req.WorkDir, "concat.txt")
	if err := fileutil.WriteFileAtomic(listPath, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return listPath, nil
}

func encodeArgs(req assembly.MuxRequest, listPath, audioPath string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-vn",
		"-c:a", codecOf(req),
		"-b:a", bitrateOf(req),
		"-ar", fmt.Sprint(sampleRateOf(req)),
		"-ac", "1",
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		audioPath,
	}
}

func remuxArgs(audioPath, metadataPath, outputPath string) []string {
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", audioPath,
		"-i", metadataPath,
		"-map", "0:a",
		"-map_metadata", "1",
		"-map_chapters", "1",
		"-c", "copy",
		"-fflags", "+bitexact",
		"-f", "mp4",
		outputPath,
	}
}

func sampleRateOf(req assembly.MuxRequest) int {
	if req.Params.SampleRate > 0 {
		return req.Params.SampleRate
	}
	return defaultSampleRate
}

func codecOf(req assembly.MuxRequest) string {
	if c := strings.TrimSpace(req.Params.Codec); c != "" {
		return c
	}
	return defaultCodec
}

func bitrateOf(req assembly.MuxRequest) string {
	if b := strings.TrimSpace(req.Params.Bitrate); b != "" {
		return b
	}
	return defaultBitrate
}

// stderrTail keeps the last stderrTailLines lines of output.
func stderrTail(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
