package assembly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"audiobooker/internal/book"
	"audiobooker/internal/fileutil"
	"audiobooker/internal/logging"
)

var (
	// ErrIncomplete is returned when chapters are missing and partial output
	// was not allowed.
	ErrIncomplete = errors.New("assembly: chapters missing")
	// ErrNoChapters is returned when no chapter audio is available at all.
	ErrNoChapters = errors.New("assembly: no chapter audio available")
)

// Part is one chapter offered to assembly in book order.
type Part struct {
	Index           int
	Title           string
	AudioPath       string
	DurationSeconds float64
	// Available is false for chapters without valid cached audio.
	Available bool
}

// Marker is a chapter position in the assembled output, in milliseconds.
type Marker struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Track is one input file handed to the muxer.
type Track struct {
	Path            string
	Title           string
	DurationSeconds float64
}

// MuxRequest describes one muxing invocation.
type MuxRequest struct {
	Tracks     []Track
	Markers    []Marker
	GapMS      int
	Title      string
	Author     string
	Params     book.RenderParams
	OutputPath string
	// WorkDir is a scratch directory owned by the caller for the duration of
	// the call.
	WorkDir string
}

// MuxResult reports what the muxer produced.
type MuxResult struct {
	OutputPath string
}

// ChapterEmbedError reports that concatenation succeeded but chapter markers
// could not be written. AudioPath holds the concatenated audio without
// markers.
type ChapterEmbedError struct {
	Reason      string
	Diagnostics string
	AudioPath   string
}

func (e *ChapterEmbedError) Error() string {
	return "chapter markers not embedded: " + e.Reason
}

// Muxer concatenates chapter audio and embeds chapter markers. A
// *ChapterEmbedError signals a recoverable marker failure; any other error
// means no output exists.
type Muxer interface {
	Mux(ctx context.Context, req MuxRequest) (MuxResult, error)
}

// DurationFunc measures an audio file when no duration was recorded.
type DurationFunc func(ctx context.Context, path string) (float64, error)

// Options controls one assembly.
type Options struct {
	OutputPath   string
	AllowPartial bool
	GapMS        int
	Title        string
	Author       string
	Params       book.RenderParams
	Duration     DurationFunc
	Logger       *slog.Logger
}

// Result describes the assembled output.
type Result struct {
	OutputPath       string
	ChaptersEmbedded bool
	// FallbackReason and Diagnostics are set when markers could not be
	// embedded and a markers-less container was produced instead.
	FallbackReason  string
	Diagnostics     string
	Included        []int
	Missing         []int
	Markers         []Marker
	DurationSeconds float64
}

// Assemble joins the available parts into one output file. Every part must be
// available unless opts.AllowPartial is set, in which case missing chapters
// are skipped and reported.
func Assemble(ctx context.Context, m Muxer, parts []Part, opts Options) (Result, error) {
	if m == nil {
		return Result{}, errors.New("assembly: muxer not configured")
	}
	if strings.TrimSpace(opts.OutputPath) == "" {
		return Result{}, errors.New("assembly: output path is required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "assembly")

	var result Result
	included := make([]Part, 0, len(parts))
	for _, part := range parts {
		if part.Available {
			included = append(included, part)
			result.Included = append(result.Included, part.Index)
		} else {
			result.Missing = append(result.Missing, part.Index)
		}
	}
	if len(result.Missing) > 0 && !opts.AllowPartial {
		return result, fmt.Errorf("%w: %s", ErrIncomplete, joinIndices(result.Missing))
	}
	if len(included) == 0 {
		return result, ErrNoChapters
	}

	for i := range included {
		if included[i].DurationSeconds > 0 {
			continue
		}
		if opts.Duration == nil {
			return result, fmt.Errorf("assembly: chapter %d has no recorded duration", included[i].Index)
		}
		seconds, err := opts.Duration(ctx, included[i].AudioPath)
		if err != nil {
			return result, fmt.Errorf("assembly: measure chapter %d: %w", included[i].Index, err)
		}
		if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
			return result, fmt.Errorf("assembly: chapter %d has unusable duration %v", included[i].Index, seconds)
		}
		included[i].DurationSeconds = seconds
	}

	gap := opts.GapMS
	if gap < 0 {
		gap = 0
	}
	result.Markers = Markers(included, gap)
	last := result.Markers[len(result.Markers)-1]
	result.DurationSeconds = float64(last.EndMS) / 1000

	if len(result.Missing) > 0 {
		logging.WarnWithContext(logger, "assembling with missing chapters", "assembly_partial",
			logging.String("missing", joinIndices(result.Missing)),
			logging.Int("included", len(included)),
			logging.String(logging.FieldImpact, "output skips the missing chapters"),
			logging.String(logging.FieldErrorHint, "re-run render after fixing the failed chapters"),
		)
	}

	outDir := filepath.Dir(opts.OutputPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return result, fmt.Errorf("assembly: create output directory: %w", err)
	}
	workDir, err := os.MkdirTemp(outDir, ".audiobooker-mux-")
	if err != nil {
		return result, fmt.Errorf("assembly: create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	tracks := make([]Track, 0, len(included))
	for _, part := range included {
		tracks = append(tracks, Track{Path: part.AudioPath, Title: part.Title, DurationSeconds: part.DurationSeconds})
	}
	req := MuxRequest{
		Tracks:     tracks,
		Markers:    result.Markers,
		GapMS:      gap,
		Title:      opts.Title,
		Author:     opts.Author,
		Params:     opts.Params,
		OutputPath: opts.OutputPath,
		WorkDir:    workDir,
	}

	logger.Info("assembling audiobook",
		logging.String(logging.FieldEventType, "assembly_start"),
		logging.Int("chapters", len(tracks)),
		logging.String("output", opts.OutputPath),
	)

	muxed, err := m.Mux(ctx, req)
	if err != nil {
		var embedErr *ChapterEmbedError
		if !errors.As(err, &embedErr) {
			return result, fmt.Errorf("assembly: mux: %w", err)
		}
		fallback := FallbackPath(opts.OutputPath)
		if err := fileutil.CopyFileVerified(embedErr.AudioPath, fallback); err != nil {
			return result, fmt.Errorf("assembly: write fallback output: %w", err)
		}
		result.OutputPath = fallback
		result.FallbackReason = embedErr.Reason
		result.Diagnostics = embedErr.Diagnostics
		logging.WarnWithContext(logger, "chapter markers not embedded; wrote audio without chapters", "assembly_fallback",
			logging.String("reason", embedErr.Reason),
			logging.String("output", fallback),
			logging.String(logging.FieldImpact, "output has no chapter navigation"),
			logging.String(logging.FieldErrorHint, "inspect the muxer diagnostics in the render summary"),
		)
		return result, nil
	}

	result.OutputPath = muxed.OutputPath
	if result.OutputPath == "" {
		result.OutputPath = opts.OutputPath
	}
	result.ChaptersEmbedded = true
	logger.Info("audiobook assembled",
		logging.String(logging.FieldEventType, "assembly_complete"),
		logging.String("output", result.OutputPath),
		logging.Float64("duration_seconds", result.DurationSeconds),
	)
	return result, nil
}

// Markers lays the parts out back to back with gapMS of silence between
// consecutive chapters.
func Markers(parts []Part, gapMS int) []Marker {
	markers := make([]Marker, 0, len(parts))
	var cursor int64
	for i, part := range parts {
		if i > 0 {
			cursor += int64(gapMS)
		}
		length := int64(math.Round(part.DurationSeconds * 1000))
		markers = append(markers, Marker{
			Index:   part.Index,
			Title:   part.Title,
			StartMS: cursor,
			EndMS:   cursor + length,
		})
		cursor += length
	}
	return markers
}

// FallbackPath returns the markers-less output location for outputPath.
func FallbackPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	return strings.TrimSuffix(outputPath, ext) + ".m4a"
}

func joinIndices(indices []int) string {
	parts := make([]string, 0, len(indices))
	for _, idx := range indices {
		parts = append(parts, strconv.Itoa(idx))
	}
	return strings.Join(parts, ",")
}
