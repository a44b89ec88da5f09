package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audiobooker/internal/fileutil"
)

const (
	// FileName is the fixed report location inside the cache root.
	FileName = "render_failure_report.json"
	// PreviewLimit caps the utterance text excerpt in runes.
	PreviewLimit = 200
)

// Utterance identifies the utterance being synthesized when a chapter failed.
type Utterance struct {
	Index       int    `json:"index"`
	Speaker     string `json:"speaker,omitempty"`
	TextPreview string `json:"text_preview"`
	Voice       string `json:"voice"`
	Emotion     string `json:"emotion,omitempty"`
}

// Chapter describes one failed chapter.
type Chapter struct {
	Index     int        `json:"chapter_index"`
	Title     string     `json:"chapter_title"`
	Error     string     `json:"error"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Utterance *Utterance `json:"failed_utterance,omitempty"`
	FailedAt  time.Time  `json:"failed_at"`
}

// Report is the diagnostic bundle written when a render run fails.
type Report struct {
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`
	BookTitle     string    `json:"book_title,omitempty"`
	TotalChapters int       `json:"total_chapters"`
	Rendered      int       `json:"rendered"`
	Cached        int       `json:"cached"`
	Failed        int       `json:"failed"`
	// Stage and Error describe a failure outside any chapter (for example
	// assembly). They are empty for chapter-only failures.
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	Chapters   []Chapter `json:"failed_chapters"`
	CacheDir   string    `json:"cache_dir"`
	LedgerPath string    `json:"ledger_path"`
}

// Path returns the report location for a cache root.
func Path(cacheRoot string) string {
	return filepath.Join(cacheRoot, FileName)
}

// Write replaces the report under cacheRoot and returns its path.
func Write(cacheRoot string, report Report) (string, error) {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.CacheDir == "" {
		report.CacheDir = cacheRoot
	}
	if report.Chapters == nil {
		report.Chapters = []Chapter{}
	}
	report.Failed = len(report.Chapters)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode failure report: %w", err)
	}
	path := Path(cacheRoot)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write failure report: %w", err)
	}
	return path, nil
}

// Load reads the report under cacheRoot. The boolean is false when none exists.
func Load(cacheRoot string) (Report, bool, error) {
	data, err := os.ReadFile(Path(cacheRoot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Report{}, false, nil
		}
		return Report{}, false, fmt.Errorf("read failure report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return Report{}, false, fmt.Errorf("parse failure report: %w", err)
	}
	return report, true, nil
}

// Remove deletes the report under cacheRoot if present.
func Remove(cacheRoot string) error {
	if err := os.Remove(Path(cacheRoot)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove failure report: %w", err)
	}
	return nil
}

// Preview collapses whitespace and truncates text to PreviewLimit runes.
func Preview(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= PreviewLimit {
		return collapsed
	}
	return string(runes[:PreviewLimit-1]) + "…"
}
