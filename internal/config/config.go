package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"audiobooker/internal/book"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// CacheDir overrides the per-project cache root. When set, each project
	// gets a subdirectory named after its file stem.
	CacheDir  string `toml:"cache_dir"`
	LogDir    string `toml:"log_dir"`
	HistoryDB string `toml:"history_db"`
}

// Render contains orchestration policy defaults. CLI flags override them.
type Render struct {
	Workers         int  `toml:"workers"`
	Resume          bool `toml:"resume"`
	AllowPartial    bool `toml:"allow_partial"`
	RetryFailed     bool `toml:"retry_failed"`
	VerifyChecksums bool `toml:"verify_checksums"`
	ValidateVoices  bool `toml:"validate_voices"`
}

// Audio contains the audio-affecting render parameters.
type Audio struct {
	SampleRate      int    `toml:"sample_rate"`
	Bitrate         string `toml:"bitrate"`
	Codec           string `toml:"codec"`
	Format          string `toml:"format"`
	NarratorPauseMS int    `toml:"narrator_pause_ms"`
	DialoguePauseMS int    `toml:"dialogue_pause_ms"`
	ChapterPauseMS  int    `toml:"chapter_pause_ms"`
}

// Progress tunes the ETA estimator.
type Progress struct {
	EWMAAlpha      float64 `toml:"ewma_alpha"`
	DefaultPace    float64 `toml:"default_pace"`
	WordsPerMinute int     `toml:"words_per_minute"`
}

// TTS selects and configures the speech engine.
type TTS struct {
	Engine          string `toml:"engine"`
	PiperBinary     string `toml:"piper_binary"`
	PiperVoicesDir  string `toml:"piper_voices_dir"`
	PiperSampleRate int    `toml:"piper_sample_rate"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// FFmpeg names the muxing tool binaries.
type FFmpeg struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
}

// Logging contains logging format and rotation settings.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Publish contains optional S3 upload settings for finished audiobooks.
type Publish struct {
	S3Bucket        string `toml:"s3_bucket"`
	S3Region        string `toml:"s3_region"`
	S3Endpoint      string `toml:"s3_endpoint"`
	S3Prefix        string `toml:"s3_prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// Enabled reports whether publishing is configured.
func (p Publish) Enabled() bool {
	return strings.TrimSpace(p.S3Bucket) != ""
}

// Notifications configures ntfy push messages about finished renders.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Config encapsulates all configuration values for audiobooker.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Render   Render   `toml:"render"`
	Audio    Audio    `toml:"audio"`
	Progress Progress `toml:"progress"`
	TTS      TTS      `toml:"tts"`
	FFmpeg   FFmpeg   `toml:"ffmpeg"`
	Logging  Logging  `toml:"logging"`
	Publish  Publish  `toml:"publish"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is decoded. The returned config has
// all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and history directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.LogDir}
	if c.Paths.HistoryDB != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.HistoryDB))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RenderParams returns the audio parameters that participate in chapter
// fingerprints.
func (c *Config) RenderParams() book.RenderParams {
	return book.RenderParams{
		SampleRate:      c.Audio.SampleRate,
		Bitrate:         c.Audio.Bitrate,
		Codec:           c.Audio.Codec,
		NarratorPauseMS: c.Audio.NarratorPauseMS,
		DialoguePauseMS: c.Audio.DialoguePauseMS,
	}
}

// CacheRoot resolves the cache directory for the project file at projectPath.
func (c *Config) CacheRoot(projectPath string) (string, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	if c.Paths.CacheDir != "" {
		stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		return filepath.Join(c.Paths.CacheDir, stem), nil
	}
	return filepath.Join(filepath.Dir(abs), projectStateDir, "cache"), nil
}

// DefaultOutputPath derives the audiobook path next to the project file.
func (c *Config) DefaultOutputPath(projectPath string) string {
	ext := "." + strings.TrimPrefix(c.Audio.Format, ".")
	return strings.TrimSuffix(projectPath, filepath.Ext(projectPath)) + ext
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
