package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateTTS(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if topic := c.Notifications.NtfyTopic; topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic must be an http(s) URL, got %q", topic)
	}
	return nil
}

func (c *Config) validateRender() error {
	if c.Render.Workers < 1 {
		return errors.New("render.workers must be at least 1")
	}
	if c.Render.Workers > 64 {
		return fmt.Errorf("render.workers must be at most 64, got %d", c.Render.Workers)
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got %d", c.Audio.SampleRate)
	}
	if !strings.HasSuffix(c.Audio.Bitrate, "k") {
		return fmt.Errorf("audio.bitrate must look like 128k, got %q", c.Audio.Bitrate)
	}
	switch c.Audio.Format {
	case "m4b", "m4a":
	default:
		return fmt.Errorf("audio.format must be m4b or m4a, got %q", c.Audio.Format)
	}
	if c.Audio.NarratorPauseMS < 0 || c.Audio.DialoguePauseMS < 0 || c.Audio.ChapterPauseMS < 0 {
		return errors.New("audio pause durations must be non-negative")
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.EWMAAlpha <= 0 || c.Progress.EWMAAlpha > 1 {
		return fmt.Errorf("progress.ewma_alpha must be in (0, 1], got %v", c.Progress.EWMAAlpha)
	}
	if c.Progress.DefaultPace <= 0 {
		return errors.New("progress.default_pace must be positive")
	}
	if c.Progress.WordsPerMinute <= 0 {
		return errors.New("progress.words_per_minute must be positive")
	}
	return nil
}

func (c *Config) validateTTS() error {
	switch c.TTS.Engine {
	case "piper":
		if c.TTS.PiperVoicesDir == "" {
			return errors.New("tts.piper_voices_dir must be set when tts.engine is piper")
		}
	case "edge":
	default:
		return fmt.Errorf("tts.engine must be piper or edge, got %q", c.TTS.Engine)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return errors.New("logging rotation values must be non-negative")
	}
	return nil
}

func (c *Config) validatePublish() error {
	if !c.Publish.Enabled() {
		return nil
	}
	if c.Publish.S3Region == "" {
		return errors.New("publish.s3_region must be set when publish.s3_bucket is configured (or set AWS_REGION)")
	}
	if (c.Publish.AccessKeyID == "") != (c.Publish.SecretAccessKey == "") {
		return errors.New("publish.access_key_id and publish.secret_access_key must be set together")
	}
	return nil
}
