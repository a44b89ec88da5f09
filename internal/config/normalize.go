package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAudio()
	if err := c.normalizeTTS(); err != nil {
		return err
	}
	c.normalizeFFmpeg()
	c.normalizeLogging()
	c.normalizePublish()
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.CacheDir, err = expandPath(strings.TrimSpace(c.Paths.CacheDir)); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.HistoryDB, err = expandPath(strings.TrimSpace(c.Paths.HistoryDB)); err != nil {
		return fmt.Errorf("paths.history_db: %w", err)
	}
	return nil
}

func (c *Config) normalizeAudio() {
	c.Audio.Bitrate = strings.ToLower(strings.TrimSpace(c.Audio.Bitrate))
	if c.Audio.Bitrate == "" {
		c.Audio.Bitrate = defaultBitrate
	}
	c.Audio.Codec = strings.ToLower(strings.TrimSpace(c.Audio.Codec))
	if c.Audio.Codec == "" {
		c.Audio.Codec = defaultCodec
	}
	c.Audio.Format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Audio.Format), "."))
	if c.Audio.Format == "" {
		c.Audio.Format = defaultFormat
	}
}

func (c *Config) normalizeTTS() error {
	c.TTS.Engine = strings.ToLower(strings.TrimSpace(c.TTS.Engine))
	if c.TTS.Engine == "" {
		c.TTS.Engine = defaultTTSEngine
	}
	c.TTS.PiperBinary = strings.TrimSpace(c.TTS.PiperBinary)
	if c.TTS.PiperBinary == "" {
		c.TTS.PiperBinary = defaultPiperBinary
	}
	var err error
	if c.TTS.PiperVoicesDir, err = expandPath(strings.TrimSpace(c.TTS.PiperVoicesDir)); err != nil {
		return fmt.Errorf("tts.piper_voices_dir: %w", err)
	}
	if c.TTS.PiperSampleRate <= 0 {
		c.TTS.PiperSampleRate = defaultPiperSampleRate
	}
	if c.TTS.TimeoutSeconds <= 0 {
		c.TTS.TimeoutSeconds = defaultTTSTimeout
	}
	return nil
}

func (c *Config) normalizeFFmpeg() {
	c.FFmpeg.FFmpegBinary = strings.TrimSpace(c.FFmpeg.FFmpegBinary)
	if c.FFmpeg.FFmpegBinary == "" {
		c.FFmpeg.FFmpegBinary = defaultFFmpegBinary
	}
	c.FFmpeg.FFprobeBinary = strings.TrimSpace(c.FFmpeg.FFprobeBinary)
	if c.FFmpeg.FFprobeBinary == "" {
		c.FFmpeg.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizePublish() {
	c.Publish.S3Bucket = strings.TrimSpace(c.Publish.S3Bucket)
	c.Publish.S3Region = strings.TrimSpace(c.Publish.S3Region)
	c.Publish.S3Endpoint = strings.TrimRight(strings.TrimSpace(c.Publish.S3Endpoint), "/")
	c.Publish.S3Prefix = strings.Trim(strings.TrimSpace(c.Publish.S3Prefix), "/")
}
