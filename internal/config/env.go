package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// envOverrides lists the environment variables that take precedence over the
// config file. Zero values mean "not set".
type envOverrides struct {
	LogLevel  string `env:"AUDIOBOOKER_LOG_LEVEL"`
	LogFormat string `env:"AUDIOBOOKER_LOG_FORMAT"`
	CacheDir  string `env:"AUDIOBOOKER_CACHE_DIR"`
	Workers   int    `env:"AUDIOBOOKER_WORKERS"`
	TTSEngine string `env:"AUDIOBOOKER_TTS_ENGINE"`
	S3Bucket  string `env:"AUDIOBOOKER_S3_BUCKET"`
	NtfyTopic string `env:"AUDIOBOOKER_NTFY_TOPIC"`
	AWSRegion string `env:"AWS_REGION"`
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(context.Background(), &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.LogFormat != "" {
		c.Logging.Format = env.LogFormat
	}
	if env.CacheDir != "" {
		c.Paths.CacheDir = env.CacheDir
	}
	if env.Workers != 0 {
		c.Render.Workers = env.Workers
	}
	if env.TTSEngine != "" {
		c.TTS.Engine = env.TTSEngine
	}
	if env.S3Bucket != "" {
		c.Publish.S3Bucket = env.S3Bucket
	}
	if env.NtfyTopic != "" {
		c.Notifications.NtfyTopic = env.NtfyTopic
	}
	if c.Publish.S3Region == "" && env.AWSRegion != "" {
		c.Publish.S3Region = env.AWSRegion
	}
	return nil
}
