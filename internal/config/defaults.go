package config

const (
	defaultConfigPath      = "~/.config/audiobooker/config.toml"
	projectConfigName      = "audiobooker.toml"
	projectStateDir        = ".audiobooker"
	defaultLogDir          = "~/.local/share/audiobooker/logs"
	defaultHistoryDB       = "~/.local/share/audiobooker/history.db"
	defaultWorkers         = 2
	defaultSampleRate      = 24000
	defaultBitrate         = "128k"
	defaultCodec           = "aac"
	defaultFormat          = "m4b"
	defaultNarratorPauseMS = 600
	defaultDialoguePauseMS = 400
	defaultChapterPauseMS  = 2000
	defaultEWMAAlpha       = 0.3
	defaultPace            = 2.0
	defaultWordsPerMinute  = 150
	defaultTTSEngine       = "piper"
	defaultPiperBinary     = "piper"
	defaultPiperVoicesDir  = "~/.local/share/audiobooker/voices"
	defaultPiperSampleRate = 22050
	defaultTTSTimeout      = 600
	defaultFFmpegBinary    = "ffmpeg"
	defaultFFprobeBinary   = "ffprobe"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultLogMaxSizeMB    = 20
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 30
	defaultS3Prefix        = "audiobooks"
	defaultNtfyTimeout     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Render: Render{
			Workers:        defaultWorkers,
			Resume:         true,
			RetryFailed:    true,
			ValidateVoices: true,
		},
		Audio: Audio{
			SampleRate:      defaultSampleRate,
			Bitrate:         defaultBitrate,
			Codec:           defaultCodec,
			Format:          defaultFormat,
			NarratorPauseMS: defaultNarratorPauseMS,
			DialoguePauseMS: defaultDialoguePauseMS,
			ChapterPauseMS:  defaultChapterPauseMS,
		},
		Progress: Progress{
			EWMAAlpha:      defaultEWMAAlpha,
			DefaultPace:    defaultPace,
			WordsPerMinute: defaultWordsPerMinute,
		},
		TTS: TTS{
			Engine:          defaultTTSEngine,
			PiperBinary:     defaultPiperBinary,
			PiperVoicesDir:  defaultPiperVoicesDir,
			PiperSampleRate: defaultPiperSampleRate,
			TimeoutSeconds:  defaultTTSTimeout,
		},
		FFmpeg: FFmpeg{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Logging: Logging{
			Format:     defaultLogFormat,
			Level:      defaultLogLevel,
			MaxSizeMB:  defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAgeDays: defaultLogMaxAgeDays,
		},
		Publish: Publish{
			S3Prefix: defaultS3Prefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
	}
}
