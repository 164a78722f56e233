package config

const (
	defaultScratchDir  = "~/.local/share/lingopipe/scratch"
	defaultSubtitleDir = "~/.local/share/lingopipe/subtitles"
	defaultLogDir      = "~/.local/share/lingopipe/logs"
	defaultAPIBind     = "127.0.0.1:7623"

	defaultTranscriberURL     = "http://127.0.0.1:8010"
	defaultTranscriberModel   = "large-v3"
	defaultTranscriberTimeout = 1800

	defaultTranslatorURL     = "http://127.0.0.1:8020"
	defaultTranslatorBatch   = 50
	defaultTranslatorTimeout = 300

	defaultSearchURL     = "http://127.0.0.1:9200"
	defaultSearchIndex   = "transcript_sentences"
	defaultSearchTimeout = 60

	defaultChunkMaxWords   = 40
	defaultChunkMaxSeconds = 15.0
	defaultSilenceGapSecs  = 1.2

	defaultProbeTimeout   = 60
	defaultExtractTimeout = 900
	defaultStageTimeout   = 600

	defaultWorkers           = 2
	defaultQueuePollInterval = 5
	defaultErrorRetry        = 10
	defaultHeartbeatInterval = 15
	defaultLeaseTimeout      = 120
	defaultStageMaxAttempts  = 3
	defaultRetryBaseSeconds  = 2
	defaultRetryMaxSeconds   = 60
	defaultScratchSweepHours = 24

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// defaultTargetLanguages mirrors the platform's eight launch translation targets.
func defaultTargetLanguages() []string {
	return []string{"vi", "zh", "ja", "ko", "es", "fr", "de", "pt"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir:  defaultScratchDir,
			SubtitleDir: defaultSubtitleDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Transcriber: Transcriber{
			URL:            defaultTranscriberURL,
			Model:          defaultTranscriberModel,
			TimeoutSeconds: defaultTranscriberTimeout,
		},
		Translator: Translator{
			URL:             defaultTranslatorURL,
			BatchSize:       defaultTranslatorBatch,
			TargetLanguages: defaultTargetLanguages(),
			TimeoutSeconds:  defaultTranslatorTimeout,
		},
		Search: Search{
			URL:            defaultSearchURL,
			Index:          defaultSearchIndex,
			TimeoutSeconds: defaultSearchTimeout,
		},
		Chunker: Chunker{
			MaxWords:       defaultChunkMaxWords,
			MaxSeconds:     defaultChunkMaxSeconds,
			SilenceGapSecs: defaultSilenceGapSecs,
		},
		Media: Media{
			ProbeTimeoutSeconds:   defaultProbeTimeout,
			ExtractTimeoutSeconds: defaultExtractTimeout,
			StageTimeoutSeconds:   defaultStageTimeout,
		},
		Workflow: Workflow{
			Workers:            defaultWorkers,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			HeartbeatInterval:  defaultHeartbeatInterval,
			LeaseTimeout:       defaultLeaseTimeout,
			StageMaxAttempts:   defaultStageMaxAttempts,
			RetryBaseSeconds:   defaultRetryBaseSeconds,
			RetryMaxSeconds:    defaultRetryMaxSeconds,
			ScratchSweepHours:  defaultScratchSweepHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
