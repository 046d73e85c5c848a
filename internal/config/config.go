// Package config loads the univoice pipeline's tunables from the
// environment, the way cmd/gateway's loadConfig did for the teacher
// service: one struct, one loader, sane defaults for every field so the
// binary runs with zero configuration.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ryouen/univoice-pipeline/internal/env"
)

// Config holds every tunable for a single univoice process. All of it is
// overridable via environment variables (see spec §6); none of it requires
// a rebuild to change.
type Config struct {
	Port     string
	DataPath string

	ASRWebSocketURL  string
	ASRAPIKey        string
	ASRModel         string
	SourceLanguage   string
	TargetLanguage   string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicBaseURL string

	ModelTablePath string

	// Sentence combiner (C2).
	CombinerMaxSegments  int
	CombinerTimeout      time.Duration

	// Translation queue (C3).
	QueueHighCapacity   int
	QueueNormalCapacity int
	QueueLowCapacity    int
	QueueConcurrency    int
	QueueRequestTimeout time.Duration

	// Advanced features (C7) word-count thresholds.
	SummaryFirstThreshold int
	SummaryStepThreshold  int

	// Diagnostics tracer (internal/diag).
	DiagBufferSize int

	// Orchestrator (C8).
	RealtimeTimeout time.Duration
	StopGracePeriod time.Duration

	// Audio capture/framing (C11): the device rate/codec inbound WS
	// binary frames arrive as, ahead of resampling to the fixed 16kHz
	// mono PCM16 frames the ASR adapter requires.
	CaptureDeviceSampleRate int
	CaptureCodec            string
}

// Load reads Config from the environment, falling back to defaults tuned
// for a single local session.
func Load() Config {
	dataPath := "./data"
	if home, err := os.UserHomeDir(); err == nil {
		dataPath = filepath.Join(home, "UniVoice")
	}
	return Config{
		Port:     env.Str("UNIVOICE_PORT", "8000"),
		DataPath: env.Str("UNIVOICE_DATA_PATH", dataPath),

		ASRWebSocketURL: env.Str("ASR_WS_URL", "wss://api.deepgram.com/v1/listen"),
		ASRAPIKey:       env.Str("DEEPGRAM_API_KEY", ""),
		ASRModel:        env.Str("ASR_MODEL", "nova-2"),
		SourceLanguage:  env.Str("UNIVOICE_SOURCE_LANGUAGE", "en"),
		TargetLanguage:  env.Str("UNIVOICE_TARGET_LANGUAGE", "ja"),

		OpenAIAPIKey:     env.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    env.Str("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:  env.Str("ANTHROPIC_API_KEY", ""),
		AnthropicBaseURL: env.Str("ANTHROPIC_BASE_URL", ""),

		ModelTablePath: env.Str("UNIVOICE_MODEL_TABLE", "./data/model_table.json"),

		CombinerMaxSegments: env.Int("UNIVOICE_COMBINER_MAX_SEGMENTS", 8),
		CombinerTimeout:     env.Duration("UNIVOICE_COMBINER_TIMEOUT", 2*time.Second),

		QueueHighCapacity:   env.Int("UNIVOICE_QUEUE_HIGH_CAPACITY", 32),
		QueueNormalCapacity: env.Int("UNIVOICE_QUEUE_NORMAL_CAPACITY", 64),
		QueueLowCapacity:    env.Int("UNIVOICE_QUEUE_LOW_CAPACITY", 128),
		QueueConcurrency:    env.Int("UNIVOICE_QUEUE_CONCURRENCY", 3),
		QueueRequestTimeout: env.Duration("UNIVOICE_QUEUE_REQUEST_TIMEOUT", 10*time.Second),

		SummaryFirstThreshold: env.Int("UNIVOICE_SUMMARY_FIRST_THRESHOLD", 400),
		SummaryStepThreshold:  env.Int("UNIVOICE_SUMMARY_STEP_THRESHOLD", 800),

		DiagBufferSize: env.Int("UNIVOICE_DIAG_BUFFER_SIZE", 256),

		RealtimeTimeout: env.Duration("UNIVOICE_REALTIME_TIMEOUT", 3*time.Second),
		StopGracePeriod: env.Duration("UNIVOICE_STOP_GRACE_PERIOD", 5*time.Second),

		CaptureDeviceSampleRate: env.Int("UNIVOICE_CAPTURE_SAMPLE_RATE", 16000),
		CaptureCodec:            env.Str("UNIVOICE_CAPTURE_CODEC", "pcm"),
	}
}
