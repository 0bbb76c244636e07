package voicecore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects every tunable named in spec §6. All fields are
// overridable; DefaultConfig returns the spec's defaults.
type Config struct {
	DeferredWaitMs       int `yaml:"deferred_wait_ms"`
	MaxDeferredWaitMs    int `yaml:"max_deferred_wait_ms"`
	AggregationWindowMs  int `yaml:"aggregation_window_ms"`
	MaxQueueSize         int `yaml:"max_queue_size"`
	LockTimeoutSec       int `yaml:"lock_timeout_sec"`
	MaxRetries           int `yaml:"max_retries"`
	InitialRetryDelayMs  int `yaml:"initial_retry_delay_ms"`
	RecognitionTimeoutSec int `yaml:"recognition_timeout_sec"`

	SentenceDelimiters string `yaml:"sentence_delimiters"`
	CommaDelimiters    string `yaml:"comma_delimiters"`
	MinSentenceLength  int    `yaml:"min_sentence_length"`
	MaxBufferLength    int    `yaml:"max_buffer_length"`

	MaxTTSQueueSize   int `yaml:"max_tts_queue_size"`
	SilenceThresholdMs int64 `yaml:"silence_threshold_ms"`

	ResultBufferMaxCapacity  int `yaml:"result_buffer_max_capacity"`
	ResultBufferExpirationSec int `yaml:"result_buffer_expiration_sec"`
	ResultBufferCleanupSec   int `yaml:"result_buffer_cleanup_sec"`

	ProactiveSilenceTimeoutMs int `yaml:"proactive_silence_timeout_ms"`
	MaxProactiveCount         int `yaml:"max_proactive_count"`
	MaxTotalSilenceMs         int `yaml:"max_total_silence_ms"`

	BargeInAmplitudeThreshold float64 `yaml:"barge_in_amplitude_threshold"`
	BargeInFrameThreshold     int     `yaml:"barge_in_frame_threshold"`
	EchoSimilarityThreshold   float64 `yaml:"echo_similarity_threshold"`

	SentenceAggregationDelayMsSpeaking int `yaml:"sentence_aggregation_delay_ms_speaking"`
	SentenceAggregationDelayMsSilent   int `yaml:"sentence_aggregation_delay_ms_silent"`
	SentenceAggregationDelayMsShort    int `yaml:"sentence_aggregation_delay_ms_short"`
	InsuranceDelayMs                   int `yaml:"insurance_delay_ms"`

	// MinWordsToInterrupt gates barge-in on short backchannel utterances
	// while the bot is speaking: a transcript must clear this word count
	// before it interrupts TTS. 1 (the default) means "barge in on any
	// speech", matching the teacher's original behavior.
	MinWordsToInterrupt int `yaml:"min_words_to_interrupt"`

	SampleRate int `yaml:"sample_rate"`
}

// DefaultConfig returns the configuration defaults enumerated in spec §6.
func DefaultConfig() Config {
	return Config{
		DeferredWaitMs:        2500,
		MaxDeferredWaitMs:     10000,
		AggregationWindowMs:   2500,
		MaxQueueSize:          10,
		LockTimeoutSec:        30,
		MaxRetries:            3,
		InitialRetryDelayMs:   100,
		RecognitionTimeoutSec: 5,

		SentenceDelimiters: "。!?；\n",
		CommaDelimiters:    "，,、",
		MinSentenceLength:  4,
		MaxBufferLength:    80,

		MaxTTSQueueSize:    10,
		SilenceThresholdMs: 5000,

		ResultBufferMaxCapacity:   10,
		ResultBufferExpirationSec: 30,
		ResultBufferCleanupSec:    10,

		ProactiveSilenceTimeoutMs: 5000,
		MaxProactiveCount:         3,
		MaxTotalSilenceMs:         30000,

		BargeInAmplitudeThreshold: 5000,
		BargeInFrameThreshold:     3,
		EchoSimilarityThreshold:   0.8,

		SentenceAggregationDelayMsSpeaking: 500,
		SentenceAggregationDelayMsSilent:   2500,
		SentenceAggregationDelayMsShort:    300,
		InsuranceDelayMs:                   2500,

		MinWordsToInterrupt: 1,

		SampleRate: 16000,
	}
}

func (c Config) lockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutSec) * time.Second
}

func (c Config) recognitionTimeout() time.Duration {
	return time.Duration(c.RecognitionTimeoutSec) * time.Second
}

// LoadConfigYAML reads a YAML document at path and overlays it on top of
// DefaultConfig, so a deployment only needs to specify the tunables it
// wants to change.
func LoadConfigYAML(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("voicecore: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("voicecore: parsing config %s: %w", path, err)
	}
	return cfg, nil
}
