package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the speech gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	SpeechBackend string

	BackendBaseURL string
	BackendTimeout time.Duration

	OpenAIAPIKey   string
	OpenAITTSModel string

	DefaultVoice    string
	DefaultLanguage string

	SynthesisCacheTTL time.Duration

	SilenceDetection bool
	SilenceThreshold time.Duration
	MaxRecordingTime time.Duration
	RecognitionRetry int
	MinSpeechBytes   int

	IntensityInterval time.Duration

	NativeSTTWSBaseURL string
	NativeSTTModelID   string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "speechd"),
		AllowAnyOrigin:   false,
		SpeechBackend:    envOrDefault("SPEECH_BACKEND", "auto"),
		BackendBaseURL:   trimmedEnv("SPEECH_BACKEND_BASE_URL"),
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		OpenAITTSModel:   envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		// Default to the warm OpenAI voice the tutor persona ships with.
		DefaultVoice:       envOrDefault("SPEECH_DEFAULT_VOICE", "nova"),
		DefaultLanguage:    envOrDefault("SPEECH_DEFAULT_LANGUAGE", "es"),
		NativeSTTWSBaseURL: trimmedEnv("NATIVE_STT_WS_BASE_URL"),
		NativeSTTModelID:   envOrDefault("NATIVE_STT_MODEL_ID", "scribe_v1"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		BackendTimeout:           20 * time.Second,
		SynthesisCacheTTL:        10 * time.Minute,
		SilenceDetection:         true,
		SilenceThreshold:         1500 * time.Millisecond,
		MaxRecordingTime:         30 * time.Second,
		RecognitionRetry:         2,
		MinSpeechBytes:           1000,
		IntensityInterval:        50 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("SPEECH_BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesisCacheTTL, err = durationFromEnv("SPEECH_SYNTHESIS_CACHE_TTL", cfg.SynthesisCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceThreshold, err = durationFromEnv("SPEECH_SILENCE_THRESHOLD", cfg.SilenceThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRecordingTime, err = durationFromEnv("SPEECH_MAX_RECORDING_TIME", cfg.MaxRecordingTime)
	if err != nil {
		return Config{}, err
	}
	cfg.IntensityInterval, err = durationFromEnv("SPEECH_INTENSITY_INTERVAL", cfg.IntensityInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SilenceDetection, err = boolFromEnv("SPEECH_SILENCE_DETECTION", cfg.SilenceDetection)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecognitionRetry, err = intFromEnv("SPEECH_RECOGNITION_RETRY", cfg.RecognitionRetry)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpeechBytes, err = intFromEnv("SPEECH_MIN_SPEECH_BYTES", cfg.MinSpeechBytes)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.SynthesisCacheTTL < time.Minute {
		return Config{}, fmt.Errorf("SPEECH_SYNTHESIS_CACHE_TTL must be at least 1m")
	}
	if cfg.SilenceThreshold < 100*time.Millisecond {
		return Config{}, fmt.Errorf("SPEECH_SILENCE_THRESHOLD must be at least 100ms")
	}
	if cfg.MaxRecordingTime < time.Second || cfg.MaxRecordingTime > time.Minute {
		return Config{}, fmt.Errorf("SPEECH_MAX_RECORDING_TIME must be between 1s and 1m")
	}
	if cfg.RecognitionRetry < 0 {
		return Config{}, fmt.Errorf("SPEECH_RECOGNITION_RETRY must be >= 0")
	}
	if cfg.MinSpeechBytes < 0 {
		return Config{}, fmt.Errorf("SPEECH_MIN_SPEECH_BYTES must be >= 0")
	}
	if cfg.IntensityInterval < 10*time.Millisecond {
		return Config{}, fmt.Errorf("SPEECH_INTENSITY_INTERVAL must be at least 10ms")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.SpeechBackend)) {
	case "auto", "http", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("invalid SPEECH_BACKEND: %q (expected auto|http|openai|mock)", cfg.SpeechBackend)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
