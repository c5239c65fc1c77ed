package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.SpeechBackend != "auto" {
		t.Fatalf("SpeechBackend = %q, want %q", cfg.SpeechBackend, "auto")
	}
	if cfg.DefaultVoice != "nova" {
		t.Fatalf("DefaultVoice = %q, want %q", cfg.DefaultVoice, "nova")
	}
	if cfg.DefaultLanguage != "es" {
		t.Fatalf("DefaultLanguage = %q, want %q", cfg.DefaultLanguage, "es")
	}
	if cfg.SynthesisCacheTTL != 10*time.Minute {
		t.Fatalf("SynthesisCacheTTL = %v, want 10m", cfg.SynthesisCacheTTL)
	}
	if cfg.SilenceThreshold != 1500*time.Millisecond {
		t.Fatalf("SilenceThreshold = %v, want 1.5s", cfg.SilenceThreshold)
	}
	if !cfg.SilenceDetection {
		t.Fatalf("SilenceDetection = false, want true by default")
	}
	if cfg.RecognitionRetry != 2 {
		t.Fatalf("RecognitionRetry = %d, want 2", cfg.RecognitionRetry)
	}
	if cfg.MinSpeechBytes != 1000 {
		t.Fatalf("MinSpeechBytes = %d, want 1000", cfg.MinSpeechBytes)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("SPEECH_BACKEND", "openai")
	t.Setenv("SPEECH_SILENCE_THRESHOLD", "2s")
	t.Setenv("SPEECH_MAX_RECORDING_TIME", "15s")
	t.Setenv("SPEECH_RECOGNITION_RETRY", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.SpeechBackend != "openai" {
		t.Fatalf("SpeechBackend = %q, want %q", cfg.SpeechBackend, "openai")
	}
	if cfg.SilenceThreshold != 2*time.Second {
		t.Fatalf("SilenceThreshold = %v, want 2s", cfg.SilenceThreshold)
	}
	if cfg.MaxRecordingTime != 15*time.Second {
		t.Fatalf("MaxRecordingTime = %v, want 15s", cfg.MaxRecordingTime)
	}
	if cfg.RecognitionRetry != 3 {
		t.Fatalf("RecognitionRetry = %d, want 3", cfg.RecognitionRetry)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad backend", key: "SPEECH_BACKEND", value: "cassette"},
		{name: "silence threshold too low", key: "SPEECH_SILENCE_THRESHOLD", value: "20ms"},
		{name: "recording time too long", key: "SPEECH_MAX_RECORDING_TIME", value: "5m"},
		{name: "negative retry", key: "SPEECH_RECOGNITION_RETRY", value: "-1"},
		{name: "unparsable bool", key: "SPEECH_SILENCE_DETECTION", value: "maybe"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", tc.key, tc.value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"SPEECH_BACKEND",
		"SPEECH_BACKEND_BASE_URL",
		"SPEECH_BACKEND_TIMEOUT",
		"SPEECH_DEFAULT_VOICE",
		"SPEECH_DEFAULT_LANGUAGE",
		"SPEECH_SYNTHESIS_CACHE_TTL",
		"SPEECH_SILENCE_DETECTION",
		"SPEECH_SILENCE_THRESHOLD",
		"SPEECH_MAX_RECORDING_TIME",
		"SPEECH_RECOGNITION_RETRY",
		"SPEECH_MIN_SPEECH_BYTES",
		"SPEECH_INTENSITY_INTERVAL",
		"OPENAI_API_KEY",
		"OPENAI_TTS_MODEL",
		"NATIVE_STT_WS_BASE_URL",
		"NATIVE_STT_MODEL_ID",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
