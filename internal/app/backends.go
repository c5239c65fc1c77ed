package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/adit-kulkarni/languagepal-speech/internal/config"
	"github.com/adit-kulkarni/languagepal-speech/internal/recognition"
	"github.com/adit-kulkarni/languagepal-speech/internal/synthesis"
	"github.com/adit-kulkarni/languagepal-speech/internal/transcription"
)

type backendSetup struct {
	synthesizer     synthesis.Synthesizer
	transcriber     transcription.Transcriber
	native          recognition.StreamProvider
	resolvedBackend string
	detail          string
}

// mockTranscriber pairs with the mock synthesis backend for local
// development without speech services.
type mockTranscriber struct{}

func (mockTranscriber) Transcribe(_ context.Context, wav []byte, _ string) (string, error) {
	if len(wav) == 0 {
		return "", transcription.ErrEmptyAudio
	}
	return fmt.Sprintf("[mock transcript of %d byte capture]", len(wav)), nil
}

// resolveBackends picks the synthesis and transcription backends.
// "auto" prefers the tutoring backend's HTTP endpoints when a base URL
// is configured, then OpenAI when a key is present, and falls back to
// the mock backend so the gateway always starts.
func resolveBackends(cfg config.Config) (backendSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.SpeechBackend))
	if mode == "" {
		mode = "auto"
	}

	tryHTTP := func() (backendSetup, bool, error) {
		if strings.TrimSpace(cfg.BackendBaseURL) == "" {
			return backendSetup{}, false, nil
		}
		synth, err := synthesis.NewHTTPBackend(synthesis.HTTPConfig{
			BaseURL: cfg.BackendBaseURL,
			Timeout: cfg.BackendTimeout,
		})
		if err != nil {
			return backendSetup{}, false, err
		}
		trans, err := transcription.NewHTTPBackend(transcription.HTTPConfig{
			BaseURL: cfg.BackendBaseURL,
			Timeout: cfg.BackendTimeout,
		})
		if err != nil {
			return backendSetup{}, false, err
		}
		return backendSetup{
			synthesizer:     synth,
			transcriber:     trans,
			resolvedBackend: "http",
			detail:          "tutoring backend at " + cfg.BackendBaseURL,
		}, true, nil
	}

	tryOpenAI := func() (backendSetup, bool, error) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return backendSetup{}, false, nil
		}
		synth, err := synthesis.NewOpenAIBackend(synthesis.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAITTSModel,
		})
		if err != nil {
			return backendSetup{}, false, err
		}
		trans, err := transcription.NewOpenAIBackend(cfg.OpenAIAPIKey, "")
		if err != nil {
			return backendSetup{}, false, err
		}
		return backendSetup{
			synthesizer:     synth,
			transcriber:     trans,
			resolvedBackend: "openai",
			detail:          "openai tts + whisper",
		}, true, nil
	}

	mock := func() backendSetup {
		return backendSetup{
			synthesizer:     synthesis.NewMockBackend(),
			transcriber:     mockTranscriber{},
			resolvedBackend: "mock",
			detail:          "mock backends, no external services",
		}
	}

	var setup backendSetup
	switch mode {
	case "http":
		s, ok, err := tryHTTP()
		if err != nil {
			return backendSetup{}, err
		}
		if !ok {
			return backendSetup{}, fmt.Errorf("SPEECH_BACKEND=http requires SPEECH_BACKEND_BASE_URL")
		}
		setup = s
	case "openai":
		s, ok, err := tryOpenAI()
		if err != nil {
			return backendSetup{}, err
		}
		if !ok {
			return backendSetup{}, fmt.Errorf("SPEECH_BACKEND=openai requires OPENAI_API_KEY")
		}
		setup = s
	case "mock":
		setup = mock()
	case "auto":
		if s, ok, err := tryHTTP(); err != nil {
			return backendSetup{}, err
		} else if ok {
			setup = s
		} else if s, ok, err := tryOpenAI(); err != nil {
			return backendSetup{}, err
		} else if ok {
			setup = s
		} else {
			setup = mock()
		}
	default:
		return backendSetup{}, fmt.Errorf("unknown SPEECH_BACKEND %q", cfg.SpeechBackend)
	}

	if strings.TrimSpace(cfg.NativeSTTWSBaseURL) != "" {
		setup.native = recognition.NewWSProvider(recognition.WSConfig{
			WSBaseURL: cfg.NativeSTTWSBaseURL,
			ModelID:   cfg.NativeSTTModelID,
		})
		setup.detail += ", native realtime stt"
	}
	return setup, nil
}
