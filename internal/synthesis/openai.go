package synthesis

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the direct OpenAI synthesis backend.
type OpenAIConfig struct {
	APIKey string
	Model  string
}

// OpenAIBackend synthesizes speech with the OpenAI audio API, bypassing
// the tutoring backend. Used when no backend base URL is configured.
type OpenAIBackend struct {
	client *openai.Client
	model  openai.SpeechModel
}

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
	}
	model := openai.SpeechModel(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = openai.TTSModel1
	}
	return &OpenAIBackend{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}, nil
}

func (b *OpenAIBackend) Synthesize(ctx context.Context, text, voice string) (Result, error) {
	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          b.model,
		Input:          text,
		Voice:          openai.SpeechVoice(NormalizeVoice(voice)),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyPayload
	}
	return Result{Audio: audio, Format: "mp3"}, nil
}
