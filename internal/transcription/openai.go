package transcription

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIBackend transcribes captures with the Whisper API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

func NewOpenAIBackend(apiKey, model string) (*OpenAIBackend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &OpenAIBackend{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (b *OpenAIBackend) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}
	resp, err := b.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    b.model,
		Reader:   bytes.NewReader(wav),
		FilePath: "audio.wav",
		Language: language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
