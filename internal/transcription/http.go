package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/reliability"
)

// HTTPConfig configures the HTTP transcription backend.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPBackend posts WAV captures to the tutoring backend's
// speech-to-text endpoint as multipart form data.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("transcription base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPBackend{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type transcribeResponse struct {
	Text string `json:"text"`
}

func (b *HTTPBackend) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	if len(wav) == 0 {
		return "", ErrEmptyAudio
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/speech/transcribe", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return "", fmt.Errorf("%w: status %d (retryable)", ErrUnavailable, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var tr transcribeResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return strings.TrimSpace(tr.Text), nil
}
