package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/reliability"
)

// HTTPConfig configures the HTTP synthesis backend.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPBackend calls the tutoring backend's text-to-speech endpoint.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(cfg HTTPConfig) (*HTTPBackend, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("synthesis base URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPBackend{
		baseURL: base,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type errorBody struct {
	Message string `json:"message"`
}

func (b *HTTPBackend) Synthesize(ctx context.Context, text, voice string) (Result, error) {
	body, err := json.Marshal(ttsRequest{Text: text, Voice: voice})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/speech/tts", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := ""
		var eb errorBody
		if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
			if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
				detail = ": " + eb.Message
			}
		}
		if reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return Result{}, fmt.Errorf("%w: status %d (retryable)%s", ErrUnavailable, resp.StatusCode, detail)
		}
		return Result{}, fmt.Errorf("%w: status %d%s", ErrUnavailable, resp.StatusCode, detail)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyPayload
	}

	format := formatFromContentType(resp.Header.Get("Content-Type"))
	return Result{Audio: audio, Format: format}, nil
}

func formatFromContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	switch {
	case strings.Contains(ct, "mpeg"), strings.Contains(ct, "mp3"):
		return "mp3"
	case strings.Contains(ct, "wav"):
		return "wav"
	case strings.Contains(ct, "ogg"):
		return "ogg"
	default:
		return "mp3"
	}
}
