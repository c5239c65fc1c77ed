package recognition

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adit-kulkarni/languagepal-speech/internal/reliability"
)

// StreamEventType classifies events emitted by a native stream.
type StreamEventType string

const (
	StreamEventPartial StreamEventType = "partial"
	StreamEventFinal   StreamEventType = "final"
	StreamEventError   StreamEventType = "error"
)

// StreamEvent is one event from a native recognition stream.
type StreamEvent struct {
	Type      StreamEventType
	Text      string
	Code      string
	Detail    string
	Retryable bool
	Timestamp int64
}

// Stream is one live native recognition session.
type Stream interface {
	SendAudioChunk(ctx context.Context, pcm []byte, sampleRate int) error
	Commit(ctx context.Context) error
	Close() error
}

// StreamProvider opens native recognition streams.
type StreamProvider interface {
	StartStream(ctx context.Context, language string) (Stream, <-chan StreamEvent, error)
}

// WSConfig configures the realtime websocket recognition provider.
type WSConfig struct {
	APIKey    string
	WSBaseURL string
	ModelID   string
}

// WSProvider speaks the realtime speech-to-text websocket protocol:
// base64 PCM chunks in, partial and committed transcripts out.
type WSProvider struct {
	cfg WSConfig
}

func NewWSProvider(cfg WSConfig) *WSProvider {
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "scribe_v1"
	}
	return &WSProvider{cfg: cfg}
}

func (p *WSProvider) StartStream(ctx context.Context, language string) (Stream, <-chan StreamEvent, error) {
	base := strings.TrimRight(strings.TrimSpace(p.cfg.WSBaseURL), "/")
	if base == "" {
		return nil, nil, fmt.Errorf("native stt websocket base URL is required")
	}
	u, err := url.Parse(base + "/v1/speech-to-text/realtime")
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("commit_strategy", "vad")
	if language != "" {
		q.Set("language", language)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{}
	if p.cfg.APIKey != "" {
		headers.Set("xi-api-key", p.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, nil, fmt.Errorf("dial stt websocket: %w", err)
	}

	events := make(chan StreamEvent, 256)
	s := &wsStream{conn: conn, events: events}
	go s.readLoop()
	return s, events, nil
}

type wsStream struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan StreamEvent
}

func (s *wsStream) SendAudioChunk(_ context.Context, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": base64.StdEncoding.EncodeToString(pcm),
		"commit":        false,
		"sample_rate":   sampleRate,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

func (s *wsStream) Commit(_ context.Context) error {
	payload := map[string]any{
		"message_type":  "input_audio_chunk",
		"audio_base_64": "",
		"commit":        true,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

// readLoop owns the events channel: it is the only goroutine that
// sends on it, and closes it once the connection drops.
func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}
		messageType := asString(raw["message_type"])
		switch messageType {
		case "partial_transcript":
			s.events <- StreamEvent{Type: StreamEventPartial, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()}
		case "committed_transcript", "committed_transcript_with_timestamps":
			s.events <- StreamEvent{Type: StreamEventFinal, Text: asString(raw["text"]), Timestamp: time.Now().UnixMilli()}
		case "session_started", "", "input_audio_chunk":
			// control traffic
		default:
			s.events <- StreamEvent{
				Type:      StreamEventError,
				Code:      messageType,
				Detail:    asString(raw["error"]),
				Retryable: reliability.IsRetryableStreamCode(messageType),
				Timestamp: time.Now().UnixMilli(),
			}
		}
	}
}

// Close shuts the connection down; readLoop notices the closed
// connection and closes the events channel itself.
func (s *wsStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		retErr = s.conn.Close()
	})
	return retErr
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
