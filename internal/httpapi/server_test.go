package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adit-kulkarni/languagepal-speech/internal/config"
	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/protocol"
	"github.com/adit-kulkarni/languagepal-speech/internal/session"
)

var testMetrics = observability.NewMetrics("httpapi_test")

type echoGateway struct{}

func (echoGateway) PreviewTTS(_ context.Context, text, _ string) ([]byte, string, error) {
	return []byte(text), "mp3", nil
}

func (echoGateway) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if ctl, ok := msg.(protocol.ClientControl); ok && ctl.Action == protocol.ActionSpeak {
				outbound <- protocol.SpeechAudio{
					Type:        protocol.TypeSpeechAudio,
					SessionID:   s.ID,
					PlaybackID:  "p-1",
					Format:      "mp3",
					AudioBase64: "YXVkaW8=",
				}
			}
		}
	}
}

func newTestServer(t *testing.T) (*Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: time.Minute,
		AllowAnyOrigin:           true,
		SpeechBackend:            "mock",
		DefaultVoice:             "nova",
		DefaultLanguage:          "es",
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	return New(cfg, sessions, echoGateway{}, testMetrics), sessions
}

func TestCreateSessionAppliesDefaults(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/speech/session", bytes.NewBufferString(`{"user_id":"learner-7"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp session.CreateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("missing session id")
	}
	if resp.Language != "es" || resp.VoiceID != "nova" {
		t.Fatalf("defaults not applied: %+v", resp)
	}
	if resp.InactivityTTLMS != time.Minute.Milliseconds() {
		t.Fatalf("inactivity ttl = %d", resp.InactivityTTLMS)
	}
}

func TestEndSession(t *testing.T) {
	srv, sessions := newTestServer(t)
	sess := sessions.Create("learner-7", "es", "nova")

	req := httptest.NewRequest(http.MethodPost, "/v1/speech/session/"+sess.ID+"/end", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/speech/session/nope/end", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", rec.Code)
	}
}

func TestPreviewTTS(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/speech/tts/preview", bytes.NewBufferString(`{"text":"hola"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("content type = %q", ct)
	}
	if rec.Body.String() != "hola" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/speech/tts/preview", bytes.NewBufferString(`{"voice":"nova"}`))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing text status = %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestSessionWSRoundTrip(t *testing.T) {
	srv, sessions := newTestServer(t)
	sess := sessions.Create("learner-7", "es", "nova")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/speech/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	speak := protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionSpeak,
		Text:      "hola",
	}
	if err := conn.WriteJSON(speak); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply protocol.SpeechAudio
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != protocol.TypeSpeechAudio || reply.SessionID != sess.ID {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestSessionWSRejectsUnknownSession(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/speech/session/ws?session_id=missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/speech/session/ws", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id status = %d", rec.Code)
	}
}

func TestSessionWSSendsKeepalivePings(t *testing.T) {
	srv, sessions := newTestServer(t)
	srv.pingInterval = 20 * time.Millisecond
	sess := sessions.Create("learner-7", "es", "nova")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/speech/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// Ping handlers only run while a read is in flight.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keepalive ping received")
	}
}

func TestSessionWSRejectsEndedSession(t *testing.T) {
	srv, sessions := newTestServer(t)
	sess := sessions.Create("learner-7", "es", "nova")
	if _, err := sessions.End(sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/speech/session/ws?session_id="+sess.ID, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusGone {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusGone)
	}
}

func TestInvalidClientMessageProducesErrorEvent(t *testing.T) {
	srv, sessions := newTestServer(t)
	sess := sessions.Create("learner-7", "es", "nova")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/speech/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply protocol.ErrorEvent
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != protocol.TypeErrorEvent || reply.Code != "invalid_client_message" {
		t.Fatalf("reply = %+v", reply)
	}
}
