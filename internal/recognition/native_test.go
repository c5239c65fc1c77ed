package recognition

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newStreamTestServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func wsBaseURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSStreamMapsTranscriptEvents(t *testing.T) {
	srv := newStreamTestServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"message_type": "session_started"})
		_ = conn.WriteJSON(map[string]any{"message_type": "partial_transcript", "text": "me gu"})
		_ = conn.WriteJSON(map[string]any{"message_type": "committed_transcript", "text": "me gusta"})
		time.Sleep(100 * time.Millisecond)
	})
	defer srv.Close()

	provider := NewWSProvider(WSConfig{WSBaseURL: wsBaseURL(srv)})
	stream, events, err := provider.StartStream(context.Background(), "es")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer stream.Close()

	var got []StreamEvent
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("events closed early, got %v", got)
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}
	if got[0].Type != StreamEventPartial || got[0].Text != "me gu" {
		t.Fatalf("first event = %+v, want partial", got[0])
	}
	if got[1].Type != StreamEventFinal || got[1].Text != "me gusta" {
		t.Fatalf("second event = %+v, want final", got[1])
	}
}

func TestWSStreamCloseDuringBurst(t *testing.T) {
	srv := newStreamTestServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 5000; i++ {
			if err := conn.WriteJSON(map[string]any{"message_type": "partial_transcript", "text": "x"}); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	provider := NewWSProvider(WSConfig{WSBaseURL: wsBaseURL(srv)})
	stream, events, err := provider.StartStream(context.Background(), "es")
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	// Closing mid-burst must not race the read loop's channel sends;
	// the loop alone closes the channel once the connection drops.
	<-events
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}
