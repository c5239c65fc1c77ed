package gateway

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/config"
	"github.com/adit-kulkarni/languagepal-speech/internal/protocol"
	"github.com/adit-kulkarni/languagepal-speech/internal/session"
	"github.com/adit-kulkarni/languagepal-speech/internal/synthesis"
)

type staticTranscriber struct {
	text string
}

func (s staticTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, nil
}

func testConfig() config.Config {
	return config.Config{
		DefaultVoice:      "nova",
		DefaultLanguage:   "es",
		SilenceDetection:  true,
		SilenceThreshold:  1500 * time.Millisecond,
		MaxRecordingTime:  30 * time.Second,
		RecognitionRetry:  2,
		MinSpeechBytes:    100,
		IntensityInterval: 20 * time.Millisecond,
	}
}

type runningConn struct {
	inbound  chan any
	outbound chan any
	done     chan error
	cancel   context.CancelFunc
}

func startConn(t *testing.T) (*runningConn, *session.Session) {
	t.Helper()
	cache := synthesis.NewCache(synthesis.NewMockBackend(), time.Minute, nil, nil)
	g := New(testConfig(), cache, staticTranscriber{text: "me gusta el cafe"}, nil, nil)

	sessions := session.NewManager(time.Minute)
	sess := sessions.Create("user-1", "es", "nova")

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningConn{
		inbound:  make(chan any, 16),
		outbound: make(chan any, 256),
		done:     make(chan error, 1),
		cancel:   cancel,
	}
	go func() { rc.done <- g.RunConnection(ctx, sess, rc.inbound, rc.outbound) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-rc.done:
		case <-time.After(2 * time.Second):
			t.Error("RunConnection did not exit")
		}
	})
	return rc, sess
}

func (rc *runningConn) collect(t *testing.T, wantType protocol.MessageType, timeout time.Duration) any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case msg := <-rc.outbound:
			switch m := msg.(type) {
			case protocol.SpeechAudio:
				if wantType == protocol.TypeSpeechAudio {
					return m
				}
			case protocol.WordHighlight:
				if wantType == protocol.TypeWordHighlight {
					return m
				}
			case protocol.PlaybackState:
				if wantType == protocol.TypePlaybackState {
					return m
				}
			case protocol.Intensity:
				if wantType == protocol.TypeIntensity {
					return m
				}
			case protocol.STTFinal:
				if wantType == protocol.TypeSTTFinal {
					return m
				}
			case protocol.ErrorEvent:
				if wantType == protocol.TypeErrorEvent {
					return m
				}
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", wantType, timeout)
		}
	}
}

func TestSpeakControlEmitsPlaybackEvents(t *testing.T) {
	rc, sess := startConn(t)

	rc.inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionSpeak,
		Text:      "hola, ¿como estas?",
	}

	audioMsg := rc.collect(t, protocol.TypeSpeechAudio, 2*time.Second).(protocol.SpeechAudio)
	if audioMsg.SessionID != sess.ID || audioMsg.Format != "mock_text_bytes" {
		t.Fatalf("speech_audio = %+v", audioMsg)
	}
	if _, err := base64.StdEncoding.DecodeString(audioMsg.AudioBase64); err != nil {
		t.Fatalf("audio payload is not base64: %v", err)
	}

	word := rc.collect(t, protocol.TypeWordHighlight, 3*time.Second).(protocol.WordHighlight)
	if word.PlaybackID != audioMsg.PlaybackID {
		t.Fatalf("word highlight playback id = %q, want %q", word.PlaybackID, audioMsg.PlaybackID)
	}
	rc.collect(t, protocol.TypeIntensity, 3*time.Second)
}

func TestListenFlowProducesFinalTranscript(t *testing.T) {
	rc, sess := startConn(t)

	rc.inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionStartListening,
	}

	chunk := make([]byte, 2000)
	for i := 0; i+1 < len(chunk); i += 2 {
		binary.LittleEndian.PutUint16(chunk[i:], 9000)
	}
	rc.inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   sess.ID,
		PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
		SampleRate:  16000,
	}
	// Give the chunk time to land before stopping.
	time.Sleep(50 * time.Millisecond)
	rc.inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionStopListening,
	}

	final := rc.collect(t, protocol.TypeSTTFinal, 2*time.Second).(protocol.STTFinal)
	if final.Text != "me gusta el cafe" || final.Mode != "cloud" {
		t.Fatalf("stt_final = %+v", final)
	}
}

func TestMismatchedSampleRateChunkRejected(t *testing.T) {
	rc, sess := startConn(t)

	rc.inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionStartListening,
	}

	chunk := make([]byte, 2000)
	for i := 0; i+1 < len(chunk); i += 2 {
		binary.LittleEndian.PutUint16(chunk[i:], 9000)
	}
	rc.inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   sess.ID,
		PCM16Base64: base64.StdEncoding.EncodeToString(chunk),
		SampleRate:  44100,
	}

	errEvent := rc.collect(t, protocol.TypeErrorEvent, 2*time.Second).(protocol.ErrorEvent)
	if errEvent.Code != "unsupported_sample_rate" {
		t.Fatalf("error code = %q, want unsupported_sample_rate", errEvent.Code)
	}

	// The rejected chunk never reached the recorder, so stopping leaves
	// an empty capture and no transcript.
	rc.inbound <- protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: sess.ID,
		Action:    protocol.ActionStopListening,
	}
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case msg := <-rc.outbound:
			if final, ok := msg.(protocol.STTFinal); ok {
				t.Fatalf("unexpected transcript from rejected audio: %+v", final)
			}
		case <-deadline:
			return
		}
	}
}

func TestInvalidAudioChunkEmitsError(t *testing.T) {
	rc, sess := startConn(t)

	rc.inbound <- protocol.ClientAudioChunk{
		Type:        protocol.TypeClientAudioChunk,
		SessionID:   sess.ID,
		PCM16Base64: "not base64!!!",
		SampleRate:  16000,
	}

	errEvent := rc.collect(t, protocol.TypeErrorEvent, 2*time.Second).(protocol.ErrorEvent)
	if errEvent.Code != "invalid_audio_chunk" {
		t.Fatalf("error code = %q", errEvent.Code)
	}
}
