package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/audio"
	"github.com/adit-kulkarni/languagepal-speech/internal/config"
	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/playback"
	"github.com/adit-kulkarni/languagepal-speech/internal/protocol"
	"github.com/adit-kulkarni/languagepal-speech/internal/recognition"
	"github.com/adit-kulkarni/languagepal-speech/internal/recorder"
	"github.com/adit-kulkarni/languagepal-speech/internal/session"
	"github.com/adit-kulkarni/languagepal-speech/internal/silence"
	"github.com/adit-kulkarni/languagepal-speech/internal/synthesis"
	"github.com/adit-kulkarni/languagepal-speech/internal/transcription"
)

// Gateway wires one websocket connection to a playback controller and
// a recognition service, translating both into protocol messages.
type Gateway struct {
	cfg         config.Config
	cache       *synthesis.Cache
	transcriber transcription.Transcriber
	native      recognition.StreamProvider
	metrics     *observability.Metrics
}

func New(
	cfg config.Config,
	cache *synthesis.Cache,
	transcriber transcription.Transcriber,
	native recognition.StreamProvider,
	metrics *observability.Metrics,
) *Gateway {
	return &Gateway{
		cfg:         cfg,
		cache:       cache,
		transcriber: transcriber,
		native:      native,
		metrics:     metrics,
	}
}

// PreviewTTS synthesizes one utterance without starting a playback
// session, for voice preview endpoints.
func (g *Gateway) PreviewTTS(ctx context.Context, text, voice string) ([]byte, string, error) {
	clean := playback.SanitizeText(text)
	handle, err := g.cache.Synthesize(ctx, clean, voice)
	if err != nil {
		return nil, "", err
	}
	defer handle.Release()
	out := make([]byte, len(handle.Audio()))
	copy(out, handle.Audio())
	return out, handle.Format(), nil
}

// RunConnection consumes parsed client messages from inbound and emits
// protocol events on outbound until the context ends or inbound closes.
func (g *Gateway) RunConnection(ctx context.Context, sess *session.Session, inbound <-chan any, outbound chan<- any) error {
	send := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Writer is saturated; events are advisory, drop rather than stall audio.
		}
	}

	det := silence.NewDetector()
	det.Configure(g.cfg.SilenceDetection, g.cfg.SilenceThreshold)
	rec := recorder.NewController(audio.DefaultSampleRate, g.cfg.MaxRecordingTime, det, g.metrics)

	mode := recognition.ModeCloud
	if g.native != nil {
		mode = recognition.ModeNative
	}
	recog := recognition.NewService(recognition.Config{
		Mode:            mode,
		FallbackEnabled: true,
		RetryBudget:     g.cfg.RecognitionRetry,
		MinSpeechBytes:  g.cfg.MinSpeechBytes,
		Language:        sess.Language,
		SampleRate:      audio.DefaultSampleRate,
	}, g.native, g.transcriber, rec, det, g.metrics, recognition.Callbacks{
		OnPartial: func(text string) {
			send(protocol.STTPartial{
				Type:      protocol.TypeSTTPartial,
				SessionID: sess.ID,
				Text:      text,
				TSMs:      time.Now().UnixMilli(),
			})
		},
		OnResult: func(res recognition.Result) {
			send(protocol.STTFinal{
				Type:      protocol.TypeSTTFinal,
				SessionID: sess.ID,
				Text:      res.Text,
				Mode:      string(res.Mode),
				TSMs:      time.Now().UnixMilli(),
			})
		},
		OnError: func(source, code string, retryable bool, detail string) {
			send(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sess.ID,
				Code:      code,
				Source:    source,
				Retryable: retryable,
				Detail:    detail,
			})
		},
	})
	defer recog.Shutdown()

	player := playback.NewController(g.cache, g.metrics, playback.Callbacks{
		OnAudio: func(playbackID, format string, pcm []byte) {
			send(protocol.SpeechAudio{
				Type:        protocol.TypeSpeechAudio,
				SessionID:   sess.ID,
				PlaybackID:  playbackID,
				Format:      format,
				AudioBase64: base64.StdEncoding.EncodeToString(pcm),
			})
		},
		OnWord: func(playbackID string, index int, word string, tsMs int64) {
			send(protocol.WordHighlight{
				Type:       protocol.TypeWordHighlight,
				SessionID:  sess.ID,
				PlaybackID: playbackID,
				Index:      index,
				Word:       word,
				TSMs:       tsMs,
			})
		},
		OnIntensity: func(playbackID string, level float64) {
			send(protocol.Intensity{
				Type:       protocol.TypeIntensity,
				SessionID:  sess.ID,
				PlaybackID: playbackID,
				Level:      level,
			})
		},
		OnStateChange: func(playbackID string, state playback.State, reason string) {
			send(protocol.PlaybackState{
				Type:       protocol.TypePlaybackState,
				SessionID:  sess.ID,
				PlaybackID: playbackID,
				State:      string(state),
				Reason:     reason,
			})
		},
	})
	player.SetIntensityInterval(g.cfg.IntensityInterval)
	defer player.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientAudioChunk:
				if m.SampleRate != audio.DefaultSampleRate {
					// The capture pipeline, WAV header, and native stream all
					// run at one fixed rate; a mislabeled chunk would come out
					// garbled downstream, so refuse it outright.
					send(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sess.ID,
						Code:      "unsupported_sample_rate",
						Source:    "gateway",
						Retryable: false,
						Detail:    fmt.Sprintf("capture runs at %d Hz PCM16, chunk declared %d Hz", audio.DefaultSampleRate, m.SampleRate),
					})
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
				if err != nil {
					send(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sess.ID,
						Code:      "invalid_audio_chunk",
						Source:    "gateway",
						Retryable: false,
						Detail:    err.Error(),
					})
					continue
				}
				recog.Feed(pcm)
			case protocol.ClientControl:
				g.handleControl(ctx, sess, m, player, recog, send)
			}
		}
	}
}

func (g *Gateway) handleControl(
	ctx context.Context,
	sess *session.Session,
	m protocol.ClientControl,
	player *playback.Controller,
	recog *recognition.Service,
	send func(any),
) {
	sendError := func(code string, retryable bool, detail string) {
		send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sess.ID,
			Code:      code,
			Source:    "gateway",
			Retryable: retryable,
			Detail:    detail,
		})
	}

	switch m.Action {
	case protocol.ActionSpeak:
		voice := m.Voice
		if voice == "" {
			voice = sess.VoiceID
		}
		// Synthesis can block on the backend; keep the control loop live.
		go func() {
			_, err := player.Speak(ctx, m.Text, voice)
			switch {
			case err == nil:
			case errors.Is(err, playback.ErrBusy):
				sendError("playback_busy", false, "an utterance is already playing")
			case errors.Is(err, synthesis.ErrEmptyText):
				sendError("empty_text", false, "nothing to speak after sanitization")
			default:
				sendError("synthesis_failed", errors.Is(err, synthesis.ErrUnavailable), err.Error())
			}
		}()
	case protocol.ActionStopSpeaking:
		player.Stop()
	case protocol.ActionStartListening:
		if err := recog.Start(ctx); err != nil {
			if errors.Is(err, recorder.ErrSourceUnavailable) {
				sendError("capture_unavailable", false, err.Error())
			} else {
				sendError("listen_failed", false, err.Error())
			}
		}
	case protocol.ActionStopListening:
		recog.Stop()
	case protocol.ActionSetMode:
		if err := recog.SetMode(recognition.Mode(m.Mode)); err != nil {
			code := "set_mode_failed"
			if errors.Is(err, recognition.ErrModeUnavailable) {
				code = "mode_unavailable"
			}
			sendError(code, false, err.Error())
		}
	case protocol.ActionSetFallback:
		recog.SetFallback(*m.Enabled)
	case protocol.ActionSetSilence:
		threshold := g.cfg.SilenceThreshold
		if m.ThresholdMs > 0 {
			threshold = time.Duration(m.ThresholdMs) * time.Millisecond
		}
		recog.ConfigureSilence(*m.Enabled, threshold)
	}
}
