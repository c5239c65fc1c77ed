package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeSpeechAudio      MessageType = "speech_audio"
	TypeWordHighlight    MessageType = "word_highlight"
	TypeIntensity        MessageType = "speaking_intensity"
	TypePlaybackState    MessageType = "playback_state"
	TypeSTTPartial       MessageType = "stt_partial"
	TypeSTTFinal         MessageType = "stt_final"
	TypeErrorEvent       MessageType = "error_event"
)

// Control actions accepted inside a client_control message.
const (
	ActionSpeak          = "speak"
	ActionStopSpeaking   = "stop_speaking"
	ActionStartListening = "start_listening"
	ActionStopListening  = "stop_listening"
	ActionSetMode        = "set_mode"
	ActionSetFallback    = "set_fallback"
	ActionSetSilence     = "set_silence"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`

	// Action-specific payload fields.
	Text        string `json:"text,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	ThresholdMs int64  `json:"threshold_ms,omitempty"`
}

type SpeechAudio struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	PlaybackID  string      `json:"playback_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type WordHighlight struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	PlaybackID string      `json:"playback_id"`
	Index      int         `json:"index"`
	Word       string      `json:"word"`
	TSMs       int64       `json:"ts_ms"`
}

type Intensity struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	PlaybackID string      `json:"playback_id"`
	Level      float64     `json:"level"`
}

type PlaybackState struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	PlaybackID string      `json:"playback_id"`
	State      string      `json:"state"`
	Reason     string      `json:"reason,omitempty"`
}

type STTPartial struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

type STTFinal struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	Mode      string      `json:"mode"`
	TSMs      int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionSpeak:
			if msg.Text == "" {
				return nil, errors.New("speak requires text")
			}
		case ActionSetMode:
			if msg.Mode != "native" && msg.Mode != "cloud" {
				return nil, fmt.Errorf("invalid recognition mode %q", msg.Mode)
			}
		case ActionSetFallback, ActionSetSilence:
			if msg.Enabled == nil {
				return nil, fmt.Errorf("%s requires enabled", msg.Action)
			}
		case ActionStopSpeaking, ActionStartListening, ActionStopListening:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
