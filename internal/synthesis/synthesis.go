package synthesis

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable reports a synthesis backend failure (network or non-2xx).
	ErrUnavailable = errors.New("synthesis unavailable")
	// ErrEmptyPayload reports a successful response carrying zero audio bytes.
	ErrEmptyPayload = errors.New("synthesis returned empty payload")
	// ErrEmptyText reports a synthesis request with no speakable text.
	ErrEmptyText = errors.New("text is empty")
)

// Result is one synthesized utterance.
type Result struct {
	Audio  []byte
	Format string
}

// Synthesizer turns text into an audio payload.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Result, error)
}

// DefaultVoice is used when a requested voice is not in the known set.
const DefaultVoice = "nova"

var knownVoices = map[string]struct{}{
	"alloy":   {},
	"echo":    {},
	"fable":   {},
	"onyx":    {},
	"nova":    {},
	"shimmer": {},
}

// NormalizeVoice maps unknown or empty voices to the default voice.
func NormalizeVoice(voice string) string {
	voice = strings.ToLower(strings.TrimSpace(voice))
	if _, ok := knownVoices[voice]; !ok {
		return DefaultVoice
	}
	return voice
}
