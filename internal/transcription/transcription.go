package transcription

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable marks backend failures the caller may retry or
	// fall back from.
	ErrUnavailable = errors.New("transcription backend unavailable")
	// ErrEmptyAudio is returned for captures too small to transcribe.
	ErrEmptyAudio = errors.New("transcription audio is empty")
)

// Transcriber converts a WAV capture to recognized text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}
