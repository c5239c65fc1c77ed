package synthesis

import (
	"context"
	"strings"
)

// MockBackend is a local fallback backend used when no real backend is configured.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Synthesize(_ context.Context, text, _ string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	return Result{Audio: []byte(text), Format: "mock_text_bytes"}, nil
}
