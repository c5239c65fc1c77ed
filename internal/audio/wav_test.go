package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := make([]byte, 320)
	out, err := EncodeWAV(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	if len(out) != 44+len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(out), 44+len(pcm))
	}
	if !bytes.Equal(out[0:4], []byte("RIFF")) {
		t.Fatalf("missing RIFF marker: %q", out[0:4])
	}
	if !bytes.Equal(out[8:12], []byte("WAVE")) {
		t.Fatalf("missing WAVE marker: %q", out[8:12])
	}

	sampleRate := binary.LittleEndian.Uint32(out[24:28])
	if sampleRate != 16000 {
		t.Fatalf("sample rate = %d, want 16000", sampleRate)
	}
	dataSize := binary.LittleEndian.Uint32(out[40:44])
	if int(dataSize) != len(pcm) {
		t.Fatalf("data size = %d, want %d", dataSize, len(pcm))
	}
}

func TestEncodeWAVDefaultsSampleRate(t *testing.T) {
	out, err := EncodeWAV([]byte{0, 0}, 0)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	sampleRate := binary.LittleEndian.Uint32(out[24:28])
	if sampleRate != DefaultSampleRate {
		t.Fatalf("sample rate = %d, want %d", sampleRate, DefaultSampleRate)
	}
}
