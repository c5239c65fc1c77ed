package recorder

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/silence"
)

func pcmFrame(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

type deniedSource struct{}

func (deniedSource) Begin() error { return ErrSourceUnavailable }
func (deniedSource) End()         {}

type reasonRecorder struct {
	mu     sync.Mutex
	reason string
	fired  chan struct{}
}

func newReasonRecorder() *reasonRecorder {
	return &reasonRecorder{fired: make(chan struct{})}
}

func (r *reasonRecorder) hook(reason string) {
	r.mu.Lock()
	if r.reason == "" {
		r.reason = reason
		close(r.fired)
	}
	r.mu.Unlock()
}

func (r *reasonRecorder) wait(t *testing.T) string {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-stop hook never fired")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reason
}

func TestCaptureProducesWAVBlob(t *testing.T) {
	c := NewController(16000, time.Minute, nil, nil)
	if !c.Start() {
		t.Fatal("Start returned false")
	}
	if c.Start() {
		t.Fatal("second Start must be rejected while capture is active")
	}

	frame := pcmFrame(12000, 160)
	c.Feed(frame)
	c.Feed(frame)

	blob, elapsed := c.Stop()
	if elapsed <= 0 {
		t.Fatalf("elapsed = %v, want > 0", elapsed)
	}
	if len(blob) != 44+2*len(frame) {
		t.Fatalf("blob length = %d, want %d", len(blob), 44+2*len(frame))
	}
	if string(blob[:4]) != "RIFF" || string(blob[8:12]) != "WAVE" {
		t.Fatal("blob is not a WAV container")
	}
	if c.Active() {
		t.Fatal("controller still active after Stop")
	}
}

func TestEmptyCaptureReturnsNilBlob(t *testing.T) {
	c := NewController(16000, time.Minute, nil, nil)
	if !c.Start() {
		t.Fatal("Start returned false")
	}
	blob, _ := c.Stop()
	if blob != nil {
		t.Fatalf("blob = %d bytes, want nil for empty capture", len(blob))
	}
}

func TestDeniedSourceRejectsStart(t *testing.T) {
	c := NewController(16000, time.Minute, nil, nil)
	c.SetSource(deniedSource{})
	if c.Start() {
		t.Fatal("Start must report false when the source is unavailable")
	}
	if c.Active() {
		t.Fatal("controller must stay inactive")
	}
}

func TestSilenceTriggersAutoStop(t *testing.T) {
	det := silence.NewDetector()
	det.Configure(true, 20*time.Millisecond)
	c := NewController(16000, time.Minute, det, nil)
	rec := newReasonRecorder()
	c.SetAutoStopHook(rec.hook)

	if !c.Start() {
		t.Fatal("Start returned false")
	}
	quiet := pcmFrame(5, 160)
	c.Feed(quiet)
	time.Sleep(40 * time.Millisecond)
	c.Feed(quiet)

	if got := rec.wait(t); got != ReasonSilence {
		t.Fatalf("auto-stop reason = %q, want %q", got, ReasonSilence)
	}
	c.Stop()
}

func TestMaxDurationTriggersAutoStop(t *testing.T) {
	c := NewController(16000, 30*time.Millisecond, nil, nil)
	rec := newReasonRecorder()
	c.SetAutoStopHook(rec.hook)

	if !c.Start() {
		t.Fatal("Start returned false")
	}
	if got := rec.wait(t); got != ReasonMaxDuration {
		t.Fatalf("auto-stop reason = %q, want %q", got, ReasonMaxDuration)
	}
	c.Stop()
}

func TestStaleDeadlineDoesNotFire(t *testing.T) {
	c := NewController(16000, 30*time.Millisecond, nil, nil)
	rec := newReasonRecorder()
	c.SetAutoStopHook(rec.hook)

	if !c.Start() {
		t.Fatal("Start returned false")
	}
	c.Stop()

	select {
	case <-rec.fired:
		t.Fatal("deadline from a stopped capture must not fire the hook")
	case <-time.After(80 * time.Millisecond):
	}
}
