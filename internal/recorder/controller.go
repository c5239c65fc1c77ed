package recorder

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/audio"
	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/silence"
)

// Auto-stop reasons passed to the hook installed with SetAutoStopHook.
const (
	ReasonSilence     = "silence"
	ReasonMaxDuration = "max_duration"
)

// ErrSourceUnavailable is returned by sources that cannot provide audio,
// for example when the client never granted capture access.
var ErrSourceUnavailable = errors.New("recorder: audio source unavailable")

// Source reserves an upstream audio feed for the duration of a capture.
// The gateway's source is the websocket client streaming PCM chunks.
type Source interface {
	Begin() error
	End()
}

// StreamSource is the default always-available source for clients that
// push chunks themselves.
type StreamSource struct{}

func (StreamSource) Begin() error { return nil }
func (StreamSource) End()         {}

// Controller buffers PCM16 chunks for one capture at a time, feeding
// each chunk's energy level to the silence detector and enforcing a
// hard recording deadline. Stop returns the capture as a WAV blob.
type Controller struct {
	mu          sync.Mutex
	active      bool
	generation  uint64
	buf         bytes.Buffer
	startedAt   time.Time
	sampleRate  int
	maxDuration time.Duration

	source   Source
	detector *silence.Detector
	metrics  *observability.Metrics

	autoStop func(reason string)
	deadline *time.Timer

	now func() time.Time
}

func NewController(sampleRate int, maxDuration time.Duration, detector *silence.Detector, metrics *observability.Metrics) *Controller {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &Controller{
		sampleRate:  sampleRate,
		maxDuration: maxDuration,
		source:      StreamSource{},
		detector:    detector,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SetSource replaces the capture source. Must be called before Start.
func (c *Controller) SetSource(src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if src != nil {
		c.source = src
	}
}

// SetAutoStopHook installs the callback invoked when the deadline
// elapses or sustained silence is detected. The hook owner is expected
// to call Stop.
func (c *Controller) SetAutoStopHook(hook func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoStop = hook
}

// Start begins a capture. It reports false when one is already running
// or the source cannot provide audio.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	if err := c.source.Begin(); err != nil {
		return false
	}

	c.active = true
	c.generation++
	c.buf.Reset()
	c.startedAt = c.now()
	if c.detector != nil {
		c.detector.Reset()
	}

	gen := c.generation
	if c.maxDuration > 0 {
		c.deadline = time.AfterFunc(c.maxDuration, func() {
			c.fireAutoStop(gen, ReasonMaxDuration)
		})
	}
	return true
}

// Feed appends one PCM16 chunk to the capture and runs silence
// detection on its energy level. Chunks arriving while no capture is
// active are dropped.
func (c *Controller) Feed(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.buf.Write(pcm)
	gen := c.generation
	det := c.detector
	c.mu.Unlock()

	if det != nil && det.Feed(audio.LevelDB(pcm)) {
		c.fireAutoStop(gen, ReasonSilence)
	}
}

// Stop ends the capture and returns the recorded audio as a WAV blob
// along with the capture duration. An empty capture returns a nil blob.
func (c *Controller) Stop() ([]byte, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return nil, 0
	}
	c.active = false
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
	c.source.End()

	elapsed := c.now().Sub(c.startedAt)
	if c.metrics != nil {
		c.metrics.ObserveStage(observability.StageRecordTotal, elapsed)
	}
	if c.buf.Len() == 0 {
		return nil, elapsed
	}
	blob, err := audio.EncodeWAV(c.buf.Bytes(), c.sampleRate)
	c.buf.Reset()
	if err != nil {
		return nil, elapsed
	}
	return blob, elapsed
}

// Active reports whether a capture is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Elapsed reports how long the current capture has been running.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

func (c *Controller) fireAutoStop(gen uint64, reason string) {
	c.mu.Lock()
	hook := c.autoStop
	stale := !c.active || gen != c.generation
	c.mu.Unlock()
	if stale || hook == nil {
		return
	}
	hook(reason)
}
