package playback

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/synthesis"
)

// State describes the playback lifecycle of a single utterance.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StateEnded   State = "ended"
	StateErrored State = "errored"
)

// ErrBusy is returned when Speak is called while another utterance is
// still loading or playing.
var ErrBusy = errors.New("playback: another utterance is active")

// DefaultIntensityInterval is the cadence of speaking-intensity events.
const DefaultIntensityInterval = 50 * time.Millisecond

// Synthesizer resolves text+voice to an audio handle. Satisfied by
// *synthesis.Cache.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*synthesis.Handle, error)
}

// Callbacks receive playback events. Nil members are skipped.
type Callbacks struct {
	OnAudio       func(playbackID, format string, audio []byte)
	OnWord        func(playbackID string, index int, word string, tsMs int64)
	OnIntensity   func(playbackID string, level float64)
	OnStateChange func(playbackID string, state State, reason string)
	OnEnd         func(playbackID string, err error)
}

type utterance struct {
	id           string
	handle       *synthesis.Handle
	words        []string
	duration     time.Duration
	wordInterval time.Duration
	startedAt    time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Controller runs at most one utterance at a time: it resolves audio
// through the synthesis cache, then emits word-highlight and intensity
// events paced against the estimated playback duration.
type Controller struct {
	synth   Synthesizer
	metrics *observability.Metrics
	cb      Callbacks

	intensityInterval time.Duration

	mu      sync.Mutex
	state   State
	current *utterance

	estimateDuration func(format string, size int) time.Duration
}

func NewController(synth Synthesizer, metrics *observability.Metrics, cb Callbacks) *Controller {
	return &Controller{
		synth:             synth,
		metrics:           metrics,
		cb:                cb,
		intensityInterval: DefaultIntensityInterval,
		state:             StateIdle,
		estimateDuration:  estimatePlaybackDuration,
	}
}

// SetIntensityInterval overrides the speaking-intensity event cadence.
func (c *Controller) SetIntensityInterval(d time.Duration) {
	if d > 0 {
		c.intensityInterval = d
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentID reports the active playback id, if any.
func (c *Controller) CurrentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.id
}

// Speak synthesizes text and starts an event-paced playback session.
// It rejects overlapping utterances rather than queueing them.
func (c *Controller) Speak(ctx context.Context, text, voice string) (string, error) {
	clean := SanitizeText(text)
	if clean == "" {
		return "", synthesis.ErrEmptyText
	}

	c.mu.Lock()
	if c.state == StateLoading || c.state == StatePlaying {
		c.mu.Unlock()
		c.countSession("rejected")
		return "", ErrBusy
	}
	id := uuid.NewString()
	c.state = StateLoading
	c.mu.Unlock()

	c.emitState(id, StateLoading, "")

	start := time.Now()
	handle, err := c.synth.Synthesize(ctx, clean, voice)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.emitState(id, StateErrored, err.Error())
		c.countSession("errored")
		if c.cb.OnEnd != nil {
			c.cb.OnEnd(id, err)
		}
		return id, err
	}
	if c.metrics != nil {
		c.metrics.ObserveStage(observability.StageSpeakToAudio, time.Since(start))
	}

	words := strings.Fields(clean)
	duration := c.estimateDuration(handle.Format(), len(handle.Audio()))
	u := &utterance{
		id:           id,
		handle:       handle,
		words:        words,
		duration:     duration,
		wordInterval: duration / time.Duration(len(words)),
		startedAt:    time.Now(),
		stop:         make(chan struct{}),
	}

	c.mu.Lock()
	c.state = StatePlaying
	c.current = u
	c.mu.Unlock()

	if c.cb.OnAudio != nil {
		c.cb.OnAudio(id, handle.Format(), handle.Audio())
	}
	c.emitState(id, StatePlaying, "")

	go c.run(u)
	return id, nil
}

// Stop ends the active utterance, if any. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	u := c.current
	c.mu.Unlock()
	if u == nil {
		return
	}
	u.stopOnce.Do(func() { close(u.stop) })
}

func (c *Controller) run(u *utterance) {
	wordTicker := time.NewTicker(u.wordInterval)
	defer wordTicker.Stop()
	intensityTicker := time.NewTicker(c.intensityInterval)
	defer intensityTicker.Stop()
	// Grace so the last word tick wins the race against the end timer.
	endTimer := time.NewTimer(u.duration + u.wordInterval/2)
	defer endTimer.Stop()

	idx := 0
	for {
		select {
		case <-u.stop:
			c.finish(u, "stopped")
			return
		case <-endTimer.C:
			c.finish(u, "completed")
			return
		case <-wordTicker.C:
			if idx < len(u.words) {
				c.emitWord(u, idx, u.words[idx])
				idx++
			}
		case <-intensityTicker.C:
			if c.cb.OnIntensity != nil {
				c.cb.OnIntensity(u.id, speakingIntensity(time.Since(u.startedAt)))
			}
		}
	}
}

func (c *Controller) finish(u *utterance, reason string) {
	// Final empty-word event clears any highlight on the client.
	c.emitWord(u, len(u.words), "")
	if c.cb.OnIntensity != nil {
		c.cb.OnIntensity(u.id, 0)
	}
	c.emitState(u.id, StateEnded, reason)
	if reason == "stopped" {
		c.countSession("stopped")
	} else {
		c.countSession("ended")
	}
	u.handle.Release()

	c.mu.Lock()
	if c.current == u {
		c.current = nil
		c.state = StateIdle
	}
	c.mu.Unlock()

	if c.cb.OnEnd != nil {
		c.cb.OnEnd(u.id, nil)
	}
}

func (c *Controller) emitWord(u *utterance, index int, word string) {
	if c.cb.OnWord == nil {
		return
	}
	c.cb.OnWord(u.id, index, word, time.Since(u.startedAt).Milliseconds())
}

func (c *Controller) emitState(id string, state State, reason string) {
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(id, state, reason)
	}
}

func (c *Controller) countSession(outcome string) {
	if c.metrics != nil {
		c.metrics.PlaybackSessions.WithLabelValues(outcome).Inc()
	}
}

// speakingIntensity models mouth-movement amplitude as a slow
// oscillation over elapsed playback time, in [0, 1].
func speakingIntensity(elapsed time.Duration) float64 {
	phase := 2 * math.Pi * float64(elapsed.Milliseconds()) / 420.0
	level := 0.45 + 0.35*math.Sin(phase)
	return math.Round(level*1000) / 1000
}

// estimatePlaybackDuration derives a playback length from payload size
// using coarse per-format byte rates. Clamped so even tiny payloads
// produce a visible highlight pass.
func estimatePlaybackDuration(format string, size int) time.Duration {
	bytesPerSecond := 8000 // compressed speech, mp3-class
	switch {
	case strings.Contains(format, "wav"):
		bytesPerSecond = 32000
	case format == "mock_text_bytes":
		// Mock audio carries the text itself; pace it like reading aloud.
		bytesPerSecond = 16
	}
	d := time.Duration(size) * time.Second / time.Duration(bytesPerSecond)
	if d < time.Second {
		d = time.Second
	}
	if d > 2*time.Minute {
		d = 2 * time.Minute
	}
	return d
}
