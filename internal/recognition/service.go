package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
	"github.com/adit-kulkarni/languagepal-speech/internal/recorder"
	"github.com/adit-kulkarni/languagepal-speech/internal/silence"
	"github.com/adit-kulkarni/languagepal-speech/internal/transcription"
)

// Mode selects the recognition path.
type Mode string

const (
	ModeNative Mode = "native" // realtime streaming provider
	ModeCloud  Mode = "cloud"  // record, then transcribe the blob
)

// Phase is the service lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
)

var (
	// ErrAlreadyListening is returned when settings change mid-attempt.
	ErrAlreadyListening = errors.New("recognition: already listening")
	// ErrModeUnavailable is returned when the requested mode has no backend.
	ErrModeUnavailable = errors.New("recognition: mode has no configured backend")
)

// Result is one recognized utterance and the mode that produced it.
type Result struct {
	Text string
	Mode Mode
}

// Callbacks receive recognition events. Nil members are skipped.
type Callbacks struct {
	OnPartial  func(text string)
	OnResult   func(Result)
	OnError    func(source, code string, retryable bool, detail string)
	OnAutoStop func(reason string)
}

// Config holds the tunables of a recognition service.
type Config struct {
	Mode            Mode
	FallbackEnabled bool
	RetryBudget     int
	MinSpeechBytes  int
	Language        string
	SampleRate      int
	FinalTimeout    time.Duration
}

// Service runs one recognition attempt at a time. Native mode streams
// chunks to a realtime provider; cloud mode records the capture and
// transcribes the blob. Failures consume a shared fallback budget and
// switch paths until the budget is exhausted, which parks the service
// until the next Start.
type Service struct {
	provider    StreamProvider
	transcriber transcription.Transcriber
	rec         *recorder.Controller
	det         *silence.Detector
	metrics     *observability.Metrics
	cb          Callbacks

	language       string
	sampleRate     int
	minSpeechBytes int
	retryBudget    int
	finalTimeout   time.Duration

	mu              sync.Mutex
	phase           Phase
	mode            Mode
	fallbackEnabled bool
	fallbacksUsed   int
	terminal        bool
	attempt         uint64
	stream          Stream
	baseCtx         context.Context
	cancel          context.CancelFunc
	pendingBlob     []byte
	finalTimer      *time.Timer
}

func NewService(
	cfg Config,
	provider StreamProvider,
	transcriber transcription.Transcriber,
	rec *recorder.Controller,
	det *silence.Detector,
	metrics *observability.Metrics,
	cb Callbacks,
) *Service {
	mode := cfg.Mode
	if mode != ModeNative || provider == nil {
		mode = ModeCloud
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = 4 * time.Second
	}
	s := &Service{
		provider:        provider,
		transcriber:     transcriber,
		rec:             rec,
		det:             det,
		metrics:         metrics,
		cb:              cb,
		language:        cfg.Language,
		sampleRate:      cfg.SampleRate,
		minSpeechBytes:  cfg.MinSpeechBytes,
		retryBudget:     cfg.RetryBudget,
		finalTimeout:    cfg.FinalTimeout,
		phase:           PhaseIdle,
		mode:            mode,
		fallbackEnabled: cfg.FallbackEnabled,
	}
	rec.SetAutoStopHook(s.onAutoStop)
	return s
}

// Phase reports the current lifecycle phase.
func (s *Service) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Mode reports the currently selected recognition path.
func (s *Service) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// FallbacksUsed reports budget consumption for the current attempt.
func (s *Service) FallbacksUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallbacksUsed
}

// SetMode switches the recognition path. Rejected while an attempt is
// live; native requires a configured streaming provider.
func (s *Service) SetMode(mode Mode) error {
	if mode != ModeNative && mode != ModeCloud {
		return fmt.Errorf("recognition: unknown mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseIdle {
		return ErrAlreadyListening
	}
	if mode == ModeNative && s.provider == nil {
		return ErrModeUnavailable
	}
	s.mode = mode
	s.terminal = false
	return nil
}

// SetFallback toggles automatic path switching on failure.
func (s *Service) SetFallback(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackEnabled = enabled
}

// ConfigureSilence adjusts the auto-stop silence detector.
func (s *Service) ConfigureSilence(enabled bool, threshold time.Duration) {
	if s.det != nil {
		s.det.Configure(enabled, threshold)
	}
}

// Start begins a listening attempt in the current mode, superseding
// any live attempt. Each Start resets the fallback budget and clears
// any terminal failure.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		// Restart semantics: the new attempt replaces the live one.
		s.attempt++
		s.settleLocked()
	}
	if !s.rec.Start() {
		s.mu.Unlock()
		return recorder.ErrSourceUnavailable
	}
	s.terminal = false
	s.fallbacksUsed = 0
	s.pendingBlob = nil
	s.attempt++
	gen := s.attempt
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.phase = PhaseListening
	mode := s.mode
	streamCtx := s.baseCtx
	s.mu.Unlock()

	if mode == ModeNative {
		s.openStream(gen, streamCtx)
	}
	return nil
}

func (s *Service) openStream(gen uint64, ctx context.Context) {
	stream, events, err := s.provider.StartStream(ctx, s.language)
	if err != nil {
		s.failure(gen, "native", "connect_failed", true, err.Error())
		return
	}
	s.mu.Lock()
	if gen != s.attempt {
		s.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	s.mu.Unlock()
	go s.pumpStream(gen, events)
}

func (s *Service) pumpStream(gen uint64, events <-chan StreamEvent) {
	for ev := range events {
		switch ev.Type {
		case StreamEventPartial:
			s.mu.Lock()
			live := gen == s.attempt && s.phase == PhaseListening
			s.mu.Unlock()
			if live && s.cb.OnPartial != nil {
				s.cb.OnPartial(ev.Text)
			}
		case StreamEventFinal:
			s.finishNative(gen, ev.Text)
		case StreamEventError:
			s.failure(gen, "native", ev.Code, ev.Retryable, ev.Detail)
		}
	}
}

// Feed routes one PCM16 chunk into the live attempt: always into the
// recorder (buffer + silence detection), and to the native stream when
// one is open.
func (s *Service) Feed(pcm []byte) {
	s.mu.Lock()
	if s.phase != PhaseListening {
		s.mu.Unlock()
		return
	}
	gen := s.attempt
	stream := s.stream
	ctx := s.baseCtx
	rate := s.sampleRate
	s.mu.Unlock()

	s.rec.Feed(pcm)
	if stream != nil {
		if err := stream.SendAudioChunk(ctx, pcm, rate); err != nil {
			s.failure(gen, "native", "stream_write_failed", true, err.Error())
		}
	}
}

// Stop ends the listening phase and moves to processing. In native
// mode it commits the stream and waits for the final transcript; in
// cloud mode it transcribes the recorded blob.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.phase != PhaseListening {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseProcessing
	gen := s.attempt
	blob, _ := s.rec.Stop()
	s.pendingBlob = blob
	stream := s.stream
	ctx := s.baseCtx
	if stream != nil {
		s.finalTimer = time.AfterFunc(s.finalTimeout, func() {
			s.failure(gen, "native", "final_timeout", true, "no final transcript before deadline")
		})
		s.mu.Unlock()
		if err := stream.Commit(ctx); err != nil {
			s.failure(gen, "native", "commit_failed", true, err.Error())
		}
		return
	}
	s.mu.Unlock()
	s.processCloud(gen, blob)
}

// Shutdown aborts any live attempt and releases resources.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.attempt++
	s.phase = PhaseIdle
	stream := s.stream
	s.stream = nil
	cancel := s.cancel
	s.cancel = nil
	if s.finalTimer != nil {
		s.finalTimer.Stop()
		s.finalTimer = nil
	}
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.rec.Stop()
}

func (s *Service) onAutoStop(reason string) {
	if s.cb.OnAutoStop != nil {
		s.cb.OnAutoStop(reason)
	}
	s.Stop()
}

func (s *Service) finishNative(gen uint64, text string) {
	s.mu.Lock()
	if gen != s.attempt || s.terminal || s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.settleLocked()
	s.countRecognition("native", outcomeForText(text))
	s.mu.Unlock()

	if text != "" && s.cb.OnResult != nil {
		s.cb.OnResult(Result{Text: text, Mode: ModeNative})
	}
}

func (s *Service) processCloud(gen uint64, blob []byte) {
	s.mu.Lock()
	if gen != s.attempt || s.terminal {
		s.mu.Unlock()
		return
	}
	if len(blob) < s.minSpeechBytes {
		// Too short to be speech; drop without a result.
		s.settleLocked()
		s.countRecognition("cloud", "noise")
		s.mu.Unlock()
		return
	}
	ctx := s.baseCtx
	lang := s.language
	s.mu.Unlock()

	// Interim marker so clients can show a processing state.
	if s.cb.OnPartial != nil {
		s.cb.OnPartial("")
	}

	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, blob, lang)
	if s.metrics != nil {
		s.metrics.ObserveTranscribeLatency(time.Since(start))
	}
	if err != nil {
		retryable := errors.Is(err, transcription.ErrUnavailable)
		s.failure(gen, "cloud", "transcribe_failed", retryable, err.Error())
		return
	}
	if text == "" {
		// An empty transcript counts as a failure for fallback purposes.
		s.failure(gen, "cloud", "empty_transcript", true, "transcription returned no text")
		return
	}

	s.mu.Lock()
	if gen != s.attempt || s.terminal {
		s.mu.Unlock()
		return
	}
	s.settleLocked()
	s.countRecognition("cloud", "ok")
	s.mu.Unlock()

	if s.cb.OnResult != nil {
		s.cb.OnResult(Result{Text: text, Mode: ModeCloud})
	}
}

// failure consumes one unit of the fallback budget, switching native
// attempts to the cloud path while budget remains. An exhausted budget
// parks the service until the next Start.
func (s *Service) failure(gen uint64, source, code string, retryable bool, detail string) {
	s.mu.Lock()
	if gen != s.attempt || s.terminal {
		s.mu.Unlock()
		return
	}
	if s.metrics != nil {
		s.metrics.BackendErrors.WithLabelValues(source, code).Inc()
	}

	if s.fallbackEnabled && s.fallbacksUsed < s.retryBudget {
		s.fallbacksUsed++
		if s.metrics != nil {
			s.metrics.Fallbacks.Inc()
		}
		if s.finalTimer != nil {
			s.finalTimer.Stop()
			s.finalTimer = nil
		}
		stream := s.stream
		s.stream = nil
		if source == "native" {
			s.mode = ModeCloud
		} else if s.provider != nil {
			// Cloud failures steer the next attempt to the native path.
			// The in-flight blob can only be retried against the cloud.
			s.mode = ModeNative
		}
		phase := s.phase
		blob := s.pendingBlob
		s.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
		if s.cb.OnError != nil {
			s.cb.OnError(source, code, retryable, detail)
		}
		if phase == PhaseProcessing {
			s.processCloud(gen, blob)
		}
		// Listening continues on the recorder; the cloud path picks
		// the capture up at Stop.
		return
	}

	s.terminal = true
	s.settleLocked()
	s.countRecognition(source, "exhausted")
	s.mu.Unlock()

	if s.cb.OnError != nil {
		s.cb.OnError(source, code, false, detail)
	}
}

// settleLocked returns the service to idle and releases the attempt's
// resources. Caller holds s.mu.
func (s *Service) settleLocked() {
	s.phase = PhaseIdle
	if s.finalTimer != nil {
		s.finalTimer.Stop()
		s.finalTimer = nil
	}
	if s.stream != nil {
		stream := s.stream
		s.stream = nil
		go stream.Close()
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.pendingBlob = nil
	if s.rec.Active() {
		s.rec.Stop()
	}
}

func (s *Service) countRecognition(mode, outcome string) {
	if s.metrics != nil {
		s.metrics.Recognitions.WithLabelValues(mode, outcome).Inc()
	}
}

func outcomeForText(text string) string {
	if text == "" {
		return "empty"
	}
	return "ok"
}
