package synthesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adit-kulkarni/languagepal-speech/internal/observability"
)

// Handle is a playable reference to a cached synthesis payload. Callers
// must Release it when playback no longer needs the audio; the sweep
// never frees a payload while a handle is still referenced.
type Handle struct {
	key    string
	text   string
	voice  string
	format string

	mu      sync.Mutex
	refs    int
	payload []byte
}

func (h *Handle) Audio() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.payload
}

func (h *Handle) Format() string { return h.format }
func (h *Handle) Voice() string  { return h.voice }
func (h *Handle) Text() string   { return h.text }

// Release drops one reference to the handle.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

func (h *Handle) acquire() {
	h.mu.Lock()
	h.refs++
	h.mu.Unlock()
}

func (h *Handle) referenced() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs > 0
}

func (h *Handle) free() {
	h.mu.Lock()
	h.payload = nil
	h.mu.Unlock()
}

type cacheEntry struct {
	handle    *Handle
	createdAt time.Time
}

// Cache memoizes synthesized audio per (normalized text, voice) pair
// with a TTL. A periodic sweep releases expired, unreferenced payloads.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry

	backend   Synthesizer
	ttl       time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	onRelease func(*Handle)
	now       func() time.Time
}

func NewCache(backend Synthesizer, ttl time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]*cacheEntry),
		backend: backend,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetReleaseHook registers a callback invoked when the sweep frees an entry.
func (c *Cache) SetReleaseHook(hook func(*Handle)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRelease = hook
}

// Synthesize returns a live cached handle for the pair, or fetches the
// audio from the backend and caches it. The returned handle is acquired
// and must be released by the caller.
func (c *Cache) Synthesize(ctx context.Context, text, voice string) (*Handle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	voice = NormalizeVoice(voice)
	key := cacheKey(text, voice)

	if h := c.lookup(key); h != nil {
		return h, nil
	}

	start := time.Now()
	res, err := c.backend.Synthesize(ctx, text, voice)
	if c.metrics != nil {
		c.metrics.ObserveSynthesisLatency(time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	if len(res.Audio) == 0 {
		return nil, ErrEmptyPayload
	}

	h := &Handle{
		key:     key,
		text:    text,
		voice:   voice,
		format:  res.Format,
		payload: res.Audio,
	}
	h.acquire()

	c.mu.Lock()
	// Last write wins; synthesis for identical input is idempotent.
	c.entries[key] = &cacheEntry{handle: h, createdAt: c.now()}
	c.mu.Unlock()

	return h, nil
}

// Preload fetches and caches audio without blocking the caller.
// Errors are logged, never propagated.
func (c *Cache) Preload(text, voice string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h, err := c.Synthesize(ctx, text, voice)
		if err != nil {
			c.logger.Warn("synthesis preload failed",
				zap.String("voice", NormalizeVoice(voice)),
				zap.Error(err))
			return
		}
		// Preload holds no player; leave the entry unreferenced for the sweep.
		h.Release()
	}()
}

// CachedHandle is a pure lookup; it never triggers backend I/O.
// A returned handle is acquired and must be released by the caller.
func (c *Cache) CachedHandle(text, voice string) (*Handle, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	h := c.lookup(cacheKey(text, NormalizeVoice(voice)))
	if h == nil {
		return nil, false
	}
	return h, true
}

func (c *Cache) lookup(key string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.createdAt) <= c.ttl {
		e.createdAt = c.now()
		e.handle.acquire()
		c.lookupMetric(true)
		return e.handle
	}
	c.lookupMetric(false)
	return nil
}

// StartSweep runs the eviction loop until ctx is cancelled. The interval
// is typically half the TTL.
func (c *Cache) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 2
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	now := c.now()
	var freed []*Handle

	c.mu.Lock()
	for key, e := range c.entries {
		if now.Sub(e.createdAt) <= c.ttl {
			continue
		}
		if e.handle.referenced() {
			// A playback session still holds the audio; retry next sweep.
			continue
		}
		delete(c.entries, key)
		freed = append(freed, e.handle)
	}
	hook := c.onRelease
	c.mu.Unlock()

	for _, h := range freed {
		h.free()
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
		if hook != nil {
			hook(h)
		}
	}
}

// Len reports the number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookupMetric(hit bool) {
	if c.metrics == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	c.metrics.CacheLookups.WithLabelValues(outcome).Inc()
}

func cacheKey(text, voice string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized + "|" + voice))
	return hex.EncodeToString(sum[:])
}
