package silence

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is how long energy must stay low before a trigger.
	DefaultThreshold = 1500 * time.Millisecond
	// DefaultLevelFloorDB is the dBFS level below which a frame counts as silent.
	DefaultLevelFloorDB = -45.0
)

// Detector raises a trigger after a configurable duration of
// sub-threshold audio energy. One trigger fires per silence episode;
// any loud frame resets the episode.
type Detector struct {
	mu           sync.Mutex
	enabled      bool
	threshold    time.Duration
	levelFloorDB float64

	silenceStart time.Time
	triggered    bool

	now func() time.Time
}

func NewDetector() *Detector {
	return &Detector{
		enabled:      true,
		threshold:    DefaultThreshold,
		levelFloorDB: DefaultLevelFloorDB,
		now:          time.Now,
	}
}

// Configure sets whether auto-stop-on-silence is active and how long
// sustained silence must last before a trigger.
func (d *Detector) Configure(enabled bool, threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	if threshold > 0 {
		d.threshold = threshold
	}
	d.silenceStart = time.Time{}
	d.triggered = false
}

// SetLevelFloor adjusts the dBFS level that separates speech from silence.
func (d *Detector) SetLevelFloor(levelDB float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levelFloorDB = levelDB
}

// Feed consumes one frame's energy level in dBFS. It reports true
// exactly once per silence episode, when sub-threshold energy has
// lasted at least the configured duration.
func (d *Detector) Feed(levelDB float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return false
	}

	if levelDB > d.levelFloorDB {
		d.silenceStart = time.Time{}
		d.triggered = false
		return false
	}

	now := d.now()
	if d.silenceStart.IsZero() {
		d.silenceStart = now
		return false
	}
	if d.triggered {
		return false
	}
	if now.Sub(d.silenceStart) >= d.threshold {
		d.triggered = true
		return true
	}
	return false
}

// Reset clears any tracked silence episode.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silenceStart = time.Time{}
	d.triggered = false
}
