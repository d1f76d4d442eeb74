package metrics

import (
	"sync"
	"time"
)

// DefaultFPSWindow is the number of frames per fps measurement
const DefaultFPSWindow = 30

// Snapshot is a consistent copy of the pipeline metrics
type Snapshot struct {
	FPS              float64   `json:"fps"`
	LatencyMs        float64   `json:"latency_ms"`
	DetectionTimeMs  float64   `json:"detection_time_ms"`
	ProcessingTimeMs float64   `json:"processing_time_ms"`
	FramesProcessed  uint64    `json:"frames_processed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Sample holds the timings of one processed frame
type Sample struct {
	Latency        time.Duration // Iteration start to encoder hand-off
	DetectionTime  time.Duration
	ProcessingTime time.Duration // Iteration start to overlay complete
}

// Tracker maintains rolling pipeline metrics. fps is recomputed once per
// window of frames; the other values are those of the latest frame.
type Tracker struct {
	mu          sync.Mutex
	window      int
	count       int
	windowStart time.Time
	snap        Snapshot
}

// NewTracker creates a tracker. A window below one uses DefaultFPSWindow.
func NewTracker(window int) *Tracker {
	if window < 1 {
		window = DefaultFPSWindow
	}
	return &Tracker{window: window}
}

// Window returns the fps window size
func (t *Tracker) Window() int {
	return t.window
}

// Reset zeroes all values and starts a new fps window at the given time
func (t *Tracker) Reset(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count = 0
	t.windowStart = at
	t.snap = Snapshot{UpdatedAt: at}
}

// Record accounts one processed frame finished at the given time
func (t *Tracker) Record(at time.Time, s Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.windowStart.IsZero() {
		t.windowStart = at
	}

	t.count++
	t.snap.FramesProcessed++
	t.snap.LatencyMs = durationMs(s.Latency)
	t.snap.DetectionTimeMs = durationMs(s.DetectionTime)
	t.snap.ProcessingTimeMs = durationMs(s.ProcessingTime)
	t.snap.UpdatedAt = at

	if t.count >= t.window {
		if elapsed := at.Sub(t.windowStart).Seconds(); elapsed > 0 {
			t.snap.FPS = float64(t.count) / elapsed
		}
		t.count = 0
		t.windowStart = at
	}
}

// Snapshot returns a copy of the current metrics
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
