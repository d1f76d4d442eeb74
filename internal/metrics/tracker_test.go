package metrics

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ZeroBeforeFrames(t *testing.T) {
	tr := NewTracker(DefaultFPSWindow)

	snap := tr.Snapshot()
	assert.Zero(t, snap.FPS)
	assert.Zero(t, snap.LatencyMs)
	assert.Zero(t, snap.FramesProcessed)
}

func TestTracker_FPSOverWindow(t *testing.T) {
	tr := NewTracker(DefaultFPSWindow)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.Reset(start)

	for i := 1; i <= 30; i++ {
		at := start.Add(time.Duration(i) * time.Second / 30)
		tr.Record(at, Sample{Latency: 20 * time.Millisecond})
	}

	snap := tr.Snapshot()
	assert.InDelta(t, 30.0, snap.FPS, 0.5)
	assert.Equal(t, uint64(30), snap.FramesProcessed)
}

func TestTracker_FPSOnlyUpdatesOnWindowBoundary(t *testing.T) {
	tr := NewTracker(10)
	start := time.Now()
	tr.Reset(start)

	for i := 1; i <= 10; i++ {
		tr.Record(start.Add(time.Duration(i)*100*time.Millisecond), Sample{})
	}
	assert.InDelta(t, 10.0, tr.Snapshot().FPS, 0.01)

	// A slower second window is not reflected until it completes
	next := start.Add(time.Second)
	for i := 1; i <= 9; i++ {
		tr.Record(next.Add(time.Duration(i)*200*time.Millisecond), Sample{})
	}
	assert.InDelta(t, 10.0, tr.Snapshot().FPS, 0.01)

	tr.Record(next.Add(2*time.Second), Sample{})
	assert.InDelta(t, 5.0, tr.Snapshot().FPS, 0.01)
}

func TestTracker_InstantaneousValues(t *testing.T) {
	tr := NewTracker(DefaultFPSWindow)
	now := time.Now()
	tr.Reset(now)

	tr.Record(now.Add(10*time.Millisecond), Sample{
		Latency:        42500 * time.Microsecond,
		DetectionTime:  30 * time.Millisecond,
		ProcessingTime: 40 * time.Millisecond,
	})
	tr.Record(now.Add(20*time.Millisecond), Sample{
		Latency:        12 * time.Millisecond,
		DetectionTime:  8 * time.Millisecond,
		ProcessingTime: 10 * time.Millisecond,
	})

	snap := tr.Snapshot()
	assert.Equal(t, 12.0, snap.LatencyMs)
	assert.Equal(t, 8.0, snap.DetectionTimeMs)
	assert.Equal(t, 10.0, snap.ProcessingTimeMs)
	assert.Equal(t, now.Add(20*time.Millisecond), snap.UpdatedAt)
}

func TestTracker_Reset(t *testing.T) {
	tr := NewTracker(2)
	now := time.Now()
	tr.Record(now, Sample{Latency: time.Millisecond})
	tr.Record(now.Add(100*time.Millisecond), Sample{Latency: time.Millisecond})

	tr.Reset(now.Add(time.Second))

	snap := tr.Snapshot()
	assert.Zero(t, snap.FPS)
	assert.Zero(t, snap.FramesProcessed)
	assert.Zero(t, snap.LatencyMs)
}

func TestTracker_InvalidWindow(t *testing.T) {
	assert.Equal(t, DefaultFPSWindow, NewTracker(0).Window())
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker(DefaultFPSWindow)
	tr.Reset(time.Now())

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				tr.Record(time.Now(), Sample{})
				tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(1000), tr.Snapshot().FramesProcessed)
}

func TestSnapshot_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Snapshot{FPS: 30, LatencyMs: 12.5, DetectionTimeMs: 8, ProcessingTimeMs: 10, FramesProcessed: 3})
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"fps", "latency_ms", "detection_time_ms", "processing_time_ms", "frames_processed", "updated_at"} {
		assert.Contains(t, fields, key)
	}
	assert.Equal(t, 12.5, fields["latency_ms"])
	assert.NotContains(t, fields, "latency")
}
