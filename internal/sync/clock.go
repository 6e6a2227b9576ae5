// ABOUTME: Client-side clock synchronization against the session coordinator
// ABOUTME: Keeps a median-filtered offset estimate from ping/pong samples
package sync

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	// MaxSamples bounds the sample window; the median over this window is
	// the authoritative offset.
	MaxSamples = 5

	// Warm-up: three rapid pings, then steady-state.
	warmupPings    = 3
	warmupInterval = 200 * time.Millisecond
	steadyInterval = 5 * time.Second
)

// Sample is one completed ping/pong exchange.
type Sample struct {
	LatencyMs int64 // half round-trip
	OffsetMs  int64 // serverTime - clientTime
}

// ClockSync tracks the signed millisecond delta between the coordinator's
// clock and the local clock.
type ClockSync struct {
	mu      sync.RWMutex
	samples []Sample
	now     func() int64 // Unix ms, injectable for tests
}

// NewClockSync creates a clock synchronizer.
func NewClockSync() *ClockSync {
	return &ClockSync{
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// ProcessPong folds one pong into the sample window.
// clientSent is the clientTimestamp echoed by the server; serverTS is the
// server's clock at response-write time.
func (cs *ClockSync) ProcessPong(clientSent, serverTS int64) {
	now := cs.nowMs()
	rtt := now - clientSent
	if rtt < 0 {
		rtt = 0
	}
	latency := rtt / 2
	offset := serverTS - clientSent - latency

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.samples = append(cs.samples, Sample{LatencyMs: latency, OffsetMs: offset})
	if len(cs.samples) > MaxSamples {
		cs.samples = cs.samples[len(cs.samples)-MaxSamples:]
	}
}

// Offset returns the median offset over the current window, or 0 before any
// sample has arrived.
func (cs *ClockSync) Offset() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if len(cs.samples) == 0 {
		return 0
	}

	offsets := make([]int64, len(cs.samples))
	for i, s := range cs.samples {
		offsets[i] = s.OffsetMs
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets[len(offsets)/2]
}

// Latency returns the most recent half-RTT estimate in milliseconds.
func (cs *ClockSync) Latency() int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if len(cs.samples) == 0 {
		return 0
	}
	return cs.samples[len(cs.samples)-1].LatencyMs
}

// SampleCount reports how many samples are in the window.
func (cs *ClockSync) SampleCount() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.samples)
}

// ServerToLocal converts a server instant (Unix ms on the server's clock) to
// a local time.Time.
func (cs *ClockSync) ServerToLocal(serverMs int64) time.Time {
	return time.UnixMilli(serverMs - cs.Offset())
}

// LocalToServer converts a local instant to the server's clock.
func (cs *ClockSync) LocalToServer(local time.Time) int64 {
	return local.UnixMilli() + cs.Offset()
}

// Run drives the ping schedule until ctx is cancelled: warmupPings rapid
// pings spaced warmupInterval apart, then one every steadyInterval. A failed
// send is logged and skipped; the loop keeps the last median.
func (cs *ClockSync) Run(ctx context.Context, sendPing func(clientTimestamp int64) error) {
	for i := 0; i < warmupPings; i++ {
		if err := sendPing(cs.nowMs()); err != nil {
			log.Printf("clock sync: warm-up ping failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(warmupInterval):
		}
	}

	ticker := time.NewTicker(steadyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sendPing(cs.nowMs()); err != nil {
				log.Printf("clock sync: ping failed: %v", err)
			}
		}
	}
}

func (cs *ClockSync) nowMs() int64 {
	cs.mu.RLock()
	now := cs.now
	cs.mu.RUnlock()
	return now()
}
