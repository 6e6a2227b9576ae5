// ABOUTME: Tests for median-filtered clock offset estimation
// ABOUTME: Covers offset math, outlier rejection via median, and conversions
package sync

import (
	"testing"
	"time"
)

// feedSample pushes one synthetic exchange with the given offset and zero RTT.
func feedSample(cs *ClockSync, clientNow, offsetMs int64) {
	cs.now = func() int64 { return clientNow }
	// server clock = client clock + offset; rtt = 0 so latency = 0
	cs.ProcessPong(clientNow, clientNow+offsetMs)
}

func TestOffsetSingleSample(t *testing.T) {
	cs := NewClockSync()

	base := int64(1_000_000)
	cs.now = func() int64 { return base + 40 } // 40ms RTT
	cs.ProcessPong(base, base+100)

	// latency = 20, offset = (base+100) - base - 20 = 80
	if got := cs.Latency(); got != 20 {
		t.Errorf("latency = %d, want 20", got)
	}
	if got := cs.Offset(); got != 80 {
		t.Errorf("offset = %d, want 80", got)
	}
}

func TestMedianRejectsSingleOutlier(t *testing.T) {
	cs := NewClockSync()

	base := int64(5_000_000)
	for i, off := range []int64{10, 10, 1000, 10, 10} {
		feedSample(cs, base+int64(i)*1000, off)
	}

	if got := cs.Offset(); got != 10 {
		t.Errorf("median offset = %d, want 10", got)
	}
}

func TestSampleWindowBounded(t *testing.T) {
	cs := NewClockSync()

	base := int64(2_000_000)
	for i := 0; i < 12; i++ {
		feedSample(cs, base+int64(i)*1000, int64(i))
	}

	if got := cs.SampleCount(); got != MaxSamples {
		t.Errorf("sample count = %d, want %d", got, MaxSamples)
	}
	// Window holds offsets 7..11, median 9.
	if got := cs.Offset(); got != 9 {
		t.Errorf("offset = %d, want 9", got)
	}
}

func TestServerToLocalRoundTrip(t *testing.T) {
	cs := NewClockSync()

	base := int64(7_000_000)
	feedSample(cs, base, 250)

	serverTS := base + 10_000
	local := cs.ServerToLocal(serverTS)

	want := time.UnixMilli(serverTS - 250)
	if !local.Equal(want) {
		t.Errorf("ServerToLocal = %v, want %v", local, want)
	}
	if got := cs.LocalToServer(local); got != serverTS {
		t.Errorf("LocalToServer = %d, want %d", got, serverTS)
	}
}

func TestNegativeRTTClamped(t *testing.T) {
	cs := NewClockSync()

	base := int64(9_000_000)
	cs.now = func() int64 { return base - 5 } // clock went backwards
	cs.ProcessPong(base, base+50)

	if got := cs.Latency(); got != 0 {
		t.Errorf("latency = %d, want 0", got)
	}
	if got := cs.Offset(); got != 50 {
		t.Errorf("offset = %d, want 50", got)
	}
}

func TestOffsetBeforeAnySample(t *testing.T) {
	cs := NewClockSync()
	if got := cs.Offset(); got != 0 {
		t.Errorf("offset before sync = %d, want 0", got)
	}
}
