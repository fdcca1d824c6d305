package clocksync

import "testing"

func TestMedianOffsetRejectsOneOutlier(t *testing.T) {
	c := NewClient()
	offsets := []int64{10, 10, 1000, 10, 10}
	for _, off := range offsets {
		// Synthesize a round trip whose latency is zero so that
		// offset == serverTimestamp - clientSend exactly.
		c.Observe(0, off, 0)
	}

	got := c.OffsetMs()
	if got != 10 {
		t.Fatalf("median offset = %d, want 10 (not influenced by the 1000ms outlier)", got)
	}
}

func TestObserveComputesLatencyAndOffset(t *testing.T) {
	c := NewClient()
	// clientSend=1000, serverTimestamp=1050, clientReceive=1040
	// rtt=40, latency=20, offset=1050-1000-20=30
	sample := c.Observe(1000, 1050, 1040)
	if sample.LatencyMs != 20 {
		t.Fatalf("latency = %d, want 20", sample.LatencyMs)
	}
	if sample.OffsetMs != 30 {
		t.Fatalf("offset = %d, want 30", sample.OffsetMs)
	}
}

func TestSamplesCapAtFive(t *testing.T) {
	c := NewClient()
	for i := int64(0); i < 8; i++ {
		c.Observe(0, i, 0)
	}
	if len(c.samples) != maxSamples {
		t.Fatalf("retained %d samples, want %d", len(c.samples), maxSamples)
	}
	// Oldest three (offsets 0,1,2) should have been evicted.
	for _, s := range c.samples {
		if s.OffsetMs < 3 {
			t.Fatalf("expected only the most recent 5 samples, found stale offset %d", s.OffsetMs)
		}
	}
}

func TestTimeConversionRoundTrips(t *testing.T) {
	c := NewClient()
	c.Observe(1000, 1100, 1000) // latency 0, offset 100

	serverT := int64(5000)
	local := c.ServerTimeToLocal(serverT)
	if local != serverT-100 {
		t.Fatalf("ServerTimeToLocal = %d, want %d", local, serverT-100)
	}
	back := c.LocalTimeToServer(local)
	if back != serverT {
		t.Fatalf("LocalTimeToServer(ServerTimeToLocal(t)) = %d, want %d", back, serverT)
	}
}

func TestServerLatencyMsClampsToZero(t *testing.T) {
	if got := ServerLatencyMs(1000, 1500); got != 0 {
		t.Fatalf("ServerLatencyMs with client ahead of server = %d, want 0", got)
	}
	if got := ServerLatencyMs(1500, 1000); got != 500 {
		t.Fatalf("ServerLatencyMs = %d, want 500", got)
	}
}
