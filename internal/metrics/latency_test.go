package metrics

import (
	"testing"
	"time"
)

func TestLatencyWindow_SnapshotPercentiles(t *testing.T) {
	w := NewLatencyWindow(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		w.Record(time.Duration(ms)*time.Millisecond, 2)
	}

	snap := w.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("expected count=5, got %d", snap.Count)
	}
	if snap.Chunks != 10 {
		t.Fatalf("expected chunks=10, got %d", snap.Chunks)
	}
	if snap.MinMs != 100 || snap.MaxMs != 500 {
		t.Fatalf("expected min=100 max=500, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
	if snap.AvgMs != 300 {
		t.Fatalf("expected avg=300, got %f", snap.AvgMs)
	}
	if snap.P50Ms != 300 {
		t.Fatalf("expected p50=300, got %f", snap.P50Ms)
	}
	if snap.P95Ms != 480 {
		t.Fatalf("expected p95=480, got %f", snap.P95Ms)
	}
	if snap.P99Ms != 496 {
		t.Fatalf("expected p99=496, got %f", snap.P99Ms)
	}
}

func TestLatencyWindow_PrunesExpiredSamples(t *testing.T) {
	now := time.Now()
	w := NewLatencyWindow(time.Minute)
	w.now = func() time.Time { return now }

	w.Record(100*time.Millisecond, 1)
	now = now.Add(2 * time.Minute)

	if snap := w.Snapshot(); snap.Count != 0 {
		t.Fatalf("expected count=0 after prune, got %d", snap.Count)
	}

	w.Record(200*time.Millisecond, 1)
	snap := w.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1 for fresh sample, got %d", snap.Count)
	}
	if snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Fatalf("expected min=max=200, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestLatencyWindow_ClampsNegativeDuration(t *testing.T) {
	w := NewLatencyWindow(time.Hour)
	w.Record(-10*time.Millisecond, 0)
	snap := w.Snapshot()
	if snap.Count != 1 {
		t.Fatalf("expected count=1, got %d", snap.Count)
	}
	if snap.MinMs != 0 || snap.MaxMs != 0 {
		t.Fatalf("expected clamped duration=0, got min=%d max=%d", snap.MinMs, snap.MaxMs)
	}
}

func TestLatencyWindow_EmptySnapshot(t *testing.T) {
	if snap := NewLatencyWindow(0).Snapshot(); snap != (LatencySnapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}
