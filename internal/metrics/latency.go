package metrics

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	at         time.Time
	durationMs int64
	chunks     int
}

// LatencySnapshot is a point-in-time aggregate of recent ingestion samples.
type LatencySnapshot struct {
	Count  int     `json:"count"`
	Chunks int     `json:"chunks"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// LatencyWindow tracks recent ingestion latencies within a rolling window.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewLatencyWindow(maxAge time.Duration) *LatencyWindow {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &LatencyWindow{
		samples: make([]sample, 0, 256),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one document's ingestion latency and chunk count.
func (w *LatencyWindow) Record(elapsed time.Duration, chunks int) {
	ms := elapsed.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	w.samples = append(w.samples, sample{at: now, durationMs: ms, chunks: chunks})
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	if len(w.samples) == 0 {
		return LatencySnapshot{}
	}

	values := make([]int64, 0, len(w.samples))
	var sum int64
	chunks := 0
	for _, s := range w.samples {
		values = append(values, s.durationMs)
		sum += s.durationMs
		chunks += s.chunks
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	return LatencySnapshot{
		Count:  len(values),
		Chunks: chunks,
		MinMs:  values[0],
		MaxMs:  values[len(values)-1],
		AvgMs:  float64(sum) / float64(len(values)),
		P50Ms:  percentile(values, 50),
		P95Ms:  percentile(values, 95),
		P99Ms:  percentile(values, 99),
	}
}

func (w *LatencyWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.maxAge)
	keep := 0
	for _, s := range w.samples {
		if !s.at.Before(cutoff) {
			w.samples[keep] = s
			keep++
		}
	}
	w.samples = w.samples[:keep]
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sorted[0])
	}
	if pct >= 100 {
		return float64(sorted[len(sorted)-1])
	}

	index := (float64(len(sorted)-1) * pct) / 100.0
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo := float64(sorted[lower])
	hi := float64(sorted[upper])
	return lo + (hi-lo)*weight
}
