package llm

import (
	"slices"
	"sync"
	"time"
)

// StatsSnapshot aggregates the latency samples inside the window.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

type sample struct {
	at time.Time
	ms int64
}

// Stats tracks generation latencies within a rolling window. It is safe for
// concurrent use.
type Stats struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func NewStats(window time.Duration) *Stats {
	if window <= 0 {
		window = time.Hour
	}
	return &Stats{window: window, samples: make([]sample, 0, 256)}
}

// Record adds one call duration. Negative durations count as zero.
func (s *Stats) Record(ms int64) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict(now)
	s.samples = append(s.samples, sample{at: now, ms: max(ms, 0)})
}

func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	s.evict(time.Now())
	values := make([]int64, len(s.samples))
	for i, sm := range s.samples {
		values[i] = sm.ms
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return StatsSnapshot{}
	}
	slices.Sort(values)

	var sum int64
	for _, v := range values {
		sum += v
	}
	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: percentile(values, 50),
		P95Ms: percentile(values, 95),
		P99Ms: percentile(values, 99),
	}
}

// evict drops samples older than the window. Samples are appended in time
// order, so the expired ones form a prefix.
func (s *Stats) evict(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = slices.Delete(s.samples, 0, i)
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	pos := float64(len(sorted)-1) * pct / 100
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*frac
}
