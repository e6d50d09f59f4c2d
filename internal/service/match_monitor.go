package service

import (
	"sort"
	"sync"
	"time"

	"github.com/mybadgelife/internal/types"
)

// slowMatchThreshold marks identifications that spent most of the
// prediction poll budget
const slowMatchThreshold = 10 * time.Second

// MatchMonitor tracks identification latency in process
type MatchMonitor struct {
	mu            sync.RWMutex
	cachedTimes   []time.Duration
	uncachedTimes []time.Duration
	total         int64
	cacheHits     int64
	degraded      int64
	slow          int64
	maxSamples    int
}

// MatchPerformance is a snapshot of MatchMonitor
type MatchPerformance struct {
	Total         int64   `json:"total"`
	CacheHits     int64   `json:"cacheHits"`
	Degraded      int64   `json:"degraded"`
	Slow          int64   `json:"slow"`
	CacheHitRate  float64 `json:"cacheHitRate"`
	AvgCachedMs   float64 `json:"avgCachedMs"`
	AvgUncachedMs float64 `json:"avgUncachedMs"`
	P95UncachedMs float64 `json:"p95UncachedMs"`
	P99UncachedMs float64 `json:"p99UncachedMs"`
}

// NewMatchMonitor creates a monitor keeping the last 1000 samples per kind
func NewMatchMonitor() *MatchMonitor {
	return &MatchMonitor{
		cachedTimes:   make([]time.Duration, 0, 1000),
		uncachedTimes: make([]time.Duration, 0, 1000),
		maxSamples:    1000,
	}
}

// Record adds one identification
func (m *MatchMonitor) Record(duration time.Duration, status types.MatchStatus, prediction types.PredictionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if prediction == types.PredictionCached {
		m.cacheHits++
		m.cachedTimes = appendSample(m.cachedTimes, duration, m.maxSamples)
	} else {
		m.uncachedTimes = appendSample(m.uncachedTimes, duration, m.maxSamples)
	}
	if status == types.MatchDegraded {
		m.degraded++
	}
	if duration > slowMatchThreshold {
		m.slow++
	}
}

func appendSample(samples []time.Duration, d time.Duration, max int) []time.Duration {
	samples = append(samples, d)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// Stats returns the current snapshot
func (m *MatchMonitor) Stats() *MatchPerformance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &MatchPerformance{
		Total:     m.total,
		CacheHits: m.cacheHits,
		Degraded:  m.degraded,
		Slow:      m.slow,
	}
	if m.total > 0 {
		stats.CacheHitRate = float64(m.cacheHits) / float64(m.total) * 100
	}
	stats.AvgCachedMs = averageMs(m.cachedTimes)
	stats.AvgUncachedMs = averageMs(m.uncachedTimes)

	if len(m.uncachedTimes) > 0 {
		sorted := make([]time.Duration, len(m.uncachedTimes))
		copy(sorted, m.uncachedTimes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		stats.P95UncachedMs = float64(sorted[percentileIndex(len(sorted), 0.95)].Milliseconds())
		stats.P99UncachedMs = float64(sorted[percentileIndex(len(sorted), 0.99)].Milliseconds())
	}
	return stats
}

func averageMs(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return float64(total.Milliseconds()) / float64(len(samples))
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}

// Reset clears all samples and counters
func (m *MatchMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cachedTimes = make([]time.Duration, 0, m.maxSamples)
	m.uncachedTimes = make([]time.Duration, 0, m.maxSamples)
	m.total = 0
	m.cacheHits = 0
	m.degraded = 0
	m.slow = 0
}
