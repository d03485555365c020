package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metrics is a low-overhead, thread-safe accumulator for the numbers
// spec.md's concurrency model makes observable from the outside: how
// many async closures are in flight, how many cross-block writes have
// settled a reader, how long sequence-lock acquisition waits, and how
// long a full render takes. It carries no dependency on any metrics
// backend; metrics/prometheus.go is the optional adapter that exports
// these as prometheus.Collector.
//
// Grounded on eventloop/metrics.go's Metrics/LatencyMetrics split: a
// set of plain counters guarded by one mutex, plus a latency recorder
// per timed operation that keeps a rolling sample window instead of an
// unbounded histogram.
type Metrics struct {
	mu sync.Mutex

	pendingClosures  int64
	peakClosures     int64
	writesSettled    int64
	missedWritesSettled int64

	renderLatency Latency
	lockWait      Latency
}

// New returns a ready-to-use Metrics.
func New() *Metrics { return &Metrics{} }

// EnterAsyncBlock records a spawned closure starting.
func (m *Metrics) EnterAsyncBlock() {
	m.mu.Lock()
	m.pendingClosures++
	if m.pendingClosures > m.peakClosures {
		m.peakClosures = m.pendingClosures
	}
	m.mu.Unlock()
}

// LeaveAsyncBlock records a spawned closure completing.
func (m *Metrics) LeaveAsyncBlock() {
	m.mu.Lock()
	m.pendingClosures--
	m.mu.Unlock()
}

// WriteSettled records one (blockID, name) promise slot settling
// because its write counter reached zero through a real write.
func (m *Metrics) WriteSettled() {
	m.mu.Lock()
	m.writesSettled++
	m.mu.Unlock()
}

// MissedWriteSettled records one (blockID, name) promise slot settling
// via TrackMissedAsyncWrites (a not-taken branch standing in for a
// write that never ran).
func (m *Metrics) MissedWriteSettled() {
	m.mu.Lock()
	m.missedWritesSettled++
	m.mu.Unlock()
}

// RecordLockWait records how long a sequenced call waited to acquire
// its sequence lock before running.
func (m *Metrics) RecordLockWait(d time.Duration) { m.lockWait.Record(d) }

// RecordRenderDuration records the wall-clock time of one root render,
// from Program.Root's entry to its terminal cb call.
func (m *Metrics) RecordRenderDuration(d time.Duration) { m.renderLatency.Record(d) }

// Snapshot is a point-in-time copy of every counter/latency summary,
// safe to read without holding any lock (prometheus.go calls this on
// every scrape).
type Snapshot struct {
	PendingClosures     int64
	PeakClosures        int64
	WritesSettled       int64
	MissedWritesSettled int64
	RenderLatency       LatencySummary
	LockWaitLatency     LatencySummary
}

// Snapshot returns the current state of every tracked number.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	s := Snapshot{
		PendingClosures:     m.pendingClosures,
		PeakClosures:        m.peakClosures,
		WritesSettled:       m.writesSettled,
		MissedWritesSettled: m.missedWritesSettled,
	}
	m.mu.Unlock()
	s.RenderLatency = m.renderLatency.Summarize()
	s.LockWaitLatency = m.lockWait.Summarize()
	return s
}

// sampleSize bounds the rolling latency sample window, same role as
// eventloop.sampleSize.
const sampleSize = 1000

// Latency tracks a rolling window of duration samples and derives
// percentiles from them on demand. Simpler than eventloop's P-Square
// streaming estimator (exact sort-based percentiles over a bounded
// ring buffer instead of O(1) streaming update) since this module's
// render/lock-wait volumes don't need the O(1) update eventloop's
// far higher event-loop tick rate requires.
type Latency struct {
	mu      sync.Mutex
	samples [sampleSize]time.Duration
	idx     int
	count   int
	sum     time.Duration
}

// Record adds one duration sample.
func (l *Latency) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count >= sampleSize {
		l.sum -= l.samples[l.idx]
	} else {
		l.count++
	}
	l.samples[l.idx] = d
	l.sum += d
	l.idx = (l.idx + 1) % sampleSize
}

// LatencySummary is the derived percentile/mean view of a Latency's
// current sample window.
type LatencySummary struct {
	Count int
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Summarize computes the current percentile summary. O(n log n) in the
// sample count, intended for periodic scraping rather than per-request
// use.
func (l *Latency) Summarize() LatencySummary {
	l.mu.Lock()
	count := l.count
	if count == 0 {
		l.mu.Unlock()
		return LatencySummary{}
	}
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return LatencySummary{
		Count: count,
		Mean:  sum / time.Duration(count),
		P50:   sorted[percentileIndex(count, 50)],
		P90:   sorted[percentileIndex(count, 90)],
		P99:   sorted[percentileIndex(count, 99)],
		Max:   sorted[count-1],
	}
}

func percentileIndex(n, p int) int {
	idx := (p * n) / 100
	if idx >= n {
		return n - 1
	}
	return idx
}
