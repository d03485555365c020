package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector adapts a *Metrics into a prometheus.Collector,
// computing every exported metric's value from a fresh Snapshot at
// scrape time rather than keeping a parallel set of prometheus-native
// counters in sync with Metrics itself. Grounded on
// oriys-nova/internal/metrics/prometheus.go's namespaced-collector
// construction, simplified from its per-operation Record* API (this
// module has one underlying accumulator, not a family of subsystems)
// to a single Collect implementation reading one Snapshot.
type PrometheusCollector struct {
	m *Metrics

	pendingClosures     *prometheus.Desc
	peakClosures        *prometheus.Desc
	writesSettled       *prometheus.Desc
	missedWritesSettled *prometheus.Desc
	renderDuration      *prometheus.Desc
	lockWaitDuration     *prometheus.Desc
}

// NewPrometheusCollector returns a collector that reports m's current
// Snapshot under the given namespace (e.g. "cascada") each time it is
// scraped.
func NewPrometheusCollector(namespace string, m *Metrics) *PrometheusCollector {
	ns := func(name string) string {
		if namespace == "" {
			return name
		}
		return namespace + "_" + name
	}
	return &PrometheusCollector{
		m: m,
		pendingClosures: prometheus.NewDesc(
			ns("pending_closures"),
			"Number of async closures currently in flight.",
			nil, nil,
		),
		peakClosures: prometheus.NewDesc(
			ns("peak_closures"),
			"Maximum number of async closures observed in flight at once.",
			nil, nil,
		),
		writesSettled: prometheus.NewDesc(
			ns("writes_settled_total"),
			"Total cross-block writes that settled a reader's promise slot.",
			nil, nil,
		),
		missedWritesSettled: prometheus.NewDesc(
			ns("missed_writes_settled_total"),
			"Total promise slots settled via trackMissedAsyncWrites (not-taken branches).",
			nil, nil,
		),
		renderDuration: prometheus.NewDesc(
			ns("render_duration_seconds"),
			"Summary of root render wall-clock duration.",
			[]string{"quantile"}, nil,
		),
		lockWaitDuration: prometheus.NewDesc(
			ns("sequence_lock_wait_seconds"),
			"Summary of sequence-lock acquisition wait duration.",
			[]string{"quantile"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pendingClosures
	ch <- c.peakClosures
	ch <- c.writesSettled
	ch <- c.missedWritesSettled
	ch <- c.renderDuration
	ch <- c.lockWaitDuration
}

// Collect implements prometheus.Collector, computing every value from
// one Snapshot so the exposed numbers are mutually consistent.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.pendingClosures, prometheus.GaugeValue, float64(snap.PendingClosures))
	ch <- prometheus.MustNewConstMetric(c.peakClosures, prometheus.GaugeValue, float64(snap.PeakClosures))
	ch <- prometheus.MustNewConstMetric(c.writesSettled, prometheus.CounterValue, float64(snap.WritesSettled))
	ch <- prometheus.MustNewConstMetric(c.missedWritesSettled, prometheus.CounterValue, float64(snap.MissedWritesSettled))

	emitLatency(ch, c.renderDuration, snap.RenderLatency)
	emitLatency(ch, c.lockWaitDuration, snap.LockWaitLatency)
}

func emitLatency(ch chan<- prometheus.Metric, desc *prometheus.Desc, s LatencySummary) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, durationSeconds(s.P50), "0.5")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, durationSeconds(s.P90), "0.9")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, durationSeconds(s.P99), "0.99")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, durationSeconds(s.Max), "1")
}

func durationSeconds(d time.Duration) float64 { return d.Seconds() }

var _ prometheus.Collector = (*PrometheusCollector)(nil)
