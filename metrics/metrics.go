// Package metrics exposes registry and queue counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/softcam/device"
	"github.com/ardnew/softcam/pkg"
)

const namespace = "softcam"

// Collector reads device snapshots at scrape time.
type Collector struct {
	registry *device.Registry

	devices  *prometheus.Desc
	state    *prometheus.Desc
	queued   *prometheus.Desc
	held     *prometheus.Desc
	sequence *prometheus.Desc
	enqueued *prometheus.Desc
	dequeued *prometheus.Desc
	released *prometheus.Desc
	dropped  *prometheus.Desc
	rejected *prometheus.Desc
}

// NewCollector creates a collector over r.
func NewCollector(r *device.Registry) *Collector {
	labels := []string{"device", "name"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "device", name), help, labels, nil)
	}
	return &Collector{
		registry: r,
		devices: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "devices"),
			"Number of live devices", nil, nil),
		state:    desc("state", "Device state (0 created, 1 configured, 2 streaming)"),
		queued:   desc("queued_buffers", "Buffers holding a frame awaiting the consumer"),
		held:     desc("held_buffers", "Buffers held by the consumer"),
		sequence: desc("sequence", "Last assigned frame sequence number"),
		enqueued: desc("frames_enqueued_total", "Frames accepted from producers"),
		dequeued: desc("frames_dequeued_total", "Frames handed to consumers"),
		released: desc("buffers_released_total", "Buffers returned by consumers"),
		dropped:  desc("frames_dropped_total", "Queued frames evicted by drop-oldest"),
		rejected: desc("frames_rejected_total", "Frames refused because the queue was full"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.devices, c.state, c.queued, c.held, c.sequence,
		c.enqueued, c.dequeued, c.released, c.dropped, c.rejected,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	devices := c.registry.Devices()
	ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(len(devices)))

	for _, d := range devices {
		s := d.Snapshot()
		labels := []string{s.ID.String(), s.Name}
		gauge := func(desc *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
		}
		counter := func(desc *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
		}
		gauge(c.state, float64(s.State))
		gauge(c.queued, float64(s.Queue.Queued))
		gauge(c.held, float64(s.Queue.Held))
		gauge(c.sequence, float64(s.Queue.Sequence))
		counter(c.enqueued, s.Queue.Enqueued)
		counter(c.dequeued, s.Queue.Dequeued)
		counter(c.released, s.Queue.Released)
		counter(c.dropped, s.Queue.Dropped)
		counter(c.rejected, s.Queue.Rejected)
	}
}

// Metrics bundles the Prometheus registry served on /metrics.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	sessions prometheus.Gauge
}

// New registers the device collector, the control request counters and
// the Go runtime collectors on a fresh Prometheus registry.
func New(r *device.Registry) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control requests by operation and result code",
		}, []string{"op", "code"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_sessions",
			Help:      "Open control sessions",
		}),
	}
	m.registry.MustRegister(
		NewCollector(r),
		m.requests,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one control request result.
func (m *Metrics) RecordRequest(op device.Op, code pkg.Code) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(op.String(), code.String()).Inc()
}

// SessionOpened increments the open session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}
