// Package observability provides the Prometheus metrics exported by bridge
// sessions.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "tensorbridge"

// Metrics holds the counters for frame traffic. All methods are safe on a nil
// *Metrics, which records nothing.
type Metrics struct {
	framesSent       prometheus.Counter
	framesReceived   prometheus.Counter
	framesRejected   prometheus.Counter
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	truncations      prometheus.Counter
	streamErrors     *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	callbackDuration prometheus.Histogram
}

// NewMetrics registers the bridge metrics with reg. A nil reg uses the
// default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_sent_total",
			Help:      "Frames written to the peer stream.",
		}),
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_received_total",
			Help:      "Frames decoded and delivered to the callback.",
		}),
		framesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_rejected_total",
			Help:      "Buffers refused by the transfer queue.",
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_sent_total",
			Help:      "Tensor payload bytes written to the peer stream.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bytes_received_total",
			Help:      "Tensor payload bytes delivered to the callback.",
		}),
		truncations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "encode_truncations_total",
			Help:      "Frames encoded from a buffer shorter than the stream format.",
		}),
		streamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "stream_errors_total",
			Help:      "Stream failures by role and stage.",
		}, []string{"role", "stage"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Frames waiting in the transfer queue.",
		}),
		callbackDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "callback_duration_seconds",
			Help:      "Time spent in the delivery callback per frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// FrameSent counts one frame written to a stream and its payload bytes.
func (m *Metrics) FrameSent(bytes int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

// FrameReceived counts one frame delivered to the consumer and its payload bytes.
func (m *Metrics) FrameReceived(bytes int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(bytes))
}

// FrameRejected counts a buffer refused by the send queue.
func (m *Metrics) FrameRejected() {
	if m == nil {
		return
	}
	m.framesRejected.Inc()
}

// Truncated counts a buffer shorter than the configured frame size.
func (m *Metrics) Truncated() {
	if m == nil {
		return
	}
	m.truncations.Inc()
}

// StreamError counts a failure; stage is one of open, write, recv, close.
func (m *Metrics) StreamError(role, stage string) {
	if m == nil {
		return
	}
	m.streamErrors.WithLabelValues(role, stage).Inc()
}

// SetQueueDepth records the number of buffers waiting in the send queue.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveCallback records how long the consumer callback took for one frame.
func (m *Metrics) ObserveCallback(d time.Duration) {
	if m == nil {
		return
	}
	m.callbackDuration.Observe(d.Seconds())
}

// Handler returns an http.Handler exporting the metrics of g in Prometheus
// text exposition format. A nil g uses the default gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
