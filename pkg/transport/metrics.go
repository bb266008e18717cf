package transport

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects transport counters. A nil *Metrics records nothing.
type Metrics struct {
	connectAttempts   *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	streamsAccepted   prometheus.Counter
	streamErrors      *prometheus.CounterVec
	chunks            *prometheus.CounterVec
	messages          *prometheus.CounterVec
	messageBytes      *prometheus.HistogramVec
	decodeErrors      prometheus.Counter
	handlerPanics     prometheus.Counter
	dispatchDuration  *prometheus.HistogramVec
}

// NewMetrics creates the transport metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "connect_attempts_total",
				Help:      "Outbound connection attempts by result.",
			},
			[]string{"result"},
		),
		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "connections_active",
				Help:      "Inbound node connections currently served.",
			},
		),
		streamsAccepted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "streams_accepted_total",
				Help:      "Inbound streams accepted.",
			},
		),
		streamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "stream_errors_total",
				Help:      "Streams terminated by a protocol error, by reason.",
			},
			[]string{"reason"},
		),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "chunks_total",
				Help:      "Chunks transferred, by direction.",
			},
			[]string{"direction"},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "messages_total",
				Help:      "Complete messages transferred, by direction.",
			},
			[]string{"direction"},
		),
		messageBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "message_size_bytes",
				Help:      "Size of complete messages, by direction.",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"direction"},
		),
		decodeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "decode_errors_total",
				Help:      "Reassembled messages that did not decode as a request.",
			},
		),
		handlerPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "handler_panics_total",
				Help:      "Recovered panics in stream handlers.",
			},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lunatic",
				Subsystem: "node",
				Name:      "dispatch_duration_seconds",
				Help:      "Request dispatch duration in seconds, by request kind.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.connectAttempts,
			m.connectionsActive,
			m.streamsAccepted,
			m.streamErrors,
			m.chunks,
			m.messages,
			m.messageBytes,
			m.decodeErrors,
			m.handlerPanics,
			m.dispatchDuration,
		)
	}
	return m
}

func (m *Metrics) connectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) connectionOpened() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) connectionClosed() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) streamAccepted() {
	if m != nil {
		m.streamsAccepted.Inc()
	}
}

func (m *Metrics) streamError(reason string) {
	if m != nil {
		m.streamErrors.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) chunk(direction string, n int) {
	if m != nil {
		m.chunks.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *Metrics) message(direction string, size int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction).Inc()
	m.messageBytes.WithLabelValues(direction).Observe(float64(size))
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) handlerPanic() {
	if m != nil {
		m.handlerPanics.Inc()
	}
}

func (m *Metrics) dispatched(kind string, d time.Duration) {
	if m != nil {
		m.dispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}
