package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection states exported on the state gauge.
var connectionStates = []string{"idle", "connecting", "open", "reconnecting", "closed"}

// Frame types tracked individually; anything else is counted as "data" to
// keep label cardinality bounded.
var trackedFrameTypes = map[string]struct{}{
	"start_stream":   {},
	"stop_stream":    {},
	"stream_started": {},
	"stream_stopped": {},
	"error":          {},
	"heartbeat":      {},
}

// Metrics holds all Prometheus metrics of the realtime layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Connection metrics
	ConnectionState *prometheus.GaugeVec
	ConnectAttempts *prometheus.CounterVec
	Reconnects      prometheus.Counter

	// Frame metrics
	Frames          *prometheus.CounterVec
	MalformedFrames prometheus.Counter
	Dropped         *prometheus.CounterVec

	// Stream metrics
	StreamTransitions *prometheus.CounterVec
	StreamsLive       prometheus.Gauge
	AckLatency        prometheus.Histogram

	// Subscriber metrics
	Subscribers prometheus.Gauge

	// Errors by taxonomy label
	Errors *prometheus.CounterVec

	// Diagnostics HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	registry prometheus.Gatherer

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the diagnostics JSON API.
type Snapshot struct {
	State           string    `json:"state"`
	StateSince      time.Time `json:"state_since"`
	ConnectAttempts int64     `json:"connect_attempts"`
	Reconnects      int64     `json:"reconnects"`
	FramesIn        int64     `json:"frames_in"`
	FramesOut       int64     `json:"frames_out"`
	MalformedFrames int64     `json:"malformed_frames"`
	Dropped         int64     `json:"dropped"`
	StreamsLive     int64     `json:"streams_live"`
	Subscribers     int64     `json:"subscribers"`
}

// NewMetrics creates a metrics collector registered on a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates a metrics collector registered on reg.
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		ConnectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "realtime_connection_state",
				Help: "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		ConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_connect_attempts_total",
				Help: "Total number of dial attempts",
			},
			[]string{"result"},
		),
		Reconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_reconnects_total",
				Help: "Total number of scheduled reconnects",
			},
		),

		Frames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_frames_total",
				Help: "Total number of frames by direction and envelope type",
			},
			[]string{"direction", "type"},
		),
		MalformedFrames: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "realtime_malformed_frames_total",
				Help: "Total number of inbound frames that failed to decode",
			},
		),
		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_dropped_messages_total",
				Help: "Total number of inbound envelopes dropped by the router",
			},
			[]string{"reason"},
		),

		StreamTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_stream_transitions_total",
				Help: "Total number of stream status transitions",
			},
			[]string{"kind", "status"},
		),
		StreamsLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_streams_live",
				Help: "Number of streams in requested or active status",
			},
		),
		AckLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "realtime_stream_ack_seconds",
				Help:    "Time from start_stream to stream_started",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "realtime_subscribers",
				Help: "Number of registered subscribers",
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_errors_total",
				Help: "Total number of errors by class",
			},
			[]string{"error_type"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "realtime_diag_requests_total",
				Help: "Total number of diagnostics HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "realtime_diag_request_duration_seconds",
				Help:    "Diagnostics HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	m.SetConnectionState("idle")
	return m
}

// Gatherer returns the registry backing these metrics, for /metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// SetConnectionState marks state as the current connection state.
func (m *Metrics) SetConnectionState(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(value)
	}

	m.mu.Lock()
	m.snapshot.State = state
	m.snapshot.StateSince = time.Now()
	m.mu.Unlock()
}

// RecordConnectAttempt records a dial outcome ("success" or "failure").
func (m *Metrics) RecordConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.snapshot.ConnectAttempts++
	m.mu.Unlock()
}

// IncReconnects records a scheduled reconnect.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()

	m.mu.Lock()
	m.snapshot.Reconnects++
	m.mu.Unlock()
}

// RecordFrame records a frame in direction "in" or "out".
func (m *Metrics) RecordFrame(direction, envelopeType string) {
	if m == nil {
		return
	}
	if _, ok := trackedFrameTypes[envelopeType]; !ok {
		envelopeType = "data"
	}
	m.Frames.WithLabelValues(direction, envelopeType).Inc()

	m.mu.Lock()
	if direction == "in" {
		m.snapshot.FramesIn++
	} else {
		m.snapshot.FramesOut++
	}
	m.mu.Unlock()
}

// IncMalformedFrames records a frame that failed to decode.
func (m *Metrics) IncMalformedFrames() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()

	m.mu.Lock()
	m.snapshot.MalformedFrames++
	m.mu.Unlock()
}

// RecordDropped records an envelope the router could not deliver.
func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()

	m.mu.Lock()
	m.snapshot.Dropped++
	m.mu.Unlock()
}

// RecordStreamTransition records a stream entering status.
func (m *Metrics) RecordStreamTransition(kind, status string) {
	if m == nil {
		return
	}
	m.StreamTransitions.WithLabelValues(kind, status).Inc()
}

// SetStreamsLive sets the number of non-terminal streams.
func (m *Metrics) SetStreamsLive(count int) {
	if m == nil {
		return
	}
	m.StreamsLive.Set(float64(count))

	m.mu.Lock()
	m.snapshot.StreamsLive = int64(count)
	m.mu.Unlock()
}

// ObserveAck records the acknowledgement latency of a stream.
func (m *Metrics) ObserveAck(latency time.Duration) {
	if m == nil {
		return
	}
	m.AckLatency.Observe(latency.Seconds())
}

// SetSubscribers sets the number of registered subscribers.
func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(count))

	m.mu.Lock()
	m.snapshot.Subscribers = int64(count)
	m.mu.Unlock()
}

// RecordError records an error under its taxonomy label.
func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(errorType).Inc()
}

// RecordHTTPRequest records a diagnostics HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
