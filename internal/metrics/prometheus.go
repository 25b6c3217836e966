package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice link node
type Metrics struct {
	// Capture metrics
	CaptureReads    prometheus.Counter
	CaptureFailures prometheus.Counter
	CaptureBytes    prometheus.Counter
	RingDrops       prometheus.Counter
	RingFill        prometheus.Gauge

	// Mode gate metrics
	Mode        prometheus.Gauge
	ButtonEdges *prometheus.CounterVec
	PollMisses  prometheus.Counter

	// Transport metrics
	ConnectionState  prometheus.Gauge
	ConnectAttempts  prometheus.Counter
	ConnectFailures  prometheus.Counter
	Teardowns        prometheus.Counter
	FramesSent       *prometheus.CounterVec
	BytesSent        prometheus.Counter
	IdleDiscardBytes prometheus.Counter
	FramesReceived   prometheus.Counter
	OversizeDrops    prometheus.Counter
	HeaderAnomalies  prometheus.Counter

	// Display routing metrics
	DisplayRouted *prometheus.CounterVec
	DisplayDrops  *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on promhttp.Handler().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		CaptureReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_capture_reads_total",
			Help: "Total number of successful microphone reads",
		}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_capture_failures_total",
			Help: "Total number of failed or timed out microphone reads",
		}),
		CaptureBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_capture_bytes_total",
			Help: "Total number of PCM bytes read from the microphone",
		}),
		RingDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_ring_drops_total",
			Help: "Total number of capture chunks dropped because the ring buffer was full",
		}),
		RingFill: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lll_ring_fill_bytes",
			Help: "Bytes currently held in the audio ring buffer",
		}),

		// Mode gate metrics
		Mode: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lll_channel_mode",
			Help: "Current channel mode (0=idle, 1=channel A, 2=channel B)",
		}),
		ButtonEdges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_button_edges_total",
			Help: "Total number of debounced button edges",
		}, []string{"button", "edge"}),
		PollMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_button_poll_misses_total",
			Help: "Total number of button polls skipped because a level read failed",
		}),

		// Transport metrics
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lll_connection_state",
			Help: "Current connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		ConnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_connect_attempts_total",
			Help: "Total number of connection attempts",
		}),
		ConnectFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_connect_failures_total",
			Help: "Total number of failed connection attempts",
		}),
		Teardowns: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_connection_teardowns_total",
			Help: "Total number of connections torn down after a fault",
		}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_frames_sent_total",
			Help: "Total number of audio frames written to the server",
		}, []string{"channel"}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_bytes_sent_total",
			Help: "Total number of bytes written to the server, headers included",
		}),
		IdleDiscardBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_idle_discard_bytes_total",
			Help: "Total number of audio bytes discarded while idle",
		}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_frames_received_total",
			Help: "Total number of frames received from the server",
		}),
		OversizeDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_oversize_drops_total",
			Help: "Total number of inbound frames drained because the payload exceeded the text limit",
		}),
		HeaderAnomalies: factory.NewCounter(prometheus.CounterOpts{
			Name: "lll_header_anomalies_total",
			Help: "Total number of inbound headers with unexpected magic, version or type",
		}),

		// Display routing metrics
		DisplayRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_display_routed_total",
			Help: "Total number of text messages queued for a display",
		}, []string{"display"}),
		DisplayDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_display_drops_total",
			Help: "Total number of text messages dropped",
		}, []string{"reason"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lll_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lll_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordCaptureRead records a successful microphone read
func (m *Metrics) RecordCaptureRead(n int) {
	m.CaptureReads.Inc()
	m.CaptureBytes.Add(float64(n))
}

// RecordCaptureFailure increments the capture failure counter
func (m *Metrics) RecordCaptureFailure() {
	m.CaptureFailures.Inc()
}

// RecordRingDrop increments the ring buffer drop counter
func (m *Metrics) RecordRingDrop() {
	m.RingDrops.Inc()
}

// SetRingFill sets the current ring buffer fill level
func (m *Metrics) SetRingFill(n int) {
	m.RingFill.Set(float64(n))
}

// SetMode sets the current channel mode
func (m *Metrics) SetMode(mode int) {
	m.Mode.Set(float64(mode))
}

// RecordButtonEdge records a debounced press or release
func (m *Metrics) RecordButtonEdge(button, edge string) {
	m.ButtonEdges.WithLabelValues(button, edge).Inc()
}

// RecordPollMiss increments the poll miss counter
func (m *Metrics) RecordPollMiss() {
	m.PollMisses.Inc()
}

// SetConnectionState sets the current connection state
func (m *Metrics) SetConnectionState(state int) {
	m.ConnectionState.Set(float64(state))
}

// RecordConnectAttempt records a connection attempt and whether it failed
func (m *Metrics) RecordConnectAttempt(failed bool) {
	m.ConnectAttempts.Inc()
	if failed {
		m.ConnectFailures.Inc()
	}
}

// RecordTeardown increments the teardown counter
func (m *Metrics) RecordTeardown() {
	m.Teardowns.Inc()
}

// RecordFrameSent records an outbound audio frame
func (m *Metrics) RecordFrameSent(channel string, frameBytes int) {
	m.FramesSent.WithLabelValues(channel).Inc()
	m.BytesSent.Add(float64(frameBytes))
}

// RecordIdleDiscard records audio bytes discarded while idle
func (m *Metrics) RecordIdleDiscard(n int) {
	m.IdleDiscardBytes.Add(float64(n))
}

// RecordFrameReceived increments the inbound frame counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordOversizeDrop increments the oversize drop counter
func (m *Metrics) RecordOversizeDrop() {
	m.OversizeDrops.Inc()
}

// RecordHeaderAnomaly increments the header anomaly counter
func (m *Metrics) RecordHeaderAnomaly() {
	m.HeaderAnomalies.Inc()
}

// RecordDisplayRouted records a message queued for a display
func (m *Metrics) RecordDisplayRouted(display string) {
	m.DisplayRouted.WithLabelValues(display).Inc()
}

// RecordDisplayDrop records a dropped text message
func (m *Metrics) RecordDisplayDrop(reason string) {
	m.DisplayDrops.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
