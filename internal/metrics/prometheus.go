package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice service.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Session metrics
	ConnectionAttempts prometheus.Counter
	ConnectionRetries  prometheus.Counter
	SessionErrors      *prometheus.CounterVec
	SessionState       prometheus.Gauge
	SessionDuration    prometheus.Histogram

	// Capture metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter
	InputLevel    prometheus.Gauge

	// Playback metrics
	SegmentsScheduled     prometheus.Counter
	PlaybackAudioSeconds  prometheus.Counter
	PlaybackInterruptions prometheus.Counter

	// Conversation metrics
	ToolCalls      *prometheus.CounterVec
	TurnsCompleted prometheus.Counter

	// Record store metrics
	StoreWrites        *prometheus.CounterVec
	StoreWriteFailures *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		ConnectionAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_connection_attempts_total",
			Help: "Total number of connection attempts, including retries",
		}),
		ConnectionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_connection_retries_total",
			Help: "Total number of scheduled reconnection attempts",
		}),
		SessionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_session_errors_total",
			Help: "Total number of session errors by class",
		}, []string{"class"}),
		SessionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rei_session_state",
			Help: "Current session state (0=idle, 1=connecting, 2=open, 3=closed)",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rei_session_duration_seconds",
			Help:    "Duration of open sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Capture metrics
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_capture_frames_sent_total",
			Help: "Total number of microphone frames sent",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_capture_frames_dropped_total",
			Help: "Total number of microphone frames that failed to send",
		}),
		InputLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rei_input_level",
			Help: "Most recent microphone loudness in [0, 1]",
		}),

		// Playback metrics
		SegmentsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_playback_segments_total",
			Help: "Total number of audio segments scheduled for playback",
		}),
		PlaybackAudioSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_playback_audio_seconds_total",
			Help: "Total seconds of audio scheduled for playback",
		}),
		PlaybackInterruptions: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_playback_interruptions_total",
			Help: "Total number of playback interruptions",
		}),

		// Conversation metrics
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_tool_calls_total",
			Help: "Total number of tool calls by tool and outcome",
		}, []string{"tool", "outcome"}),
		TurnsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "rei_turns_completed_total",
			Help: "Total number of completed conversation turns",
		}),

		// Record store metrics
		StoreWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_store_writes_total",
			Help: "Total number of record store writes by key",
		}, []string{"key"}),
		StoreWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_store_write_failures_total",
			Help: "Total number of failed record store writes by key",
		}, []string{"key"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rei_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rei_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConnectionAttempt increments the connection attempts counter
func (m *Metrics) RecordConnectionAttempt() {
	if m == nil {
		return
	}
	m.ConnectionAttempts.Inc()
}

// RecordConnectionRetry increments the retry counter
func (m *Metrics) RecordConnectionRetry() {
	if m == nil {
		return
	}
	m.ConnectionRetries.Inc()
}

// RecordSessionError records a session error of the given class
func (m *Metrics) RecordSessionError(class string) {
	if m == nil {
		return
	}
	m.SessionErrors.WithLabelValues(class).Inc()
}

// SetSessionState sets the session state gauge
func (m *Metrics) SetSessionState(state int) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
}

// RecordSessionClosed records how long a session stayed open
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFrameSent increments the frames sent counter
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordFrameDropped increments the frames dropped counter
func (m *Metrics) RecordFrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

// SetInputLevel sets the input loudness gauge
func (m *Metrics) SetInputLevel(level float64) {
	if m == nil {
		return
	}
	m.InputLevel.Set(level)
}

// RecordSegmentScheduled records a playback segment
func (m *Metrics) RecordSegmentScheduled(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsScheduled.Inc()
	m.PlaybackAudioSeconds.Add(durationSeconds)
}

// RecordPlaybackInterruption increments the interruptions counter
func (m *Metrics) RecordPlaybackInterruption() {
	if m == nil {
		return
	}
	m.PlaybackInterruptions.Inc()
}

// RecordToolCall records a handled tool call
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordTurnCompleted increments the completed turns counter
func (m *Metrics) RecordTurnCompleted() {
	if m == nil {
		return
	}
	m.TurnsCompleted.Inc()
}

// RecordStoreWrite records a persistence attempt and its outcome
func (m *Metrics) RecordStoreWrite(key string, err error) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(key).Inc()
	if err != nil {
		m.StoreWriteFailures.WithLabelValues(key).Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
