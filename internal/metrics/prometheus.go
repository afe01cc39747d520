package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/iuupgate/internal/iuup"
)

// Metrics contains the Prometheus metrics of the decoder service
type Metrics struct {
	registry *prometheus.Registry

	// Frame metrics
	DatagramsReceived prometheus.Counter
	FramesDecoded     *prometheus.CounterVec
	FrameBytes        prometheus.Histogram
	Annotations       *prometheus.CounterVec
	BoundsViolations  prometheus.Counter
	DecodeErrors      prometheus.Counter
	HeuristicMisses   prometheus.Counter

	// Circuit metrics
	ActiveCircuits    prometheus.Gauge
	CircuitsCommitted prometheus.Counter
	SessionResets     prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics on a private registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		DatagramsReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_datagrams_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		FramesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iuup_frames_decoded_total",
			Help: "Total number of IuUP frames decoded by PDU type",
		}, []string{"pdu_type"}),
		FrameBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "iuup_frame_size_bytes",
			Help:    "Size of decoded IuUP frames",
			Buckets: prometheus.ExponentialBuckets(4, 2, 10), // 4B to 2KB
		}),
		Annotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iuup_annotations_total",
			Help: "Total number of decoder findings by kind and detail",
		}, []string{"kind", "detail", "severity"}),
		BoundsViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_bounds_violations_total",
			Help: "Total number of frames aborted by a bounds violation",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_decode_errors_total",
			Help: "Total number of frames aborted by any decode error",
		}),
		HeuristicMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_heuristic_misses_total",
			Help: "Total number of buffers in which no frame was located",
		}),

		ActiveCircuits: f.NewGauge(prometheus.GaugeOpts{
			Name: "iuup_active_circuits",
			Help: "Current number of negotiated circuits",
		}),
		CircuitsCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_circuits_committed_total",
			Help: "Total number of initializations committed",
		}),
		SessionResets: f.NewCounter(prometheus.CounterOpts{
			Name: "iuup_session_resets_total",
			Help: "Total number of circuit registry resets",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "iuup_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iuup_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and embedding
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDatagram increments the datagrams received counter
func (m *Metrics) RecordDatagram() {
	m.DatagramsReceived.Inc()
}

// RecordResult records the outcome of one decode call
func (m *Metrics) RecordResult(res *iuup.Result) {
	if res == nil {
		return
	}
	if !res.Located {
		m.HeuristicMisses.Inc()
		return
	}
	m.FramesDecoded.WithLabelValues(pduLabel(res.Frame.PDUType)).Inc()
	m.FrameBytes.Observe(float64(len(res.Frame.Raw)))
	if res.Committed != nil {
		m.CircuitsCommitted.Inc()
	}
}

// RecordAnnotation counts one decoder finding. It matches iuup.Reporter.
func (m *Metrics) RecordAnnotation(a iuup.Annotation) {
	m.Annotations.WithLabelValues(string(a.Kind), a.Detail, string(a.Severity)).Inc()
}

// RecordDecodeError counts an aborted frame
func (m *Metrics) RecordDecodeError(boundsViolation bool) {
	m.DecodeErrors.Inc()
	if boundsViolation {
		m.BoundsViolations.Inc()
	}
}

// SetActiveCircuits sets the number of circuits in the registry
func (m *Metrics) SetActiveCircuits(n int) {
	m.ActiveCircuits.Set(float64(n))
}

// RecordSessionReset increments the reset counter and clears the circuit gauge
func (m *Metrics) RecordSessionReset() {
	m.SessionResets.Inc()
	m.ActiveCircuits.Set(0)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

func pduLabel(t iuup.PDUType) string {
	switch t {
	case iuup.PDUDataWithCRC:
		return "data_crc"
	case iuup.PDUDataNoCRC:
		return "data_no_crc"
	case iuup.PDUControl:
		return "control"
	default:
		return "unknown"
	}
}
