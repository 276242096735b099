package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all scanner metrics
type Metrics struct {
	// Capture and texture counters
	FramesCaptured   atomic.Uint64
	FramesPublished  atomic.Uint64
	FramesSuperseded atomic.Uint64 // Replaced in the frame buffer before any renderer saw them
	FramesRendered   atomic.Uint64
	RenderErrors     atomic.Uint64

	// Detection counters
	DetectionsStarted   atomic.Uint64
	DetectionsSkipped   atomic.Uint64 // Frames dropped because a detection was in flight or cooling down
	DetectionsCompleted atomic.Uint64
	DetectionFailures   atomic.Uint64
	LateResults         atomic.Uint64 // Completions discarded after stop
	DetectionLatencyMs  atomic.Uint64 // Latency of the last detection

	// Result delivery
	CodesEmitted       atomic.Uint64
	CodesOutsideRegion atomic.Uint64
	CodesSuppressed    atomic.Uint64
	EventsDropped      atomic.Uint64

	// Session lifecycle
	SessionsStarted    atomic.Uint64
	SessionStartErrors atomic.Uint64
	CameraDisconnects  atomic.Uint64
	ActiveSessions     atomic.Uint64
	EventSubscribers   atomic.Int64
	PermissionPrompts  atomic.Uint64

	detectionLatency prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry:         prometheus.NewRegistry(),
		detectionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_detection_duration_seconds",
			Help:    "Time spent in the barcode detector per frame",
			Buckets: prometheus.ExponentialBuckets(0.002, 2, 10),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

type counter struct {
	name string
	help string
	load func() float64
}

func u64(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	counters := []counter{
		{"scanner_frames_captured_total", "Total frames delivered by the camera", u64(&m.FramesCaptured)},
		{"scanner_frames_published_total", "Total frames published to texture buffers", u64(&m.FramesPublished)},
		{"scanner_frames_superseded_total", "Frames replaced before a renderer read them", u64(&m.FramesSuperseded)},
		{"scanner_frames_rendered_total", "Frames encoded for texture clients", u64(&m.FramesRendered)},
		{"scanner_render_errors_total", "Texture encoding failures", u64(&m.RenderErrors)},
		{"scanner_detections_started_total", "Frames submitted to the detector", u64(&m.DetectionsStarted)},
		{"scanner_detections_skipped_total", "Frames not analyzed because the detector was busy", u64(&m.DetectionsSkipped)},
		{"scanner_detections_completed_total", "Detector calls that returned results", u64(&m.DetectionsCompleted)},
		{"scanner_detection_failures_total", "Detector calls that failed or were cancelled", u64(&m.DetectionFailures)},
		{"scanner_late_results_total", "Detection results discarded after stop", u64(&m.LateResults)},
		{"scanner_detection_latency_ms", "Latency of the last detection in milliseconds", u64(&m.DetectionLatencyMs)},
		{"scanner_codes_emitted_total", "Code events delivered to the bridge", u64(&m.CodesEmitted)},
		{"scanner_codes_outside_region_total", "Frames whose codes all fell outside the scan region", u64(&m.CodesOutsideRegion)},
		{"scanner_codes_suppressed_total", "Repeated codes withheld by the repeat window", u64(&m.CodesSuppressed)},
		{"scanner_events_dropped_total", "Events dropped for slow subscribers", u64(&m.EventsDropped)},
		{"scanner_sessions_started_total", "Successful scan session starts", u64(&m.SessionsStarted)},
		{"scanner_session_start_errors_total", "Failed scan session starts", u64(&m.SessionStartErrors)},
		{"scanner_camera_disconnects_total", "Unexpected camera disconnects", u64(&m.CameraDisconnects)},
		{"scanner_active_sessions", "Running scan sessions (0 or 1)", u64(&m.ActiveSessions)},
		{"scanner_permission_prompts_total", "Camera permission prompts issued", u64(&m.PermissionPrompts)},
		{"scanner_event_subscribers", "Connected event subscribers", func() float64 { return float64(m.EventSubscribers.Load()) }},
	}

	for _, c := range counters {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: c.name, Help: c.help},
			c.load,
		))
	}
	m.registry.MustRegister(m.detectionLatency)
}

// ObserveDetection records how long one detector call took
func (m *Metrics) ObserveDetection(d time.Duration) {
	m.DetectionLatencyMs.Store(uint64(d.Milliseconds()))
	m.detectionLatency.Observe(d.Seconds())
}

// Registry exposes the private registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
