package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all client metrics
type Metrics struct {
	// Session lifecycle
	SessionState      atomic.Int64 // current state ordinal
	SessionGen        atomic.Uint64
	Probes            atomic.Uint64
	ProbeFailures     atomic.Uint64
	FastReplays       atomic.Uint64
	FullRediscoveries atomic.Uint64
	WatchdogResets    atomic.Uint64

	// Live stream counters
	FramesReceived atomic.Uint64
	FramesDropped  atomic.Uint64

	// Capture counters
	PhotosSaved           atomic.Uint64
	RecorderFramesWritten atomic.Uint64
	RecorderFramesDropped atomic.Uint64
	RecordingActive       atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes        atomic.Uint64
	QueueUsagePercent     atomic.Uint64

	// Error counters
	DiscoveryErrors  atomic.Uint64
	ActivationErrors atomic.Uint64
	CaptureErrors    atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help}, fn,
		))
	}

	gauge("scopecam_session_state", "Current session state ordinal (0=idle..5=stopped)",
		func() float64 { return float64(m.SessionState.Load()) })
	gauge("scopecam_session_generation", "Current session generation stamp",
		func() float64 { return float64(m.SessionGen.Load()) })
	gauge("scopecam_probes_total", "Total probe attempts",
		func() float64 { return float64(m.Probes.Load()) })
	gauge("scopecam_probe_failures_total", "Total failed probes",
		func() float64 { return float64(m.ProbeFailures.Load()) })
	gauge("scopecam_fast_replays_total", "Reconnects served by fast URL replay",
		func() float64 { return float64(m.FastReplays.Load()) })
	gauge("scopecam_full_rediscoveries_total", "Reconnects that fell back to full discovery",
		func() float64 { return float64(m.FullRediscoveries.Load()) })
	gauge("scopecam_watchdog_resets_total", "Sessions force-reset by the watchdog",
		func() float64 { return float64(m.WatchdogResets.Load()) })

	gauge("scopecam_frames_received_total", "Live-view frames received",
		func() float64 { return float64(m.FramesReceived.Load()) })
	gauge("scopecam_frames_dropped_total", "Live-view frames dropped",
		func() float64 { return float64(m.FramesDropped.Load()) })

	gauge("scopecam_photos_saved_total", "Photos saved",
		func() float64 { return float64(m.PhotosSaved.Load()) })
	gauge("scopecam_recorder_frames_written_total", "Frames written to recordings",
		func() float64 { return float64(m.RecorderFramesWritten.Load()) })
	gauge("scopecam_recorder_frames_dropped_total", "Frames dropped by the recording queue",
		func() float64 { return float64(m.RecorderFramesDropped.Load()) })
	gauge("scopecam_recording_active", "Recording active (0=inactive, 1=active)",
		func() float64 { return float64(m.RecordingActive.Load()) })
	gauge("scopecam_recording_bytes", "Bytes written to the current recording",
		func() float64 { return float64(m.RecordingBytes.Load()) })
	gauge("scopecam_recorder_queue_usage_percent", "Recording queue usage percentage",
		func() float64 { return float64(m.QueueUsagePercent.Load()) })

	gauge("scopecam_discovery_errors_total", "Discovery failures",
		func() float64 { return float64(m.DiscoveryErrors.Load()) })
	gauge("scopecam_activation_errors_total", "Activation failures (non-fatal)",
		func() float64 { return float64(m.ActivationErrors.Load()) })
	gauge("scopecam_capture_errors_total", "Capture failures",
		func() float64 { return float64(m.CaptureErrors.Load()) })
}

// SetQueueUsage updates the recording queue usage percentage.
func (m *Metrics) SetQueueUsage(used, capacity int) {
	if capacity > 0 {
		m.QueueUsagePercent.Store(uint64(used * 100 / capacity))
	}
}

// ObserveState records a session state transition.
func (m *Metrics) ObserveState(state int) {
	m.SessionState.Store(int64(state))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
