package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons
const (
	DropEncode = "encode"
)

// Metrics holds the stream pipeline collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	mu sync.Mutex

	framesRead      prometheus.Counter
	framesStreamed  prometheus.Counter
	framesDropped   *prometheus.CounterVec
	reconnects      prometheus.Counter
	overlayFailures *prometheus.CounterVec
	activeStreams   prometheus.Gauge
	encodeSeconds   prometheus.Histogram
	overlaysListed  prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: "overlaycast",
		Subsystem: "stream",
		Name:      name,
		Help:      help,
	}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: "overlaycast",
		Subsystem: "stream",
		Name:      name,
		Help:      help,
	}
}

// New creates the collectors. A nil registerer uses the default one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:      registerer,
		framesRead:      prometheus.NewCounter(counterOpts("frames_read_total", "Frames read from sources")),
		framesStreamed:  prometheus.NewCounter(counterOpts("frames_streamed_total", "Encoded frames handed to viewers")),
		framesDropped:   prometheus.NewCounterVec(counterOpts("frames_dropped_total", "Frames dropped before reaching a viewer"), []string{"reason"}),
		reconnects:      prometheus.NewCounter(counterOpts("source_reconnects_total", "Successful source reopens after a failed read")),
		overlayFailures: prometheus.NewCounterVec(counterOpts("overlay_failures_total", "Overlay descriptors skipped while compositing"), []string{"type", "reason"}),
		activeStreams:   prometheus.NewGauge(gaugeOpts("active", "Viewer streams currently open")),
		overlaysListed:  prometheus.NewGauge(gaugeOpts("overlays", "Descriptors in the most recent overlay listing")),
		encodeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "overlaycast",
			Subsystem: "stream",
			Name:      "encode_seconds",
			Help:      "Time spent encoding one frame",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.framesRead,
		m.framesStreamed,
		m.framesDropped,
		m.reconnects,
		m.overlayFailures,
		m.activeStreams,
		m.overlaysListed,
		m.encodeSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// FrameRead counts one frame taken from a source
func (m *Metrics) FrameRead() {
	if m == nil {
		return
	}
	m.framesRead.Inc()
}

// FrameStreamed counts one encoded frame returned to a viewer
func (m *Metrics) FrameStreamed() {
	if m == nil {
		return
	}
	m.framesStreamed.Inc()
}

// FrameDropped counts one dropped frame
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

// Reconnects adds n successful reopens
func (m *Metrics) Reconnects(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reconnects.Add(float64(n))
}

// OverlayFailed counts one skipped descriptor
func (m *Metrics) OverlayFailed(kind, reason string) {
	if m == nil {
		return
	}
	m.overlayFailures.WithLabelValues(kind, reason).Inc()
}

// OverlaysListed records the size of the latest overlay listing
func (m *Metrics) OverlaysListed(n int) {
	if m == nil {
		return
	}
	m.overlaysListed.Set(float64(n))
}

// StreamOpened increments the active stream gauge
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamClosed decrements the active stream gauge
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// ObserveEncode records how long one encode took
func (m *Metrics) ObserveEncode(d time.Duration) {
	if m == nil {
		return
	}
	m.encodeSeconds.Observe(d.Seconds())
}
