package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus collectors for the upload lifecycle. All
// methods are nil-safe so components can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	uploadsStarted  prometheus.Counter
	uploadOutcomes  *prometheus.CounterVec
	scanVerdicts    *prometheus.CounterVec
	pollTicks       prometheus.Counter
	requestDuration *prometheus.HistogramVec
}

// NewMetrics initializes the collectors on a dedicated registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filegate_uploads_started_total",
			Help: "Upload attempts that reached the uploading phase.",
		}),
		uploadOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filegate_upload_outcomes_total",
			Help: "Terminal outcomes of upload attempts.",
		}, []string{"outcome"}),
		scanVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filegate_scan_verdicts_total",
			Help: "Terminal malware scan verdicts.",
		}, []string{"verdict"}),
		pollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filegate_poll_ticks_total",
			Help: "Scan status checks issued.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filegate_request_duration_seconds",
			Help:    "Duration of backend HTTP calls.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "code"}),
	}

	collectors := []prometheus.Collector{
		m.uploadsStarted, m.uploadOutcomes, m.scanVerdicts, m.pollTicks, m.requestDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			// If already registered, that's okay (useful for testing)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MarkUploadStarted() {
	if m == nil {
		return
	}
	m.uploadsStarted.Inc()
}

func (m *Metrics) MarkUploadOutcome(outcome string) {
	if m == nil {
		return
	}
	m.uploadOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) MarkScanVerdict(verdict string) {
	if m == nil {
		return
	}
	m.scanVerdicts.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncPollTick() {
	if m == nil {
		return
	}
	m.pollTicks.Inc()
}

// ObserveRequest records one backend HTTP call. A code of 0 means the
// request never produced a response.
func (m *Metrics) ObserveRequest(operation string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(operation, strconv.Itoa(code)).Observe(d.Seconds())
}

// StartMetricsServer starts an HTTP server exposing /metrics and /health.
func StartMetricsServer(addr string, m *Metrics, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", m.Handler())

		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
