// Package metrics provides Prometheus metrics export for binscore.
// Exposes scan outcomes, parse failures, latency and the loaded model identity.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cvalentine99/binscore/internal/models"
)

const namespace = "binscore"

// Error kinds used as the "kind" label of scan_errors_total.
const (
	KindIO        = "io"
	KindDimension = "dimension"
	KindInference = "inference"
	KindCanceled  = "canceled"
	KindOther     = "other"
)

// =============================================================================
// Metrics Registry
// =============================================================================

// Metrics holds the scanner's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanErrors    *prometheus.CounterVec
	parseFailures prometheus.Counter
	scanDuration  prometheus.Histogram
	scannedBytes  prometheus.Counter
	modelInfo     *prometheus.GaugeVec
}

// New creates a Metrics instance. Runtime collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by verdict.",
		}, []string{"verdict"}),
		scanErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Failed scans by error kind.",
		}, []string{"kind"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Scans whose structural features were zero-filled.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		scannedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scanned_bytes_total",
			Help:      "Bytes read from scanned files.",
		}),
		modelInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_info",
			Help:      "Loaded model identity; always 1.",
		}, []string{"format", "digest", "dimension"}),
	}

	m.registry.MustRegister(m.scans, m.scanErrors, m.parseFailures, m.scanDuration, m.scannedBytes, m.modelInfo)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	// Pre-create verdict series so a fresh registry exports zeros.
	for _, v := range []models.Verdict{models.VerdictBenign, models.VerdictSuspicious, models.VerdictMalicious} {
		m.scans.WithLabelValues(string(v))
	}

	return m
}

// ObserveResult records a completed scan.
func (m *Metrics) ObserveResult(r *models.ScoreResult) {
	if m == nil || r == nil {
		return
	}
	m.scans.WithLabelValues(string(r.Verdict)).Inc()
	if r.Partial {
		m.parseFailures.Inc()
	}
	if r.File != nil {
		m.scannedBytes.Add(float64(r.File.Size))
	}
	m.scanDuration.Observe(r.Duration.Seconds())
}

// ObserveError records a failed scan.
func (m *Metrics) ObserveError(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.scanErrors.WithLabelValues(kind).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// SetModel publishes the loaded model identity.
func (m *Metrics) SetModel(format, digest string, dimension int) {
	if m == nil {
		return
	}
	m.modelInfo.Reset()
	m.modelInfo.WithLabelValues(format, digest, fmt.Sprint(dimension)).Set(1)
}

// =============================================================================
// Export
// =============================================================================

// WriteTextfile writes the registry in text exposition format, suitable for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// =============================================================================
// Metrics Server
// =============================================================================

// Server serves /metrics and /health for the lifetime of a run.
type Server struct {
	listener net.Listener
	server   *http.Server
	done     chan error
}

// Serve listens on addr and serves m in the background. Use ":0" to pick a free port.
func (m *Metrics) Serve(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s := &Server{
		listener: ln,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		done: make(chan error, 1),
	}
	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting scrapes and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
