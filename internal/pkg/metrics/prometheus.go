// Package metrics exports engine statistics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/endorses/fpengine/internal/pkg/constants"
	"github.com/endorses/fpengine/internal/pkg/engine"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fpe"

// StatsSource supplies engine counters at scrape time
type StatsSource interface {
	Stats() engine.Stats
}

// SizeSource supplies the aggregated graph size at scrape time
type SizeSource interface {
	Size() (vertices, edges int)
}

// Exporter serves /metrics and /health. It is also an engine.Sink counting
// records per fingerprint.
type Exporter struct {
	enabled  atomic.Bool
	registry *prometheus.Registry
	records  *prometheus.CounterVec
	addr     string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewExporter creates an exporter for addr (host:port). graph may be nil.
func NewExporter(addr string, stats StatsSource, graph SizeSource) *Exporter {
	registry := prometheus.NewRegistry()

	// Add Go runtime metrics
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(newEngineCollector(stats, graph))

	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fingerprint_records_total",
			Help:      "Records emitted per fingerprint and record kind",
		},
		[]string{"fingerprint", "kind"},
	)
	registry.MustRegister(records)

	return &Exporter{
		registry: registry,
		records:  records,
		addr:     addr,
	}
}

// Emit implements engine.Sink
func (p *Exporter) Emit(r engine.Record) {
	p.records.WithLabelValues(r.Fingerprint, r.Kind.String()).Inc()
}

// Handler serves the metrics and health endpoints
func (p *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", p.healthHandler)
	return mux
}

// Enable starts the metrics server. Listen errors are returned directly.
func (p *Exporter) Enable() error {
	if p.enabled.Load() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.addr, err)
	}
	p.listener = ln
	p.server = &http.Server{
		Handler:      p.Handler(),
		ReadTimeout:  constants.MetricsServerTimeout,
		WriteTimeout: constants.MetricsServerTimeout,
	}

	server := p.server
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus server error", "error", err)
		}
	}()

	p.enabled.Store(true)
	logger.Info("Prometheus metrics enabled", "endpoint", fmt.Sprintf("http://%s/metrics", ln.Addr()))
	return nil
}

// Addr returns the listening address once enabled
func (p *Exporter) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return p.addr
	}
	return p.listener.Addr().String()
}

// Disable stops the metrics server
func (p *Exporter) Disable() error {
	if !p.enabled.Load() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
		defer cancel()

		if err = p.server.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down Prometheus server", "error", err)
		}
		p.server = nil
		p.listener = nil
	}

	p.enabled.Store(false)
	logger.Info("Prometheus metrics disabled")
	return err
}

// IsEnabled returns whether the metrics server is running
func (p *Exporter) IsEnabled() bool {
	return p.enabled.Load()
}

func (p *Exporter) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if p.enabled.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"disabled"}`))
	}
}
