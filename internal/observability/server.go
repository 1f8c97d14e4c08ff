// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the bridge is ready to serve clients.
type ReadinessChecker func() bool

// Package-level collectors so the device registry, watcher and admission
// pipeline can record events without holding a Server reference.
var (
	trackerReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracedeck_tracker_reconnects_total",
		Help: "Total number of tracking stream reconnects after daemon hangups",
	})

	pluginAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedeck_plugin_admissions_total",
			Help: "Total number of plugin admission outcomes by bucket",
		},
		[]string{"outcome"},
	)

	devicesLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracedeck_devices_live",
		Help: "Number of live (non-archived) devices in the registry",
	})

	devicesArchived = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracedeck_devices_archived",
		Help: "Number of archived devices retained in the registry",
	})

	registryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracedeck_registry_actions_total",
			Help: "Total number of registry mutation actions by kind",
		},
		[]string{"kind"},
	)
)

// RecordTrackerReconnect increments the tracking reconnect counter.
// Called by the device watcher when the daemon drops the stream.
func RecordTrackerReconnect() {
	trackerReconnects.Inc()
}

// RecordAdmission increments the admission outcome counter for one bucket.
func RecordAdmission(outcome string) {
	pluginAdmissions.WithLabelValues(outcome).Inc()
}

// SetDeviceCounts updates the live and archived device gauges. Called by
// the device registry after every mutation.
func SetDeviceCounts(live, archived int) {
	devicesLive.Set(float64(live))
	devicesArchived.Set(float64(archived))
}

// RecordRegistryAction increments the registry mutation counter for one
// action kind.
func RecordRegistryAction(kind string) {
	registryActions.WithLabelValues(kind).Inc()
}

// Metrics exposes the bridge collectors for scraping and tests.
type Metrics struct {
	DevicesLive     prometheus.Gauge
	DevicesArchived prometheus.Gauge
	ActionsTotal    *prometheus.CounterVec
}

// NewMetrics registers the bridge collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DevicesLive:     devicesLive,
		DevicesArchived: devicesArchived,
		ActionsTotal:    registryActions,
	}

	reg.MustRegister(m.DevicesLive)
	reg.MustRegister(m.DevicesArchived)
	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(trackerReconnects)
	reg.MustRegister(pluginAdmissions)

	return m
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format, e.g. "127.0.0.1:9600".
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	// Own registry to avoid polluting the global one.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := NewMetrics(registry)

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  metrics,
		isReady:  readinessChecker,
	}
}

// Metrics returns the custom metrics for recording bridge events.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints. It returns an error channel
// receiving HTTP server failures; the channel is closed on graceful stop.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state so the server can be stopped again.
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on, or "" if stopped.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}
