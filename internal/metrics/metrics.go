// Package metrics exposes the Prometheus collectors for request latency,
// request counts, and backend health, and the dedicated /metrics HTTP
// server on metrics_port.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tos-network/rpc-gateway/internal/util"
)

// Metrics holds the collectors the proxy reports against.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	backendHealth   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New builds and registers the collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rpc_request_duration_seconds",
			Help:    "Duration of proxied JSON-RPC requests.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"rpc_method", "backend"}),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rpc_requests_total",
			Help: "Total proxied JSON-RPC requests.",
		}, []string{"method", "status", "rpc_method", "backend"}),

		backendHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rpc_backend_health",
			Help: "1 if the backend is currently healthy, 0 otherwise.",
		}, []string{"backend"}),

		registry: registry,
	}

	registry.MustRegister(m.requestDuration, m.requestsTotal, m.backendHealth)
	return m
}

// ObserveRequest records one proxied request's duration and outcome.
func (m *Metrics) ObserveRequest(rpcMethod, backend, httpMethod string, status int, duration time.Duration) {
	m.requestDuration.WithLabelValues(rpcMethod, backend).Observe(duration.Seconds())
	m.requestsTotal.WithLabelValues(httpMethod, strconv.Itoa(status), rpcMethod, backend).Inc()
}

// SetBackendHealth publishes the gauge for a backend's current health.
func (m *Metrics) SetBackendHealth(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.backendHealth.WithLabelValues(backend).Set(v)
}

// Server serves GET /metrics on its own dedicated port, separate from the
// HTTP proxy and WebSocket bridge listeners.
type Server struct {
	bind   string
	server *http.Server
	m      *Metrics
}

// NewServer builds the metrics HTTP server.
func NewServer(bind string, m *Metrics) *Server {
	return &Server{bind: bind, m: m}
}

// Start begins serving /metrics.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.m.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{Addr: s.bind, Handler: mux}
	util.Infof("metrics server listening on %s", s.bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("metrics server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
