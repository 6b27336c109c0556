// Package proxyhttp implements the HTTP JSON-RPC proxy pipeline: method
// extraction, request logging, metrics, credential/rate limit enforcement,
// backend selection, and forwarding.
package proxyhttp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tos-network/rpc-gateway/internal/apm"
	"github.com/tos-network/rpc-gateway/internal/credential"
	"github.com/tos-network/rpc-gateway/internal/health"
	"github.com/tos-network/rpc-gateway/internal/metrics"
	"github.com/tos-network/rpc-gateway/internal/routing"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// TableSource returns the currently active routing-table snapshot,
// satisfied by *supervisor.Supervisor.
type TableSource interface {
	Table() *routing.Table
}

// Server is the HTTP proxy's gin engine plus its lifecycle.
type Server struct {
	router *gin.Engine
	server *http.Server
	bind   string
}

// NewServer builds the gin engine and registers the proxy pipeline: POST
// /*path (which also matches POST /) and GET /health. apmAgent may be nil
// when APM reporting is disabled.
func NewServer(bind string, tables TableSource, gate credential.Gate, healthState *health.State, m *metrics.Metrics, apmAgent *apm.Agent) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestIDMiddleware())
	router.Use(methodExtractorMiddleware())
	router.Use(requestLoggerMiddleware())
	router.Use(metricsMiddleware(m))

	h := &proxyHandler{tables: tables, gate: gate, apmAgent: apmAgent}
	router.POST("/*path", h.handle)

	hh := &healthHandler{tables: tables, state: healthState}
	router.GET("/health", hh.handle)

	return &Server{router: router, bind: bind}
}

// Start begins serving HTTP in a background goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.bind,
		Handler: s.router,
	}

	util.Infof("HTTP proxy listening on %s", s.bind)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Errorf("HTTP proxy server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http proxy: %w", err)
	}
	return nil
}
