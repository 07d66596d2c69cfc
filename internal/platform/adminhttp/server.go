// Package adminhttp provides the admin HTTP surface a long-lived
// enrichment process exposes for operability: /livez, /healthz,
// /readyz, /metrics, and /debug/runtime. Grounded on the teacher's
// infrastructure/service/runner.go http.Server-plus-graceful-shutdown
// wiring.
package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmesh-oss/enrich/internal/platform/logging"
	"github.com/flowmesh-oss/enrich/internal/platform/metrics"
	"github.com/flowmesh-oss/enrich/internal/platform/middleware"
)

// Server is the admin HTTP server.
type Server struct {
	httpServer *http.Server
	ready      *bool
	checker    *middleware.HealthChecker
}

// New builds the admin server, bound to addr, with ready initially false
// until SetReady(true) is called once startup asset downloads complete
// and the pause gate has opened for the first time (SPEC_FULL.md §10).
//
// /healthz runs the registered checks (see RegisterCheck) and reports
// 503 if any fail — distinct from /livez, which only proves the process
// is scheduled and answering HTTP at all.
func New(addr, serviceName, version string, logger *logging.Logger, m *metrics.Metrics) *Server {
	ready := new(bool)
	checker := middleware.NewHealthChecker(version)

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(serviceName, m))

	router.HandleFunc("/livez", middleware.LivenessHandler())
	router.HandleFunc("/healthz", checker.Handler())
	router.HandleFunc("/readyz", middleware.ReadinessHandler(ready))
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/debug/runtime", runtimeStatsHandler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ready:   ready,
		checker: checker,
	}
}

// SetReady flips the /readyz outcome.
func (s *Server) SetReady(ready bool) {
	*s.ready = ready
}

// RegisterCheck adds a named dependency check that /healthz runs on
// every request (e.g. the asset manager's last-refresh outcome).
func (s *Server) RegisterCheck(name string, check func() error) {
	s.checker.RegisterCheck(name, check)
}

func runtimeStatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(middleware.RuntimeStats())
}

// Start runs the server in the background; errors other than
// http.ErrServerClosed are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
