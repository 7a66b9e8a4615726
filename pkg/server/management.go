package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nimburion/mqttpersist/pkg/health"
	"github.com/nimburion/mqttpersist/pkg/observability/logger"
	"github.com/nimburion/mqttpersist/pkg/observability/metrics"
	"github.com/nimburion/mqttpersist/pkg/version"
)

// ManagementServer serves:
//   - GET /health: liveness, always 200
//   - GET /ready: runs the health registry, 503 when any check fails
//   - GET /metrics: Prometheus exposition
//   - GET /version: build metadata
type ManagementServer struct {
	*Server
	router          *mux.Router
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	info            version.Info
	logger          logger.Logger
}

// NewManagementServer wires the management routes. A nil health registry
// reports ready with no checks; a nil metrics registry disables /metrics.
func NewManagementServer(
	cfg Config,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	info version.Info,
) *ManagementServer {
	if healthRegistry == nil {
		healthRegistry = health.NewRegistry()
	}
	log = logger.OrNop(log).With("component", "management")

	s := &ManagementServer{
		router:          mux.NewRouter(),
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		info:            info,
		logger:          log,
	}
	s.registerEndpoints()
	s.Server = NewServer(cfg, s.router, log)
	return s
}

func (s *ManagementServer) registerEndpoints() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	if s.metricsRegistry != nil {
		s.router.Handle("/metrics", s.metricsRegistry.Handler()).Methods(http.MethodGet)
	}
}

// Router returns the underlying router for registering extra routes.
func (s *ManagementServer) Router() *mux.Router {
	return s.router
}

func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
}

func (s *ManagementServer) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, result)
}

func (s *ManagementServer) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.info)
}

func (s *ManagementServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
