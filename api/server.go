// Package api exposes the read-only status surface: health, status snapshot,
// and prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatusSnapshot is the engine state reported by GET /status.
type StatusSnapshot struct {
	TotalDetections  uint64  `json:"total_detections"`
	StoredDetections int     `json:"stored_detections"`
	ActiveRules      int     `json:"active_rules"`
	ActivePatterns   int     `json:"active_patterns"`
	BlockSetSize     int     `json:"block_set_size"`
	ThrottledTargets int     `json:"throttled_targets"`
	AvgDecisionMs    float64 `json:"avg_decision_latency_ms"`
	ScorerTimeoutPct float64 `json:"scorer_timeout_rate_pct"`
	CatalogLoadedAt  string  `json:"catalog_loaded_at"`
}

// SnapshotProvider produces the current status snapshot.
type SnapshotProvider interface {
	Snapshot() StatusSnapshot
}

// StatusServer serves the read-only status endpoints.
type StatusServer struct {
	server   *http.Server
	provider SnapshotProvider
	logger   *zap.SugaredLogger
}

// NewStatusServer creates the status server on host:port.
func NewStatusServer(host string, port int, provider SnapshotProvider, logger *zap.SugaredLogger) *StatusServer {
	s := &StatusServer{provider: provider, logger: logger}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *StatusServer) Start() {
	go func() {
		s.logger.Infow("Status server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Status server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the router for tests.
func (s *StatusServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.provider.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		s.logger.Errorw("Failed to encode status snapshot", "error", err)
	}
}
