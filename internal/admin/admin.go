// Package admin exposes a side-channel HTTP surface for health checks,
// cluster introspection, and Prometheus metrics. It never serves key
// reads or writes — those go over the framed socket protocol in
// internal/coordinator — this is purely operational tooling.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/metrics"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/internal/store"
)

// Server is the admin HTTP server for one node.
type Server struct {
	cfg       *config.Config
	ring      *ring.Ring
	store     *store.Store
	self      ring.Node
	log       *zap.SugaredLogger
	router    *mux.Router
	startTime time.Time
}

// NewServer builds the admin HTTP router for a node.
func NewServer(cfg *config.Config, r *ring.Ring, s *store.Store, self ring.Node, log *zap.SugaredLogger) *Server {
	srv := &Server{
		cfg:       cfg,
		ring:      r,
		store:     s,
		self:      self,
		log:       log,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	srv.routes()
	metrics.RingSize.Set(float64(r.Size()))
	return srv
}

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/ring", s.handleRing).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Handler returns the admin router for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"node":               s.self,
		"uptime":             time.Since(s.startTime).String(),
		"keys":               s.store.Count(),
		"ring_size":          s.ring.Size(),
		"replication_factor": s.cfg.ReplicationFactor,
		"virtual_nodes":      s.cfg.VirtualNodes,
		"quorum":             s.cfg.Quorum(),
	})
}

func (s *Server) handleRing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"nodes":             s.ring.Nodes(),
		"load_distribution": s.ring.LoadDistribution(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
