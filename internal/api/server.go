package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlasfx/trading-engine/internal/metrics"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// StatsProvider supplies the status endpoints with live engine state.
type StatsProvider interface {
	PipelineStats() any
	DetectorStats() any
	OnboardingStates() any
}

// Server is the operational HTTP surface: health, status, metrics, and the
// websocket event stream.
type Server struct {
	logger *zap.Logger
	cfg    types.ServerConfig
	hub    *Hub
	stats  StatsProvider

	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// NewServer builds the status server.
func NewServer(logger *zap.Logger, cfg types.ServerConfig, hub *Hub, stats StatsProvider) *Server {
	s := &Server{
		logger: logger.Named("api-server"),
		cfg:    cfg,
		hub:    hub,
		stats:  stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/detectors", s.handleDetectors).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/onboarding", s.handleOnboarding).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket)
	if cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	}

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api_server_started", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":     "ok",
		"ws_clients": s.hub.ClientCount(),
		"time":       time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.PipelineStats())
}

func (s *Server) handleDetectors(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.DetectorStats())
}

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.stats.OnboardingStates())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 64)}
	s.hub.register <- c
	s.hub.serveClient(c)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response_encode_failed", zap.Error(err))
	}
}
