// Package httpapi exposes the operational HTTP surface: liveness,
// service status, and Prometheus metrics. Business routes live with the
// API gateway, not here.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/events"
	"voicecall-server/pkg/metrics"
)

// StatusProvider exposes the runtime figures reported on /status
type StatusProvider interface {
	QueueDepth() int
	CacheSize() int
	StreamState() events.ConnState
	Metrics() metrics.AggregateMetrics
}

// Config holds HTTP server configuration
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server serves health, status, and metrics endpoints
type Server struct {
	config     Config
	logger     *logrus.Logger
	provider   StatusProvider
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

type statusResponse struct {
	Status      string                   `json:"status"`
	UptimeSecs  float64                  `json:"uptime_seconds"`
	QueueDepth  int                      `json:"queue_depth"`
	CacheSize   int                      `json:"cache_size"`
	StreamState events.ConnState         `json:"stream_state"`
	Calls       metrics.AggregateMetrics `json:"calls"`
}

// NewServer creates the operational HTTP server
func NewServer(logger *logrus.Logger, config Config, provider StatusProvider) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	server := &Server{
		config:    config,
		logger:    logger,
		provider:  provider,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.healthHandler)
	mux.HandleFunc("/status", server.statusHandler)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.Handler().ServeHTTP(w, r)
	})
	server.mux = mux

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// Handler returns the route mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	response := statusResponse{
		Status:      "ok",
		UptimeSecs:  time.Since(s.startTime).Seconds(),
		QueueDepth:  s.provider.QueueDepth(),
		CacheSize:   s.provider.CacheSize(),
		StreamState: s.provider.StreamState(),
		Calls:       s.provider.Metrics(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.WithError(err).Error("Failed to encode status response")
	}
}
