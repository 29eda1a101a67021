// Package api serves the metrics export endpoint of the monitoring client.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ShutdownTimeout bounds the graceful shutdown of the server.
const ShutdownTimeout = 5 * time.Second

// SourceStatus describes one supervised monitor.
type SourceStatus struct {
	Monitor       string `json:"monitor"`
	BrokerAddress string `json:"amqp_server"`
	Iterations    int64  `json:"connection_attempts"`
	Events        int64  `json:"events_received"`
}

// Status is the body of the /status endpoint.
type Status struct {
	StartedAt time.Time      `json:"started_at"`
	Uptime    string         `json:"uptime"`
	Gateways  int            `json:"known_gateways"`
	Sources   []SourceStatus `json:"sources"`
}

// StatusFunc reports the current process status.
type StatusFunc func() Status

// Server serves /metrics, /health and /status.
type Server struct {
	server *http.Server
	status StatusFunc
	logger *zap.Logger
}

// NewServer creates a server for addr that exposes the metrics of gatherer.
// status may be nil, in which case /status is not served.
func NewServer(addr string, gatherer prometheus.Gatherer, status StatusFunc, logger *zap.Logger) *Server {
	s := &Server{
		status: status,
		logger: logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if status != nil {
		mux.HandleFunc("/status", s.handleStatus)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background. A bind
// failure is returned.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	go func() {
		s.logger.Info("serving metrics", zap.Stringer("addr", ln.Addr()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops the server, waiting at most ShutdownTimeout for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.status())
}
