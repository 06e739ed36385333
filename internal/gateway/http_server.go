package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/cogbot/internal/observability"
)

func (s *Server) startHTTPServer() error {
	if s == nil || s.config == nil || !s.config.Metrics.Enabled {
		return nil
	}

	addr := s.config.Metrics.Addr
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(s.promRegistry))
	mux.HandleFunc("/healthz", s.handleHealthz)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	if s == nil || s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
	s.httpListener = nil
}

type healthStatus struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Uptime     string   `json:"uptime"`
	Channels   []string `json:"channels"`
	Extensions int      `json:"extensions"`
	Commands   int      `json:"commands"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := healthStatus{
		Status:     "ok",
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Channels:   []string{},
		Extensions: len(s.manager.Extensions()),
		Commands:   len(s.registry.Names()),
	}
	if s.channels != nil {
		for _, a := range s.channels.All() {
			status.Channels = append(status.Channels, string(a.Type()))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status) //nolint:errcheck
}
