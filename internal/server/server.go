// internal/server/server.go
package server

import (
	"context"
	"net/http"
	"time"

	"nutrition-bot/pkg/logger"
)

type Server struct {
	server *http.Server
	logger *logger.Logger
}

// NewServer exposes the payment webhook and a health check. A nil webhook
// leaves only the health check.
func NewServer(port string, webhook http.HandlerFunc, logger *logger.Logger) *Server {
	mux := http.NewServeMux()

	if webhook != nil {
		mux.HandleFunc("/webhook/stripe", webhook)
	}
	mux.HandleFunc("/health", health)

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		server: httpServer,
		logger: logger,
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Start() error {
	s.logger.Infow("Starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infow("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}
