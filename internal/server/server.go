package server

import (
	"context"
	"net/http"
	"time"

	"webhook-delivery/internal/common/logging"
)

// Server wraps the operational HTTP listener.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server for the operational surface on the given port.
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in the background. Listen errors other than a
// clean shutdown are logged; the process keeps delivering either way.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("operational server stopped", err)
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
