package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aboamare/mms-router/internal/auth"
	"github.com/aboamare/mms-router/internal/transport/ws"
	"github.com/aboamare/mms-router/pkg/router"
)

// Server represents the HTTP server: the agent WebSocket endpoint plus the health and admin API
type Server struct {
	router     router.Router
	handlers   *Handlers
	middleware *Middleware
	agents     *ws.Handler
	server     *http.Server
	logger     zerolog.Logger
}

// Config holds server configuration
type Config struct {
	Addr string
	// AdminSecret signs admin tokens. Empty disables the admin API.
	AdminSecret string
	WebSocket   ws.Options
	Logger      zerolog.Logger
}

// NewServer creates a new HTTP server
func NewServer(r router.Router, config Config) *Server {
	logger := config.Logger.With().Str("component", "http").Logger()

	var adminAuth *auth.AdminAuth
	if config.AdminSecret != "" {
		adminAuth = auth.NewAdminAuth(config.AdminSecret)
	}

	wsOpts := config.WebSocket
	wsOpts.Logger = config.Logger

	s := &Server{
		router:     r,
		handlers:   NewHandlers(r, logger),
		middleware: NewMiddleware(adminAuth, logger),
		agents:     ws.NewHandler(r, wsOpts),
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	return s
}

// Handler returns the routed handler, for use with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Agent connections
	mux.Handle("GET /ws", s.middleware.Recovery(s.middleware.Logging(s.agents.ServeHTTP)))

	// Health endpoint (no auth required)
	mux.Handle("GET /api/v1/health", api(s.handlers.Health))

	// Admin endpoints (admin token required)
	mux.Handle("GET /api/v1/admin/stats", api(s.middleware.AdminRequired(s.handlers.AdminGetStats)))
	mux.Handle("GET /api/v1/admin/agents", api(s.middleware.AdminRequired(s.handlers.AdminListAgents)))
	mux.Handle("DELETE /api/v1/admin/topics/{topic}/messages/{id}", api(s.middleware.AdminRequired(s.handlers.AdminDeleteMessage)))

	return mux
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener until Stop.
func (s *Server) Serve(lis net.Listener) error {
	err := s.server.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server. Hijacked WebSocket connections are closed by
// the router.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
