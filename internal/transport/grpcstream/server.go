package grpcstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aboamare/mms-router/pkg/router"
)

// Server exposes a router to agents over gRPC.
type Server struct {
	config *Config
	router router.Router
	logger zerolog.Logger

	grpcServer *grpc.Server

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewServer creates a Server with the given configuration
func NewServer(r router.Router, config *Config) (*Server, error) {
	if r == nil {
		return nil, errors.New("router cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Make a copy and set defaults
	configCopy := *config
	configCopy.SetDefaults()

	s := &Server{
		config: &configCopy,
		router: r,
		logger: configCopy.Logger.With().Str("component", "grpc").Logger(),
	}
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(configCopy.MaxMessageSize),
		grpc.MaxSendMsgSize(configCopy.MaxMessageSize),
	)
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()
	return nil
}

// Serve accepts agent streams on lis until Close.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("server is closed")
	}
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc transport listening")
	err := s.grpcServer.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// GetListeningAddress returns the bound address, or the configured one before Start.
func (s *Server) GetListeningAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddress
}

// Connect serves one agent stream until either side closes it.
func (s *Server) Connect(stream grpc.ServerStream) error {
	a := newAgent(stream.Context(), s.config.SendQueueSize)
	defer a.cancel()

	if err := s.router.Connect(a.ctx, a); err != nil {
		return err
	}
	defer s.router.Disconnect(context.Background(), a)

	logger := s.logger.With().Str("agent", a.ID()).Logger()
	logger.Info().Msg("agent connected")
	defer func() { logger.Info().Str("mrn", a.MRN()).Msg("agent disconnected") }()

	received := make(chan error, 1)
	go func() { received <- s.receive(a, stream, logger) }()

	for {
		select {
		case <-a.ctx.Done():
			return nil
		case err := <-received:
			return err
		case value := <-a.queue:
			if err := stream.SendMsg(value); err != nil {
				return err
			}
		}
	}
}

func (s *Server) receive(a *Agent, stream grpc.ServerStream, logger zerolog.Logger) error {
	for {
		value := &structpb.Value{}
		if err := stream.RecvMsg(value); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame, err := fromValue(value)
		if err != nil {
			logger.Warn().Err(err).Msg("unreadable frame")
			continue
		}
		if err := s.router.Process(a.ctx, a, frame); err != nil {
			logger.Warn().Err(err).Str("mrn", a.MRN()).Msg("protocol message rejected")
		}
	}
}

// Close stops the server and ends every stream. Safe to call multiple times.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.grpcServer.Stop()
	return nil
}

var _ StreamHandler = (*Server)(nil)
