// Package server implements the gRPC server for the launcherd daemon.
package server

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/shenzihan666/search/api/launcherpb"
	"github.com/shenzihan666/search/service"
)

// Server is the gRPC server for launcherd.
type Server struct {
	grpcServer *grpc.Server
	service    *service.Service
	logger     zerolog.Logger

	startedAt  time.Time
	socketPath string
}

var _ launcherpb.QueryServiceServer = (*Server)(nil)

// Config holds server configuration options.
type Config struct {
	SocketPath string
	Logger     zerolog.Logger
}

// New creates a new gRPC server.
func New(cfg Config, svc *service.Service) *Server {
	s := &Server{
		service:    svc,
		logger:     cfg.Logger.With().Str("component", "grpc-server").Logger(),
		socketPath: cfg.SocketPath,
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.loggingInterceptor),
		grpc.ChainStreamInterceptor(s.streamLoggingInterceptor),
	)

	launcherpb.RegisterQueryServiceServer(s.grpcServer, s)

	// Enable reflection for debugging tools like grpcurl
	reflection.Register(s.grpcServer)

	return s
}

// Serve starts the gRPC server on the given listener.
func (s *Server) Serve(listener net.Listener) error {
	s.startedAt = time.Now()
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Starting gRPC server")
	return s.grpcServer.Serve(listener)
}

// ServeUnix starts the server on a Unix domain socket, replacing a stale
// socket file left by a previous run.
func (s *Server) ServeUnix(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	s.socketPath = socketPath
	return s.Serve(listener)
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// GracefulStop gracefully stops the server.
func (s *Server) GracefulStop() {
	s.logger.Info().Msg("Gracefully stopping gRPC server")
	s.grpcServer.GracefulStop()
}

// Shutdown stops gracefully, forcing a stop when in-flight RPCs outlast
// grace. Streams wait on vendors for minutes, so a plain graceful stop can
// hold the daemon open long after a signal.
func (s *Server) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn().Dur("grace", grace).Msg("Graceful stop timed out, forcing stop")
		s.Stop()
		<-done
	}
}

// Stop immediately stops the server.
func (s *Server) Stop() {
	s.logger.Info().Msg("Stopping gRPC server")
	s.grpcServer.Stop()
}

// loggingInterceptor logs unary RPC calls.
func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Err(err).
			Msg("RPC failed")
	} else {
		s.logger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Msg("RPC completed")
	}

	return resp, err
}

// streamLoggingInterceptor logs streaming RPC calls.
func (s *Server) streamLoggingInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	s.logger.Debug().
		Str("method", info.FullMethod).
		Bool("server_stream", info.IsServerStream).
		Msg("Stream started")

	err := handler(srv, ss)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Err(err).
			Msg("Stream failed")
	} else {
		s.logger.Debug().
			Str("method", info.FullMethod).
			Dur("duration", duration).
			Msg("Stream completed")
	}

	return err
}
