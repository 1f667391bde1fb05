// Package server exposes the machine over the network and to editors: a
// Connect (HTTP/JSON and binary protobuf) service, the same service over
// plain gRPC, and a stdio language server for bytecode files.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"

	"github.com/chazu/stackvm/host"
)

var log = commonlog.GetLogger("stackvm.server")

var errRunnerStopped = errors.New("runner stopped")

// Server wraps a Host. It serves Connect on an HTTP listener and the same
// service over gRPC on a second listener.
type Server struct {
	runner  *Runner
	service *MachineService
	mux     *http.ServeMux
	grpc    *grpc.Server

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	history        History
	handlerOptions []connect.HandlerOption
	grpcOptions    []grpc.ServerOption
}

// WithHistory enables the History procedure.
func WithHistory(h History) ServerOption {
	return func(c *serverConfig) { c.history = h }
}

// WithHandlerOptions sets options for the Connect handlers.
func WithHandlerOptions(opts ...connect.HandlerOption) ServerOption {
	return func(c *serverConfig) { c.handlerOptions = append(c.handlerOptions, opts...) }
}

// WithGRPCOptions sets options for the gRPC server.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(c *serverConfig) { c.grpcOptions = append(c.grpcOptions, opts...) }
}

// New creates a Server running programs on h.
func New(h *host.Host, opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	runner := NewRunner(h)
	svc := NewMachineService(runner, cfg.history)

	s := &Server{
		runner:  runner,
		service: svc,
		mux:     http.NewServeMux(),
		grpc:    grpc.NewServer(cfg.grpcOptions...),
	}
	s.httpServer = &http.Server{Handler: s.mux}

	// Register Connect handlers
	s.mux.Handle(SubmitProcedure, connect.NewUnaryHandler(SubmitProcedure, svc.Submit, cfg.handlerOptions...))
	s.mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, svc.Check, cfg.handlerOptions...))
	s.mux.Handle(HistoryProcedure, connect.NewUnaryHandler(HistoryProcedure, svc.History, cfg.handlerOptions...))

	RegisterGRPC(s.grpc, svc)

	return s
}

// Handler returns the Connect HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GRPCServer returns the gRPC server.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpc
}

// Service returns the machine service.
func (s *Server) Service() *MachineService {
	return s.service
}

// ListenAndServe starts the Connect HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeHTTP(lis)
}

// ServeHTTP serves the Connect handlers on lis until Stop is called.
func (s *Server) ServeHTTP(lis net.Listener) error {
	fmt.Printf("stackvm server listening on %s\n", lis.Addr())
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", lis.Addr(), SubmitProcedure)
	return s.httpServer.Serve(lis)
}

// ServeGRPC serves the gRPC service on lis until Stop is called.
func (s *Server) ServeGRPC(lis net.Listener) error {
	fmt.Printf("  gRPC (binary):       grpc://%s\n", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServeAll serves Connect on httpAddr and gRPC on grpcAddr until
// ctx is done or either listener fails.
func (s *Server) ListenAndServeAll(ctx context.Context, httpAddr, grpcAddr string) error {
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", httpAddr, err)
	}
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listening on %s: %w", grpcAddr, err)
	}
	return s.ServeAll(ctx, httpLis, grpcLis)
}

// ServeAll serves Connect on httpLis and gRPC on grpcLis. Cancelling ctx
// stops both and returns nil; a listener failure stops both and returns
// the error.
func (s *Server) ServeAll(ctx context.Context, httpLis, grpcLis net.Listener) error {
	errs := make(chan error, 2)
	go func() { errs <- s.ServeGRPC(grpcLis) }()
	go func() { errs <- s.ServeHTTP(httpLis) }()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errs:
		if isServerClosed(err) {
			err = nil
		} else {
			log.Errorf("server stopped: %s", err)
		}
	}
	s.Stop()
	return err
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, grpc.ErrServerStopped)
}

// Stop shuts down the server. It is safe to call more than once.
func (s *Server) Stop() {
	s.httpServer.Close()
	s.grpc.Stop()
	s.runner.Stop()
}
