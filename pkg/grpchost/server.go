// Package grpchost serves a harness as a gRPC Function service.
package grpchost

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/3s-rg-codes/apexrt/pkg/harness"
	"github.com/3s-rg-codes/apexrt/pkg/shim"
	"github.com/3s-rg-codes/apexrt/pkg/utils"
)

type Option func(*Server)

// WithIdleTimeout stops the server after d without calls. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithServerOptions appends options to the underlying grpc.Server.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, opts...)
	}
}

type Server struct {
	invoker harness.Invoker
	logger  *slog.Logger

	idleTimeout time.Duration
	serverOpts  []grpc.ServerOption

	server *grpc.Server
	health *health.Server

	// one invocation at a time
	invokeMu sync.Mutex

	activityMu   sync.RWMutex
	lastActivity time.Time
	inFlight     atomic.Int64

	fatal chan error
}

func New(invoker harness.Invoker, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		invoker: invoker,
		logger:  logger,
		health:  health.NewServer(),
		fatal:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = grpc.NewServer(s.buildServerOptions()...)
	RegisterFunctionServer(s.server, s)
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

func (s *Server) buildServerOptions() []grpc.ServerOption {
	options := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.unaryActivityInterceptor, utils.InterceptorLogger(s.logger)),
	}
	return append(options, s.serverOpts...)
}

// Invoke implements FunctionServer.
func (s *Server) Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := shim.ParseRequest(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.invokeMu.Lock()
	res := s.invoker.Invoke(ctx, req.Invocation())
	s.invokeMu.Unlock()

	body, err := json.Marshal(shim.NewResponse(res))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}

	if res.Fatal() {
		select {
		case s.fatal <- res.Err():
		default:
		}
	}
	return wrapperspb.Bytes(body), nil
}

// Serve accepts calls on lis until ctx is cancelled, the idle timeout fires or an
// invocation turns out fatal. The fatal failure is returned.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.updateActivity()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	served := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(served)
		s.logger.Info("Function gRPC server starting", "address", lis.Addr().String(), "idle_timeout", s.idleTimeout)
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.watch(ctx, served)
	})

	return g.Wait()
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) watch(ctx context.Context, served <-chan struct{}) error {
	var tick <-chan time.Time
	if s.idleTimeout > 0 {
		interval := time.Second
		if s.idleTimeout < 2*interval {
			interval = s.idleTimeout / 2
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-served:
			return nil
		case <-ctx.Done():
			s.Stop()
			return nil
		case err := <-s.fatal:
			s.logger.Error("Fatal invocation, shutting down", "error", err)
			s.Stop()
			return err
		case <-tick:
			if s.inFlight.Load() > 0 {
				continue
			}
			if inactive := s.idleFor(); inactive >= s.idleTimeout {
				s.logger.Info("Server timeout reached, shutting down",
					"timeout", s.idleTimeout,
					"last_activity", inactive)
				s.Stop()
				return nil
			}
		}
	}
}

func (s *Server) unaryActivityInterceptor(
	ctx context.Context,
	req any,
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	s.inFlight.Add(1)
	s.updateActivity()
	defer func() {
		s.updateActivity()
		s.inFlight.Add(-1)
	}()
	return handler(ctx, req)
}

func (s *Server) updateActivity() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

func (s *Server) idleFor() time.Duration {
	s.activityMu.RLock()
	defer s.activityMu.RUnlock()
	return time.Since(s.lastActivity)
}
