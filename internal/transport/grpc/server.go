package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthv1 "google.golang.org/grpc/health/grpc_health_v1"

	"payflow/internal/service"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "payflow.Engine"

// Pinger reports whether a dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes payflow.v1.PaymentService next to grpc.health.v1.Health.
// The reported status follows the database: SERVING while pings succeed,
// NOT_SERVING otherwise.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	db       Pinger
	addr     string
	interval time.Duration
	log      *slog.Logger
}

func NewServer(addr string, svc service.PaymentService, db Pinger, interval time.Duration, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &Server{
		srv:      grpc.NewServer(),
		health:   health.NewServer(),
		db:       db,
		addr:     addr,
		interval: interval,
		log:      log,
	}
	s.srv.RegisterService(&paymentServiceDesc, svc)
	healthv1.RegisterHealthServer(s.srv, s.health)
	s.setStatus(healthv1.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("gRPC server listening", "addr", s.addr)
	return s.Serve(ctx, lis)
}

// Serve runs the server on lis and keeps the health status current until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.check(ctx)
	go s.watch(ctx)
	return s.srv.Serve(lis)
}

func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	s.srv.GracefulStop()
	return nil
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.Ping(pingCtx); err != nil {
		s.log.Warn("health: database unreachable", "error", err)
		s.setStatus(healthv1.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthv1.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthv1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	s.health.SetServingStatus(PaymentServiceName, st)
}
