package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/homework-scanner/internal/common"
)

// ScannerService is the health service name reported alongside the overall status.
const ScannerService = "homework.scanner"

// CheckFunc probes a dependency; a non-nil error marks the service NOT_SERVING.
type CheckFunc func(ctx context.Context) error

// GRPCServer carries the standard health service for orchestrators.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
	logger *slog.Logger
}

func NewGRPCServer(logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GRPCServer{health: health.NewServer(), logger: logger}
	g.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(g.logUnary))
	healthpb.RegisterHealthServer(g.srv, g.health)
	reflection.Register(g.srv)
	g.SetServing(true)
	return g
}

// SetServing flips both the overall and the scanner service status.
func (g *GRPCServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", st)
	g.health.SetServingStatus(ScannerService, st)
}

// Monitor runs check every interval until ctx is done, updating the status on change.
func (g *GRPCServer) Monitor(ctx context.Context, interval time.Duration, check CheckFunc) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	serving := true
	for {
		err := check(ctx)
		if ok := err == nil; ok != serving {
			serving = ok
			g.SetServing(ok)
			g.logger.Warn("grpc.health.changed", "serving", ok, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (g *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	g.logger.Debug("grpc.request",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

// Serve listens on addr until ctx is done, then stops gracefully.
func (g *GRPCServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return common.WrapError(err, "grpc listen")
	}
	return g.ServeListener(ctx, lis)
}

func (g *GRPCServer) ServeListener(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("grpc.listening", "addr", lis.Addr().String())
		errCh <- g.srv.Serve(lis)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	g.health.Shutdown()
	g.srv.GracefulStop()
	<-errCh
	g.logger.Info("grpc.stopped")
	return nil
}
