package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"campusvote.org/internal/election"
	"campusvote.org/internal/identity"
	"campusvote.org/internal/obs"
)

// GRPCServer serves grpc.health.v1.Health, with a status that follows
// readiness, and the read-only election service.
type GRPCServer struct {
	Server *grpc.Server

	health   *health.Server
	ready    Checker
	interval time.Duration
}

// NewGRPCServer registers health and, when svc is non-nil, the election
// service behind bearer authentication.
func NewGRPCServer(svc *election.Service, tokens *identity.Tokens, ready Checker, opts ...grpc.ServerOption) *GRPCServer {
	if ready == nil {
		ready = Probes{}
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryLogging, UnaryErrors, UnaryAuth(tokens)))
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if svc != nil {
		srv.RegisterService(&electionsServiceDesc, &electionsRPC{svc: svc})
	}
	return &GRPCServer{Server: srv, health: hs, ready: ready, interval: 5 * time.Second}
}

// Refresh runs the readiness check once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.ready.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().WithError(err).Warn("readiness check failed")
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
	s.health.SetServingStatus(ElectionsServiceName, st)
}

// WatchReadiness refreshes health until ctx is done.
func (s *GRPCServer) WatchReadiness(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Shutdown marks every service as not serving and stops gracefully.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}

var kindCodes = map[election.Kind]codes.Code{
	election.KindValidation:       codes.InvalidArgument,
	election.KindNotFound:         codes.NotFound,
	election.KindForbidden:        codes.PermissionDenied,
	election.KindDuplicateVote:    codes.AlreadyExists,
	election.KindInvalidCandidate: codes.FailedPrecondition,
	election.KindPartialCommit:    codes.DataLoss,
}

// codeFor maps domain errors onto gRPC status codes.
func codeFor(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if _, ok := status.FromError(err); ok {
		return status.Code(err)
	}
	if c, ok := kindCodes[election.KindOf(err)]; ok {
		return c
	}
	return codes.Internal
}

// UnaryErrors converts domain errors returned by handlers into gRPC statuses.
func UnaryErrors(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err == nil {
		return resp, nil
	}
	if _, ok := status.FromError(err); ok {
		return resp, err
	}
	c := codeFor(err)
	msg := err.Error()
	if c == codes.Internal {
		msg = "internal error"
	}
	return resp, status.Error(c, msg)
}

func UnaryLogging(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := obs.Logger().WithFields(logrus.Fields{
		"method":      info.FullMethod,
		"code":        status.Code(err).String(),
		"duration_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
	if err != nil {
		entry.WithError(err).Warn("grpc request")
	} else {
		entry.Debug("grpc request")
	}
	return resp, err
}
