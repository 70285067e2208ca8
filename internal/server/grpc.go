package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"company-claims/backend/internal/audit"
	claimhandler "company-claims/backend/internal/claim/handler"
	claimservice "company-claims/backend/internal/claim/service"
	"company-claims/backend/internal/security"
	"company-claims/backend/internal/server/interceptors"
)

// HealthMethods are served without authentication and never audited.
var HealthMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_List_FullMethodName:  true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Deps holds the services registered on the gRPC server.
type Deps struct {
	// Claims backs ClaimService. If nil, claim RPCs return Unimplemented.
	Claims *claimservice.Service
	// Health is the standard grpc.health.v1 server. If nil, health is not registered.
	Health *health.Server
}

// Options configures the interceptor chain built by NewGRPCServer.
type Options struct {
	Tokens *security.TokenProvider
	// Audit records one entry per authenticated RPC. May be nil.
	Audit  audit.AuditLogger
	Logger *zap.Logger
}

// NewGRPCServer returns a server with OTel instrumentation, bearer auth and auditing.
func NewGRPCServer(opts Options, extra ...grpc.ServerOption) *grpc.Server {
	chain := []grpc.UnaryServerInterceptor{
		interceptors.AuthUnary(opts.Tokens, HealthMethods, opts.Logger),
	}
	if opts.Audit != nil {
		chain = append(chain, interceptors.AuditUnary(opts.Audit, HealthMethods))
	}
	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, extra...)
	return grpc.NewServer(serverOpts...)
}

// RegisterServices registers ClaimService and, when set, grpc.health.v1.Health.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	claimhandler.RegisterClaimServiceServer(s, claimhandler.NewServer(deps.Claims))
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
