package transportgrpc

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/arklim/platform-authz/internal/transport/grpc/interceptors"
)

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Validator      Validator
	Revocations    grpcinterceptors.TokenRevocations
	Logger         *zap.Logger
	Metrics        *grpcinterceptors.GRPCMetrics
	TracerProvider trace.TracerProvider
	Health         *health.Server
	// PublicMethods skip the token revocation check.
	PublicMethods []string
}

// NewServer wires the permission service, health and reflection behind the interceptor chain.
func NewServer(deps ServerDependencies) (*grpc.Server, error) {
	if deps.Validator == nil {
		return nil, fmt.Errorf("permission validator is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	revocation := grpcinterceptors.NewRevocationInterceptor(deps.Revocations, grpcinterceptors.RevocationOptions{
		Logger:       logger,
		AllowMethods: append([]string{healthpb.Health_Check_FullMethodName, healthpb.Health_Watch_FullMethodName}, deps.PublicMethods...),
	})

	server := grpc.NewServer(
		grpcinterceptors.TracingServerOption(grpcinterceptors.TracingOptions{
			TracerProvider: deps.TracerProvider,
			Propagators:    otel.GetTextMapPropagator(),
		}),
		grpc.ChainUnaryInterceptor(
			deps.Metrics.UnaryServerInterceptor(),
			revocation.UnaryServerInterceptor(),
		),
	)

	RegisterPermissionServiceServer(server, NewPermissionServer(deps.Validator, logger))

	healthServer := deps.Health
	if healthServer == nil {
		healthServer = health.NewServer()
	}
	healthServer.SetServingStatus(PermissionServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	return server, nil
}
