package interceptors

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenIDMetadataKey carries the caller's token id.
const TokenIDMetadataKey = "x-token-id"

// TokenRevocations reports whether a token id has been revoked.
type TokenRevocations interface {
	IsTokenRevoked(id int64) bool
}

// RevocationOptions fine-tunes interceptor behaviour.
type RevocationOptions struct {
	AllowMethods []string
	Logger       *zap.Logger
}

// RevocationInterceptor rejects calls made with a revoked token id.
type RevocationInterceptor struct {
	revocations TokenRevocations
	logger      *zap.Logger
	allow       map[string]struct{}
}

// NewRevocationInterceptor constructs a new RevocationInterceptor instance.
func NewRevocationInterceptor(revocations TokenRevocations, opts RevocationOptions) *RevocationInterceptor {
	allow := make(map[string]struct{}, len(opts.AllowMethods))
	for _, method := range opts.AllowMethods {
		if method = strings.TrimSpace(method); method != "" {
			allow[method] = struct{}{}
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RevocationInterceptor{revocations: revocations, logger: logger, allow: allow}
}

// UnaryServerInterceptor returns a unary interceptor. Calls without a token id pass through.
func (ri *RevocationInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if ri == nil || ri.revocations == nil {
			return handler(ctx, req)
		}
		if _, ok := ri.allow[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		raw, ok := firstMetadata(ctx, TokenIDMetadataKey)
		if !ok {
			return handler(ctx, req)
		}

		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "invalid token id metadata")
		}
		if ri.revocations.IsTokenRevoked(id) {
			ri.logger.Warn("gRPC call with revoked token", zap.String("method", info.FullMethod), zap.Int64("token_id", id))
			return nil, status.Error(codes.Unauthenticated, "token revoked")
		}

		return handler(ctx, req)
	}
}

func firstMetadata(ctx context.Context, key string) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get(key) {
		if value = strings.TrimSpace(value); value != "" {
			return value, true
		}
	}
	return "", false
}
