package server

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ClientSecretHeader is the gRPC metadata key carrying the client secret.
const ClientSecretHeader = "x-client-secret"

// Health probes stay open so that supervisors need no secret.
var openMethodPrefixes = []string{
	"/grpc.health.v1.Health/",
}

// ClientSecretInterceptor returns a gRPC unary server interceptor that
// validates the x-client-secret metadata header. An empty secret disables
// authentication.
func ClientSecretInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkClientSecret(ctx, secret, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// ClientSecretStreamInterceptor is the streaming counterpart of
// ClientSecretInterceptor; it guards health Watch and reflection.
func ClientSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkClientSecret(ss.Context(), secret, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkClientSecret(ctx context.Context, secret, method string) error {
	if secret == "" {
		return nil
	}
	for _, prefix := range openMethodPrefixes {
		if strings.HasPrefix(method, prefix) {
			return nil
		}
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(ClientSecretHeader)
	if len(vals) == 0 {
		return status.Error(codes.Unauthenticated, "missing x-client-secret")
	}
	if subtle.ConstantTimeCompare([]byte(vals[0]), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid x-client-secret")
	}
	return nil
}
