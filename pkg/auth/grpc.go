package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TrailerErrorCode carries the machine code of a rejected call.
const TrailerErrorCode = "x-auth-error-code"

// UnaryServerInterceptor authenticates unary calls from the authorization
// metadata and stores the Principal in the handler's context.
//
// Failures map to Unauthenticated, PermissionDenied, Unavailable or
// Internal, with the machine code in the [TrailerErrorCode] trailer.
func UnaryServerInterceptor(authn Authenticator, opts ...Option) grpc.UnaryServerInterceptor {
	cfg := newTransportConfig(opts)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := cfg.authenticateGRPC(ctx, authn)
		if err != nil {
			_ = grpc.SetTrailer(ctx, metadata.Pairs(TrailerErrorCode, MachineCode(err)))
			return nil, grpcError(err)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(authn Authenticator, opts ...Option) grpc.StreamServerInterceptor {
	cfg := newTransportConfig(opts)
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := cfg.authenticateGRPC(ss.Context(), authn)
		if err != nil {
			ss.SetTrailer(metadata.Pairs(TrailerErrorCode, MachineCode(err)))
			return grpcError(err)
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (c *transportConfig) authenticateGRPC(ctx context.Context, authn Authenticator) (context.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	var inbound string
	if ids := md.Get(HeaderRequestID); len(ids) > 0 {
		inbound = ids[0]
	}
	ctx = ContextWithRequestID(ctx, requestID(inbound))

	var token string
	if values := md.Get(HeaderAuthorization); len(values) > 0 {
		token = ExtractBearerToken(values[0])
	}

	p, err := c.authorize(ctx, authn, token)
	if err != nil {
		c.logRejection(ctx, "grpc", err)
		return ctx, err
	}
	return ContextWithPrincipal(ctx, p), nil
}

func grpcError(err error) error {
	return status.Error(grpcCode(err), PublicMessage(err))
}

// wrappedServerStream overrides Context so stream handlers see the
// Principal.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
