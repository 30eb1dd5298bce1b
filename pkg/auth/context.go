package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	principalKey contextKey = iota
	requestIDKey
)

// ContextWithPrincipal returns a copy of ctx carrying p. Transports call it
// after a successful Authenticate.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the principal stored by a transport. It
// never returns a nil principal with true.
//
//	p, ok := auth.PrincipalFromContext(r.Context())
//	if !ok {
//	    return sserr.Unauthorized("not authenticated")
//	}
//	slog.InfoContext(ctx, "request", "user_id", p.ID())
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// MustPrincipalFromContext is PrincipalFromContext for handlers that sit
// behind the authentication middleware. It panics when no principal is
// present.
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return p
}

// ContextWithRequestID returns a copy of ctx carrying the request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the id set by a transport, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok && id != ""
}

// TraceIDFromContext returns the active OpenTelemetry trace id as hex.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

// SpanIDFromContext returns the active OpenTelemetry span id as hex.
func SpanIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasSpanID() {
		return "", false
	}
	return spanCtx.SpanID().String(), true
}
