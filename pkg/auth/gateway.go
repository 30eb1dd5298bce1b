// Package auth authenticates requests by delegating token validation to the
// external auth service and reconciling the result with local user records.
//
// [Gateway] is the core. Each Authenticate call runs the same pipeline:
//
//	reuse check -> upstream validation -> user reconciliation -> Principal
//
// [Evaluator] answers permission and admin questions about the resulting
// [Principal]. [HTTPMiddleware], [WebSocketHandler] and the gRPC
// interceptors put the pipeline in front of handlers and translate its
// errors into transport responses that never leak internal detail.
package auth

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
	"github.com/StricklySoft/authgate/pkg/identity"
	"github.com/StricklySoft/authgate/pkg/replay"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/auth"

// TokenValidator asks the external auth service about a token.
// *authservice.Client implements it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (identity.ValidationResult, error)
}

// ReuseGuard rejects tokens presented again within the minimum interval.
// Release hands back a recorded use that ended in a system failure.
// *replay.Guard implements it.
type ReuseGuard interface {
	CheckAndRecord(ctx context.Context, token, userID string) (replay.Decision, error)
	Release(ctx context.Context, token, userID string) error
}

// UserReconciler maps validated claims to a local user.
// *users.Reconciler implements it.
type UserReconciler interface {
	Reconcile(ctx context.Context, claims identity.ValidationResult) (*identity.User, error)
}

// Authenticator turns a raw token into a Principal. The transports depend
// on it rather than on *Gateway.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*Principal, error)
}

// Outcomes recorded as auth.outcome on the auth.Authenticate span.
const (
	outcomeAuthenticated   = "authenticated"
	outcomeMissingToken    = "missing_token"
	outcomeReuseRejected   = "reuse_rejected"
	outcomeReuseCheckError = "reuse_check_failed"
	outcomeUpstreamError   = "upstream_unavailable"
	outcomeInvalid         = "invalid_token"
	outcomeInvalidPayload  = "invalid_payload"
	outcomeReconcileError  = "reconcile_failed"
)

// Gateway authenticates raw bearer tokens. It keeps no per-request state
// and is safe for concurrent use.
type Gateway struct {
	validator  TokenValidator
	guard      ReuseGuard
	reconciler UserReconciler
	evaluator  Evaluator

	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithClock sets the time source for Principal.AuthenticatedAt.
func WithClock(c clock.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) GatewayOption {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}

// NewGateway wires the three stages of the pipeline together.
//
// Error codes returned:
//   - [sserr.CodeValidation]: a dependency is nil
func NewGateway(validator TokenValidator, guard ReuseGuard, reconciler UserReconciler, opts ...GatewayOption) (*Gateway, error) {
	switch {
	case validator == nil:
		return nil, sserr.New(sserr.CodeValidation, "auth: token validator is required")
	case guard == nil:
		return nil, sserr.New(sserr.CodeValidation, "auth: reuse guard is required")
	case reconciler == nil:
		return nil, sserr.New(sserr.CodeValidation, "auth: user reconciler is required")
	}

	g := &Gateway{validator: validator, guard: guard, reconciler: reconciler}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.tracer == nil {
		g.tracer = otel.Tracer(tracerName)
	}
	return g, nil
}

// Authenticate validates rawToken and returns the principal it belongs to.
// Nothing is retried here and nothing is cached between calls.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationMissing]: rawToken is empty
//   - [sserr.CodeAuthenticationReuse]: the token was presented too recently
//   - [sserr.CodeAuthenticationInvalid]: the auth service rejected the token
//   - [sserr.CodeAuthenticationPayload]: the auth service accepted it without a user id
//   - [sserr.CodeUnavailableDependency]: the reuse store failed
//   - UNAVAIL_004..006: the auth service could not answer
//   - [sserr.CodeUnavailableDatabase], [sserr.CodeInternalDatabase],
//     [sserr.CodeInternalUserCreation]: reconciliation failed
func (g *Gateway) Authenticate(ctx context.Context, rawToken string) (*Principal, error) {
	ctx, span := g.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	p, outcome, err := g.authenticate(ctx, rawToken)
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_code", sserr.GetCode(err).String()))
		span.SetStatus(codes.Error, outcome)
		g.logFailure(ctx, outcome, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("user.id", p.User.ID))
	span.SetStatus(codes.Ok, "")
	return p, nil
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*Principal, string, error) {
	if token == "" {
		return nil, outcomeMissingToken, sserr.New(sserr.CodeAuthenticationMissing, "missing token")
	}

	hint := userHint(token)
	decision, err := g.guard.CheckAndRecord(ctx, token, hint)
	if err != nil {
		if !sserr.IsUnavailable(err) {
			err = sserr.Wrap(err, sserr.CodeUnavailableDependency, "token reuse store unavailable")
		}
		return nil, outcomeReuseCheckError, err
	}
	if !decision.Allowed {
		return nil, outcomeReuseRejected, sserr.New(sserr.CodeAuthenticationReuse, "token reuse detected")
	}

	claims, err := g.validator.Validate(ctx, token)
	if err != nil {
		if !sserr.IsUnavailable(err) {
			err = sserr.ServiceUnavailable(err, "auth service unavailable")
		}
		g.release(ctx, token, hint)
		return nil, outcomeUpstreamError, err
	}
	if !claims.Valid {
		return nil, outcomeInvalid, sserr.New(sserr.CodeAuthenticationInvalid, "invalid or expired token")
	}
	if claims.UserID == "" {
		return nil, outcomeInvalidPayload, sserr.New(sserr.CodeAuthenticationPayload, "invalid token payload")
	}

	user, err := g.reconciler.Reconcile(ctx, claims)
	if err != nil {
		g.release(ctx, token, hint)
		return nil, outcomeReconcileError, err
	}
	return &Principal{User: user, Claims: claims, AuthenticatedAt: g.clock.Now().UTC()}, outcomeAuthenticated, nil
}

// release hands the reuse reservation back after a system-side failure so
// the caller's retry is not reported as token reuse. The request still
// fails with the original error; a failed release is only logged, and the
// reservation then lapses with the window.
func (g *Gateway) release(ctx context.Context, token, hint string) {
	if err := g.guard.Release(context.WithoutCancel(ctx), token, hint); err != nil {
		g.logger.WarnContext(ctx, "auth: reuse reservation not released", "error", err)
	}
}

// logFailure logs expected rejections at Debug and outages at Error. The
// token never appears in the record.
func (g *Gateway) logFailure(ctx context.Context, outcome string, err error) {
	if sserr.IsAuthentication(err) {
		g.logger.DebugContext(ctx, "auth: authentication rejected",
			"outcome", outcome, "code", sserr.GetCode(err))
		return
	}
	g.logger.ErrorContext(ctx, "auth: authentication failed",
		"outcome", outcome, "code", sserr.GetCode(err), "error", err)
}

// RequirePermission authenticates rawToken and checks that the principal
// holds permission.
//
// Error codes returned: those of Authenticate, plus
// [sserr.CodeAuthorizationDenied].
func (g *Gateway) RequirePermission(ctx context.Context, rawToken, permission string) (*Principal, error) {
	p, err := g.Authenticate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if err := g.evaluator.Require(p, permission); err != nil {
		g.logger.DebugContext(ctx, "auth: permission denied",
			"user_id", p.ID(), "permission", permission)
		return nil, err
	}
	return p, nil
}

// RequireAdmin authenticates rawToken and checks that the principal is an
// administrator.
//
// Error codes returned: those of Authenticate, plus
// [sserr.CodeAuthorizationAdmin].
func (g *Gateway) RequireAdmin(ctx context.Context, rawToken string) (*Principal, error) {
	p, err := g.Authenticate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if err := g.evaluator.RequireAdmin(p); err != nil {
		g.logger.DebugContext(ctx, "auth: admin required", "user_id", p.ID())
		return nil, err
	}
	return p, nil
}
