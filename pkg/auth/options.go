package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// Option configures HTTPMiddleware, WebSocketHandler and the gRPC
// interceptors.
type Option func(*transportConfig)

type transportConfig struct {
	permission    string
	adminRequired bool
	checkOrigin   func(*http.Request) bool
	logger        *slog.Logger
	evaluator     Evaluator
}

// WithRequiredPermission rejects principals that do not hold permission.
func WithRequiredPermission(permission string) Option {
	return func(c *transportConfig) { c.permission = permission }
}

// WithAdminRequired rejects principals that are not administrators.
func WithAdminRequired() Option {
	return func(c *transportConfig) { c.adminRequired = true }
}

// WithCheckOrigin sets the WebSocket upgrader's origin check. Without it
// the upgrader rejects cross-origin requests.
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *transportConfig) { c.checkOrigin = fn }
}

// WithTransportLogger sets the logger used for rejected requests.
func WithTransportLogger(l *slog.Logger) Option {
	return func(c *transportConfig) { c.logger = l }
}

func newTransportConfig(opts []Option) *transportConfig {
	c := &transportConfig{}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// authorize authenticates token and applies the configured checks.
func (c *transportConfig) authorize(ctx context.Context, authn Authenticator, token string) (*Principal, error) {
	p, err := authn.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	if c.adminRequired {
		if err := c.evaluator.RequireAdmin(p); err != nil {
			return nil, err
		}
	}
	if c.permission != "" {
		if err := c.evaluator.Require(p, c.permission); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// logRejection logs server-side failures at Warn and client failures at
// Debug. The gateway has already logged the cause.
func (c *transportConfig) logRejection(ctx context.Context, transport string, err error) {
	requestID, _ := RequestIDFromContext(ctx)
	attrs := []any{
		"transport", transport,
		"request_id", requestID,
		"code", MachineCode(err),
	}
	switch classify(err) {
	case classUnauthorized, classForbidden:
		c.logger.DebugContext(ctx, "auth: request rejected", attrs...)
	default:
		c.logger.WarnContext(ctx, "auth: request failed", append(attrs, "error", err)...)
	}
}

// requestID returns a sanitised inbound id or a fresh one.
func requestID(inbound string) string {
	if inbound != "" && len(inbound) <= 128 {
		return inbound
	}
	return uuid.NewString()
}
