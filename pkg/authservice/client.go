package authservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
	"github.com/StricklySoft/authgate/pkg/identity"
)

const (
	tracerName = "github.com/StricklySoft/authgate/pkg/authservice"

	// maxResponseBytes caps how much of an answer is decoded.
	maxResponseBytes = 1 << 20
)

// Client validates tokens against the external auth service. It is safe for
// concurrent use; the HTTP connection pool and the breaker counters are
// shared by all callers.
type Client struct {
	cfg         Config
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker
	logger      *slog.Logger
	tracer      trace.Tracer
	tp          trace.TracerProvider
	validateURL string
	healthURL   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTracerProvider sets the provider used for client spans and for the
// otelhttp transport. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

type validateRequest struct {
	Token string `json:"token"`
}

// New validates cfg and builds a Client.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "authservice: invalid configuration")
	}

	c := &Client{
		cfg:         cfg,
		validateURL: cfg.endpoint(cfg.ValidatePath),
		healthURL:   cfg.endpoint(cfg.HealthPath),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tp == nil {
		c.tp = otel.GetTracerProvider()
	}
	c.tracer = c.tp.Tracer(tracerName)
	if c.http == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		c.http = &http.Client{
			Transport: otelhttp.NewTransport(transport, otelhttp.WithTracerProvider(c.tp)),
		}
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "authservice",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("authservice: circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c, nil
}

// Validate asks the auth service whether token is valid.
//
// An explicit rejection (HTTP 401 or 403) is a normal answer: the result has
// Valid false and the error is nil. Errors are reserved for failing to get
// an answer.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationMissing]: token is empty
//   - [sserr.CodeUnavailableAuthTimeout]: every attempt timed out
//   - [sserr.CodeUnavailableAuthService]: the service is unreachable or
//     answered 5xx
//   - [sserr.CodeUnavailableCircuitOpen]: the breaker is open
//   - [sserr.CodeInternalUpstreamResponse]: the answer could not be used
func (c *Client) Validate(ctx context.Context, token string) (identity.ValidationResult, error) {
	ctx, span := c.tracer.Start(ctx, "authservice.Validate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("authservice.endpoint", c.validateURL)),
	)
	defer span.End()

	if token == "" {
		err := sserr.New(sserr.CodeAuthenticationMissing, "missing token")
		span.SetStatus(codes.Error, err.Error())
		return identity.ValidationResult{}, err
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.validateWithRetry(ctx, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = sserr.Wrap(err, sserr.CodeUnavailableCircuitOpen, "auth service circuit open")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return identity.ValidationResult{}, err
	}

	result := out.(identity.ValidationResult)
	span.SetAttributes(attribute.Bool("authservice.valid", result.Valid))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Available reports whether the auth service answers its health endpoint
// with a 2xx status within HealthTimeout. It never returns an error.
func (c *Client) Available(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "authservice.Available", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	ok := c.probe(ctx)
	span.SetAttributes(attribute.Bool("authservice.available", ok))
	return ok
}

// BreakerState returns the breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "authservice: health probe failed", "error", err)
		return false
	}
	defer drain(resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (c *Client) validateWithRetry(ctx context.Context, token string) (identity.ValidationResult, error) {
	var (
		result   identity.ValidationResult
		attempts int
	)
	op := func() error {
		attempts++
		r, err := c.attempt(ctx, token)
		if err != nil {
			return err
		}
		result = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.DebugContext(ctx, "authservice: retrying validation",
			"attempt", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, c.retryPolicy(ctx), notify)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("authservice.attempts", attempts))
	if err != nil {
		return identity.ValidationResult{}, classify(err)
	}
	return result, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBackoff
	b.MaxInterval = 20 * c.cfg.RetryBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

// attempt performs one bounded validation request. Errors that retrying
// cannot fix are wrapped with backoff.Permanent.
func (c *Client) attempt(ctx context.Context, token string) (identity.ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return identity.ValidationResult{}, backoff.Permanent(
			sserr.Wrap(err, sserr.CodeInternal, "authservice: failed to encode request"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.validateURL, bytes.NewReader(body))
	if err != nil {
		return identity.ValidationResult{}, backoff.Permanent(
			sserr.Wrap(err, sserr.CodeInternal, "authservice: failed to build request"))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return identity.ValidationResult{}, backoff.Permanent(transportError(err))
		}
		return identity.ValidationResult{}, transportError(err)
	}
	defer drain(resp.Body)

	switch status := resp.StatusCode; {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		var rejected identity.ValidationResult
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&rejected)
		return identity.ValidationResult{Valid: false, Error: rejected.Error}, nil
	case status >= 500:
		return identity.ValidationResult{}, sserr.ServiceUnavailable(nil, "auth service returned an error").
			WithDetail("status", status)
	case status < 200 || status >= 300:
		return identity.ValidationResult{}, backoff.Permanent(malformed(nil).WithDetail("status", status))
	}

	var result identity.ValidationResult
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		if ctx.Err() != nil {
			return identity.ValidationResult{}, transportError(ctx.Err())
		}
		return identity.ValidationResult{}, backoff.Permanent(malformed(err))
	}
	return result.Normalize(), nil
}

func malformed(err error) *sserr.Error {
	const msg = "auth service returned a malformed response"
	if err == nil {
		return sserr.New(sserr.CodeInternalUpstreamResponse, msg)
	}
	return sserr.Wrap(err, sserr.CodeInternalUpstreamResponse, msg)
}

func transportError(err error) *sserr.Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return sserr.ServiceUnavailable(err, "auth service call canceled")
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return sserr.Wrap(err, sserr.CodeUnavailableAuthTimeout, "auth service timed out")
	}
	return sserr.ServiceUnavailable(err, "auth service unavailable")
}

// classify makes sure whatever the retry loop hands back is a structured
// error. The loop returns the bare context error when the caller's context
// ends between attempts.
func classify(err error) error {
	if _, ok := sserr.AsError(err); ok {
		return err
	}
	return transportError(err)
}

// drain discards the rest of body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseBytes))
	_ = body.Close()
}
