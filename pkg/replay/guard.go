package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/replay"

// ReasonReuse is the rejection reason for a repeat inside the window.
const ReasonReuse = "token reuse detected"

// Decision is the outcome of a reuse check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Store atomically checks and records fingerprints.
type Store interface {
	// CheckAndRecord reports whether fp may be used at now. If the last
	// allowed use of fp is less than window ago it returns false and
	// leaves the record untouched; otherwise it records now and returns
	// true. The check and the record must be atomic per fingerprint.
	CheckAndRecord(ctx context.Context, fp string, now time.Time, window time.Duration) (bool, error)

	// Release forgets the record for fp. Releasing an unknown fingerprint
	// is not an error.
	Release(ctx context.Context, fp string) error
}

// Fingerprint derives the tracking key for a token and user: the hex
// SHA-256 of token, a zero byte and userID. The raw token cannot be
// recovered from it.
func Fingerprint(token, userID string) string {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

// Guard rejects tokens reused within MinInterval. It is safe for
// concurrent use.
type Guard struct {
	store       Store
	clock       clock.Clock
	minInterval time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock sets the time source. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(g *Guard) { g.clock = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Guard) { g.tracer = tp.Tracer(tracerName) }
}

// NewGuard builds a Guard over store.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration or nil store
func NewGuard(store Store, cfg Config, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, sserr.New(sserr.CodeValidation, "replay: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "replay: invalid configuration")
	}

	g := &Guard{
		store:       store,
		minInterval: cfg.MinInterval,
	}
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

// MinInterval returns the configured reuse window.
func (g *Guard) MinInterval() time.Duration {
	return g.minInterval
}

// CheckAndRecord decides whether token may be used now by userID. The first
// use of a fingerprint is always allowed. A rejected use does not move the
// window.
//
// A store failure is returned as [sserr.CodeUnavailableDependency]; callers
// must treat it as a failed check, not as an allowed one.
func (g *Guard) CheckAndRecord(ctx context.Context, token, userID string) (Decision, error) {
	ctx, span := g.tracer.Start(ctx, "replay.CheckAndRecord")
	defer span.End()

	fp := Fingerprint(token, userID)
	allowed, err := g.store.CheckAndRecord(ctx, fp, g.clock.Now(), g.minInterval)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reuse store failed")
		g.logger.ErrorContext(ctx, "replay: reuse store failed", "fingerprint", fp[:12], "error", err)
		return Decision{}, sserr.Wrap(err, sserr.CodeUnavailableDependency, "replay: reuse store unavailable")
	}

	span.SetAttributes(attribute.Bool("replay.allowed", allowed))
	span.SetStatus(codes.Ok, "")
	if !allowed {
		g.logger.DebugContext(ctx, "replay: token reuse rejected",
			"fingerprint", fp[:12], "window", g.minInterval)
		return Decision{Allowed: false, Reason: ReasonReuse}, nil
	}
	return Decision{Allowed: true}, nil
}

// Release gives back the use recorded by the last allowed CheckAndRecord
// for token and userID, so the caller may present the token again at once.
// It is for uses that failed on the system side, such as an auth service
// outage, and so never produced a principal. A use rejected as invalid
// must not be released.
//
// Error codes returned:
//   - [sserr.CodeUnavailableDependency]: the store failed
func (g *Guard) Release(ctx context.Context, token, userID string) error {
	ctx, span := g.tracer.Start(ctx, "replay.Release")
	defer span.End()

	fp := Fingerprint(token, userID)
	if err := g.store.Release(ctx, fp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reuse store failed")
		g.logger.WarnContext(ctx, "replay: failed to release reservation", "fingerprint", fp[:12], "error", err)
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "replay: reuse store unavailable")
	}
	span.SetStatus(codes.Ok, "")
	g.logger.DebugContext(ctx, "replay: reservation released", "fingerprint", fp[:12])
	return nil
}
