package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/lifecycle"

// DefaultCheckTimeout bounds each health check.
const DefaultCheckTimeout = 2 * time.Second

// Hook starts or stops one component. Hooks are called outside the state
// lock and may block until ctx is done.
type Hook func(ctx context.Context) error

// Check reports whether one dependency is usable. A nil error is healthy.
type Check func(ctx context.Context) error

// StateChangeHandler is called after every transition, under the state
// lock. Handlers must not call back into the Service.
type StateChangeHandler func(old, new State)

type component struct {
	name  string
	start Hook
	stop  Hook
}

type namedCheck struct {
	name  string
	check Check
}

// Service starts registered components in order and stops them in reverse.
// If a start hook fails, the components already started are stopped before
// Start returns. It is safe for concurrent use.
//
//	svc := lifecycle.New("authgate", lifecycle.WithLogger(logger))
//	svc.Add("postgres", connectDB, closeDB)
//	svc.Add("http", listen, shutdown)
//	svc.AddCheck("auth_service", pingAuth)
//	err := svc.Run(ctx, 10*time.Second)
type Service struct {
	name string

	mu         sync.RWMutex
	state      State
	startedAt  time.Time
	components []component
	checks     []namedCheck
	handlers   []StateChangeHandler

	checkTimeout time.Duration
	clock        clock.Clock
	logger       *slog.Logger
	tracer       trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// WithClock sets the time source for uptime reporting.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithCheckTimeout bounds each health check. Non-positive values keep
// [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.checkTimeout = d
		}
	}
}

// OnStateChange registers a handler for state transitions. A panicking
// handler is logged and does not affect the transition.
func OnStateChange(h StateChangeHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.handlers = append(s.handlers, h)
		}
	}
}

// New returns a Service in [StateUnknown] with no components.
func New(name string, opts ...Option) *Service {
	s := &Service{
		name:         name,
		state:        StateUnknown,
		checkTimeout: DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Add registers a component. Either hook may be nil. Components can only
// be added before the first Start.
//
// Error codes returned:
//   - [sserr.CodeValidation]: empty name
//   - [sserr.CodeConflict]: the service has already been started
func (s *Service) Add(name string, start, stop Hook) error {
	if name == "" {
		return sserr.New(sserr.CodeValidation, "lifecycle: component name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnknown {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: cannot add component %q in state %q", name, s.state)
	}
	s.components = append(s.components, component{name: name, start: start, stop: stop})
	return nil
}

// AddCheck registers a health check reported by [Service.Health].
//
// Error codes returned:
//   - [sserr.CodeValidation]: empty name or nil check
func (s *Service) AddCheck(name string, check Check) error {
	if name == "" || check == nil {
		return sserr.New(sserr.CodeValidation, "lifecycle: check name and function are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, namedCheck{name: name, check: check})
	return nil
}

func (s *Service) setState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next
	if next == StateRunning {
		s.startedAt = s.clock.Now().UTC()
	}

	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start runs every start hook in registration order and moves the service
// to [StateRunning].
//
// Error codes returned:
//   - [sserr.CodeTimeout]: ctx was done before startup began
//   - [sserr.CodeConflict]: the service is not in a startable state
//   - [sserr.CodeInternal]: a start hook failed; the service is Failed
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
	defer span.End()

	err := s.start(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.setState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service", "service", s.name)

	comps := s.snapshot()
	for i, c := range comps {
		if c.start == nil {
			continue
		}
		if err := c.start(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: component failed to start",
				"service", s.name, "component", c.name, "error", err)
			// Startup may have failed because ctx is done; teardown still runs.
			rollbackCtx := context.WithoutCancel(ctx)
			if stopErr := s.stopAll(rollbackCtx, comps[:i]); stopErr != nil {
				err = errors.Join(err, stopErr)
			}
			_ = s.setState(StateFailed)
			return sserr.Wrapf(err, sserr.CodeInternal,
				"lifecycle: component %q failed to start", c.name)
		}
		s.logger.DebugContext(ctx, "lifecycle: component started",
			"service", s.name, "component", c.name)
	}

	if err := s.setState(StateRunning); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: service running",
		"service", s.name, "components", len(comps))
	return nil
}

// Stop runs every stop hook in reverse registration order. All hooks run
// even if some fail. Stop on a service that never started or has already
// stopped is a no-op.
//
// Error codes returned:
//   - [sserr.CodeInternal]: one or more stop hooks failed; the service is Failed
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("service.name", s.name)),
	)
	defer span.End()

	state := s.State()
	if state == StateUnknown || state.IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.setState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	if err := s.stopAll(ctx, s.snapshot()); err != nil {
		_ = s.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop hooks failed")
	}

	if err := s.setState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) stopAll(ctx context.Context, comps []component) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		if c.stop == nil {
			continue
		}
		if err := c.stop(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: component failed to stop",
				"service", s.name, "component", c.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the service, blocks until ctx is done, then stops it with a
// fresh deadline of shutdownTimeout. A start failure is returned without
// waiting.
func (s *Service) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Service) snapshot() []component {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]component(nil), s.components...)
}

// Report is the health of a Service at one point in time.
type Report struct {
	Service string            `json:"service"`
	State   State             `json:"state"`
	Healthy bool              `json:"healthy"`
	Uptime  string            `json:"uptime,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health runs every registered check concurrently and reports the result.
// A service that is not running is unhealthy and its checks are skipped.
// Each check result is "ok" or the check's error text.
func (s *Service) Health(ctx context.Context) Report {
	s.mu.RLock()
	report := Report{Service: s.name, State: s.state}
	startedAt := s.startedAt
	checks := append([]namedCheck(nil), s.checks...)
	s.mu.RUnlock()

	if report.State != StateRunning {
		return report
	}
	report.Uptime = s.clock.Since(startedAt).Truncate(time.Second).String()
	report.Healthy = true
	if len(checks) == 0 {
		return report
	}

	results := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()
			results[i] = c.check(cctx)
		}()
	}
	wg.Wait()

	report.Checks = make(map[string]string, len(checks))
	for i, c := range checks {
		if results[i] != nil {
			report.Healthy = false
			report.Checks[c.name] = results[i].Error()
			continue
		}
		report.Checks[c.name] = "ok"
	}
	return report
}
