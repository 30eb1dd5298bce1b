package users

import (
	"context"
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
	"github.com/StricklySoft/authgate/pkg/identity"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/users"

// Reconciliation outcomes recorded on the users.Reconcile span.
const (
	outcomeCreated    = "created"
	outcomeExisting   = "existing"
	outcomeUnchanged  = "unchanged"
	outcomeSynced     = "synced"
	outcomeSyncFailed = "sync_failed"
	outcomeRaced      = "raced"
)

// Reconciler loads or creates the local user for a set of validated
// claims. It holds no per-call state and is safe for concurrent use; every
// call runs in its own Session.
type Reconciler struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the time source for CreatedAt and UpdatedAt.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) { r.clock = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reconciler) { r.tracer = tp.Tracer(tracerName) }
}

// NewReconciler builds a Reconciler over store.
//
// Error codes returned:
//   - [sserr.CodeValidation]: invalid configuration or nil store
func NewReconciler(store Store, cfg Config, opts ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, sserr.New(sserr.CodeValidation, "users: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "users: invalid configuration")
	}

	r := &Reconciler{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = clock.New()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r, nil
}

// Reconcile returns the local user for claims, creating or syncing it as
// needed. claims must be a valid result carrying a user id.
//
// Error codes returned:
//   - [sserr.CodeAuthenticationPayload]: claims carry no user id
//   - [sserr.CodeUnavailableDatabase]: the lookup timed out or the store is down
//   - [sserr.CodeInternalDatabase]: the lookup failed otherwise
//   - [sserr.CodeInternalUserCreation]: auto-create failed
//
// A failed sync is not an error; the pre-sync user is returned.
func (r *Reconciler) Reconcile(ctx context.Context, claims identity.ValidationResult) (*identity.User, error) {
	ctx, span := r.tracer.Start(ctx, "users.Reconcile",
		trace.WithAttributes(attribute.String("user.id", claims.UserID)))
	defer span.End()

	user, outcome, err := r.reconcile(ctx, claims)
	span.SetAttributes(attribute.String("users.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return user, nil
}

func (r *Reconciler) reconcile(ctx context.Context, claims identity.ValidationResult) (*identity.User, string, error) {
	if claims.UserID == "" {
		return nil, "", sserr.New(sserr.CodeAuthenticationPayload, "invalid token payload")
	}

	sess, err := r.begin(ctx)
	if err != nil {
		return nil, "", sserr.Database(err, "users: failed to begin session")
	}

	var user *identity.User
	err = r.bounded(ctx, func(ctx context.Context) error {
		var findErr error
		user, findErr = sess.FindUserByID(ctx, claims.UserID)
		return findErr
	})
	switch {
	case errors.Is(err, ErrUserNotFound):
		return r.create(ctx, sess, claims)
	case err != nil:
		r.rollback(ctx, sess)
		return nil, "", sserr.Database(err, "users: failed to look up user")
	}

	return r.sync(ctx, sess, user, claims)
}

// create inserts a non-privileged user for claims. sess has already seen
// the id as absent.
func (r *Reconciler) create(ctx context.Context, sess Session, claims identity.ValidationResult) (*identity.User, string, error) {
	now := r.clock.Now().UTC()
	user := &identity.User{
		ID:          claims.UserID,
		Email:       r.email(claims),
		Role:        r.initialRole(claims.Role),
		IsSuperuser: false,
		Permissions: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.bounded(ctx, func(ctx context.Context) error { return sess.CreateUser(ctx, user) })
	if err == nil {
		err = r.bounded(ctx, sess.Commit)
	}
	if err == nil {
		r.logger.InfoContext(ctx, "users: created local user",
			"user_id", user.ID, "role", user.Role)
		return user.Clone(), outcomeCreated, nil
	}

	r.rollback(ctx, sess)
	if errors.Is(err, ErrDuplicateUser) {
		return r.reread(ctx, claims.UserID, err)
	}
	r.logger.ErrorContext(ctx, "users: failed to create local user",
		"user_id", claims.UserID, "error", err)
	return nil, "", sserr.UserCreation(err, claims.UserID)
}

// reread loads a user another request created while this one was trying
// to. It uses a fresh session because the failed one is unusable.
func (r *Reconciler) reread(ctx context.Context, id string, dupErr error) (*identity.User, string, error) {
	r.logger.DebugContext(ctx, "users: concurrent create detected, re-reading", "user_id", id)

	sess, err := r.begin(ctx)
	if err != nil {
		return nil, "", sserr.Database(err, "users: failed to begin session")
	}
	defer r.rollback(ctx, sess)

	var user *identity.User
	err = r.bounded(ctx, func(ctx context.Context) error {
		var findErr error
		user, findErr = sess.FindUserByID(ctx, id)
		return findErr
	})
	switch {
	case errors.Is(err, ErrUserNotFound):
		return nil, "", sserr.UserCreation(dupErr, id)
	case err != nil:
		return nil, "", sserr.Database(err, "users: failed to look up user")
	}
	return user, outcomeRaced, nil
}

// sync aligns the stored role and superuser flag with claims. Claims that
// carry no authorisation data leave the record alone. Failures are logged
// and the pre-sync user is returned.
func (r *Reconciler) sync(ctx context.Context, sess Session, user *identity.User, claims identity.ValidationResult) (*identity.User, string, error) {
	if !claims.HasAuthorizationData() {
		r.rollback(ctx, sess)
		return user, outcomeExisting, nil
	}

	target := Fields{Role: user.Role, IsSuperuser: claims.GrantsAdmin()}
	if claims.Role != "" {
		target.Role = claims.Role
	}
	if target.Role == user.Role && target.IsSuperuser == user.IsSuperuser {
		r.rollback(ctx, sess)
		return user, outcomeUnchanged, nil
	}

	before := user.Clone()
	target.UpdatedAt = r.clock.Now().UTC()
	err := r.bounded(ctx, func(ctx context.Context) error {
		return sess.UpdateUserFields(ctx, user.ID, target)
	})
	if err == nil {
		err = r.bounded(ctx, sess.Commit)
	}
	if err != nil {
		r.rollback(ctx, sess)
		r.logger.ErrorContext(ctx, "users: claims sync failed, continuing with stored record",
			"user_id", user.ID, "error", err)
		return before, outcomeSyncFailed, nil
	}

	synced := user.Clone()
	synced.Role = target.Role
	synced.IsSuperuser = target.IsSuperuser
	synced.UpdatedAt = target.UpdatedAt

	if synced.HasAdminRole() && !before.HasAdminRole() ||
		synced.IsSuperuser && !before.IsSuperuser {
		r.logger.Log(ctx, LevelSecurityAudit, "users: privileges elevated from token claims",
			"user_id", user.ID,
			"old_role", before.Role, "new_role", synced.Role,
			"old_is_superuser", before.IsSuperuser, "new_is_superuser", synced.IsSuperuser,
		)
	} else {
		r.logger.InfoContext(ctx, "users: synced user from claims",
			"user_id", user.ID, "old_role", before.Role, "new_role", synced.Role,
			"is_superuser", synced.IsSuperuser)
	}
	return synced, outcomeSynced, nil
}

func (r *Reconciler) begin(ctx context.Context) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()
	return r.store.Begin(ctx)
}

func (r *Reconciler) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.OperationTimeout)
	defer cancel()
	return fn(ctx)
}

// rollback ends sess even when ctx is already done.
func (r *Reconciler) rollback(ctx context.Context, sess Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.OperationTimeout)
	defer cancel()
	if err := sess.Rollback(ctx); err != nil {
		r.logger.WarnContext(ctx, "users: rollback failed", "error", err)
	}
}

func (r *Reconciler) email(claims identity.ValidationResult) string {
	if claims.Email != "" {
		return claims.Email
	}
	return "user_" + claims.UserID + "@" + r.cfg.PlaceholderEmailDomain
}

func (r *Reconciler) initialRole(claimed string) string {
	if claimed == "" || identity.IsAdminRole(claimed) {
		return r.cfg.DefaultRole
	}
	return claimed
}
