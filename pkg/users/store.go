// Package users reconciles validated token claims with the gateway's local
// user records.
//
// On first sight of a user id the [Reconciler] creates a non-privileged
// record. On later logins it brings the stored role and superuser flag in
// line with the claims, logging every elevation at [LevelSecurityAudit]. A
// failed sync never blocks a login: the caller gets the record as it was
// before the sync.
//
// Storage sits behind [Store] and [Session]. [PostgresStore] is the
// production backend; [MemoryStore] serves development and tests.
package users

import (
	"context"
	"errors"
	"time"

	"github.com/StricklySoft/authgate/pkg/identity"
)

var (
	// ErrUserNotFound is returned by Session.FindUserByID and
	// Session.UpdateUserFields when no row has the id.
	ErrUserNotFound = errors.New("users: user not found")

	// ErrDuplicateUser is returned by Session.CreateUser or Session.Commit
	// when another transaction created the same id first.
	ErrDuplicateUser = errors.New("users: user already exists")

	// ErrSessionClosed is returned by Session.Commit when the session has
	// already ended.
	ErrSessionClosed = errors.New("users: session already ended")
)

// Fields are the columns a claims sync may change.
type Fields struct {
	Role        string
	IsSuperuser bool
	UpdatedAt   time.Time
}

// Store opens transactional sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
}

// Session is one transaction. It must end with exactly one Commit or
// Rollback; Rollback after Commit is a no-op, while Commit on an ended
// session fails with ErrSessionClosed. A Session is not safe for
// concurrent use.
type Session interface {
	FindUserByID(ctx context.Context, id string) (*identity.User, error)
	CreateUser(ctx context.Context, user *identity.User) error
	UpdateUserFields(ctx context.Context, id string, fields Fields) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
