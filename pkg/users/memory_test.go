package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/internal/testutil/fixtures"
	"github.com/StricklySoft/authgate/pkg/identity"
)

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.CreateUser(ctx, &identity.User{ID: fixtures.UserID}))

	found, err := sess.FindUserByID(ctx, fixtures.UserID)
	require.NoError(t, err, "a session sees its own staged create")
	assert.Equal(t, fixtures.UserID, found.ID)
	assert.Equal(t, 0, store.Len(), "staged writes are invisible until commit")

	require.NoError(t, sess.Rollback(ctx))
	assert.Equal(t, 0, store.Len())
	assert.ErrorIs(t, sess.Commit(ctx), ErrSessionClosed, "a rolled-back session cannot commit")
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStore_CommitAppliesWrites(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(&identity.User{ID: fixtures.UserID, Role: fixtures.RoleStandard})
	ctx := context.Background()
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	sess, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpdateUserFields(ctx, fixtures.UserID, Fields{Role: fixtures.RoleAdmin, IsSuperuser: true, UpdatedAt: stamp}))
	require.NoError(t, sess.CreateUser(ctx, &identity.User{ID: fixtures.AltUserID}))
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Rollback(ctx), "rollback after commit is a no-op")
	assert.ErrorIs(t, sess.Commit(ctx), ErrSessionClosed)

	u, ok := store.Get(fixtures.UserID)
	require.True(t, ok)
	assert.Equal(t, fixtures.RoleAdmin, u.Role)
	assert.True(t, u.IsSuperuser)
	assert.Equal(t, stamp, u.UpdatedAt)
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_RacingCreates(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	a, _ := store.Begin(ctx)
	b, _ := store.Begin(ctx)
	require.NoError(t, a.CreateUser(ctx, &identity.User{ID: fixtures.NewcomerID}))
	require.NoError(t, b.CreateUser(ctx, &identity.User{ID: fixtures.NewcomerID}))

	require.NoError(t, a.Commit(ctx))
	assert.ErrorIs(t, b.Commit(ctx), ErrDuplicateUser)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(&identity.User{ID: fixtures.UserID})
	ctx := context.Background()

	sess, _ := store.Begin(ctx)
	_, err := sess.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, sess.UpdateUserFields(ctx, "missing", Fields{}), ErrUserNotFound)
	assert.ErrorIs(t, sess.CreateUser(ctx, &identity.User{ID: fixtures.UserID}), ErrDuplicateUser)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Begin(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(&identity.User{ID: fixtures.UserID, Role: fixtures.RoleStandard, Permissions: []string{fixtures.PermDocsRead}})

	u, _ := store.Get(fixtures.UserID)
	u.Role = fixtures.RoleAdmin
	u.Permissions[0] = fixtures.PermSystemAll

	again, _ := store.Get(fixtures.UserID)
	assert.Equal(t, fixtures.RoleStandard, again.Role)
	assert.Equal(t, []string{fixtures.PermDocsRead}, again.Permissions)
}
