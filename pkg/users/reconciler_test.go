package users

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/internal/testutil"
	"github.com/StricklySoft/authgate/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/authgate/pkg/errors"
	"github.com/StricklySoft/authgate/pkg/identity"
)

// ===========================================================================
// Mock Implementation
// ===========================================================================

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Begin(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	sess, _ := args.Get(0).(Session)
	return sess, args.Error(1)
}

type mockSession struct {
	mock.Mock
}

func (m *mockSession) FindUserByID(ctx context.Context, id string) (*identity.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*identity.User)
	return u, args.Error(1)
}

func (m *mockSession) CreateUser(ctx context.Context, user *identity.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockSession) UpdateUserFields(ctx context.Context, id string, fields Fields) error {
	return m.Called(ctx, id, fields).Error(0)
}

func (m *mockSession) Commit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) Rollback(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// ===========================================================================
// Helpers
// ===========================================================================

var epoch = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

type harness struct {
	reconciler *Reconciler
	clock      *clock.Mock
	logs       *bytes.Buffer
}

func newHarness(t *testing.T, store Store) *harness {
	t.Helper()
	mc := clock.NewMock()
	mc.Set(epoch)

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: ReplaceLevel,
	}))

	r, err := NewReconciler(store, DefaultConfig(), WithClock(mc), WithLogger(logger))
	require.NoError(t, err)
	return &harness{reconciler: r, clock: mc, logs: logs}
}

func storedUser(id, role string, superuser bool) *identity.User {
	return &identity.User{
		ID:          id,
		Email:       id + "@example.org",
		Role:        role,
		IsSuperuser: superuser,
		Permissions: []string{},
		CreatedAt:   epoch.Add(-24 * time.Hour),
		UpdatedAt:   epoch.Add(-24 * time.Hour),
	}
}

// ===========================================================================
// Auto-create
// ===========================================================================

func TestReconcile_CreatesNewUser(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	h := newHarness(t, store)
	claims := identity.ValidationResult{
		Valid:       true,
		UserID:      "u1",
		Email:       "u1@x.com",
		Role:        fixtures.RoleStandard,
		Permissions: []string{"chat:send"},
	}

	user, err := h.reconciler.Reconcile(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "u1@x.com", user.Email)
	assert.Equal(t, fixtures.RoleStandard, user.Role)
	assert.False(t, user.IsSuperuser)
	assert.Empty(t, user.Permissions)
	assert.Equal(t, epoch, user.CreatedAt)

	stored, ok := store.Get("u1")
	require.True(t, ok)
	assert.Equal(t, user, stored)

	h.clock.Add(2 * time.Second)
	again, err := h.reconciler.Reconcile(context.Background(), claims)
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, epoch, again.CreatedAt, "the second login must not re-create the row")
	assert.Equal(t, 1, store.Len())
}

func TestReconcile_PlaceholderEmail(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	h := newHarness(t, store)

	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "user_u2@example.com", user.Email)
	assert.Equal(t, DefaultRole, user.Role)
}

func TestReconcile_NewUserIsNeverPrivileged(t *testing.T) {
	t.Parallel()

	for _, role := range []string{fixtures.RoleAdmin, fixtures.RoleSuperAdmin} {
		t.Run(role, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, NewMemoryStore())
			user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
				Valid:       true,
				UserID:      fixtures.AdminID,
				Role:        role,
				Permissions: []string{fixtures.PermSystemAll},
			})
			require.NoError(t, err)
			assert.Equal(t, DefaultRole, user.Role)
			assert.False(t, user.IsSuperuser)
			assert.False(t, user.HasAdminRole())
		})
	}
}

func TestReconcile_MissingUserID(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	h := newHarness(t, store)

	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true})
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationPayload)
	store.AssertNotCalled(t, "Begin", mock.Anything)
}

func TestReconcile_CreateFailure(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(nil, ErrUserNotFound)
	sess.On("CreateUser", mock.Anything, mock.AnythingOfType("*identity.User")).Return(errors.New("disk full"))
	sess.On("Rollback", mock.Anything).Return(nil).Once()
	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(sess, nil).Once()

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.NewcomerID})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalUserCreation)

	e, _ := sserr.AsError(err)
	assert.Equal(t, fixtures.NewcomerID, e.Details["user_id"])
	sess.AssertExpectations(t)
	sess.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestReconcile_CommitFailureOnCreate(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(nil, ErrUserNotFound)
	sess.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
	sess.On("Commit", mock.Anything).Return(errors.New("connection reset"))
	sess.On("Rollback", mock.Anything).Return(nil).Once()
	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(sess, nil).Once()

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.NewcomerID})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalUserCreation)
	sess.AssertExpectations(t)
}

func TestReconcile_DuplicateCreateRereads(t *testing.T) {
	t.Parallel()

	existing := storedUser(fixtures.NewcomerID, fixtures.RoleStandard, false)

	first := &mockSession{}
	first.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(nil, ErrUserNotFound)
	first.On("CreateUser", mock.Anything, mock.Anything).Return(ErrDuplicateUser)
	first.On("Rollback", mock.Anything).Return(nil).Once()

	second := &mockSession{}
	second.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(existing, nil)
	second.On("Rollback", mock.Anything).Return(nil).Once()

	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(first, nil).Once()
	store.On("Begin", mock.Anything).Return(second, nil).Once()

	h := newHarness(t, store)
	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.NewcomerID})
	require.NoError(t, err)
	assert.Equal(t, existing, user)

	first.AssertExpectations(t)
	second.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestReconcile_DuplicateCreateButRowMissing(t *testing.T) {
	t.Parallel()

	first := &mockSession{}
	first.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(nil, ErrUserNotFound)
	first.On("CreateUser", mock.Anything, mock.Anything).Return(nil)
	first.On("Commit", mock.Anything).Return(ErrDuplicateUser)
	first.On("Rollback", mock.Anything).Return(nil)

	second := &mockSession{}
	second.On("FindUserByID", mock.Anything, fixtures.NewcomerID).Return(nil, ErrUserNotFound)
	second.On("Rollback", mock.Anything).Return(nil)

	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(first, nil).Once()
	store.On("Begin", mock.Anything).Return(second, nil).Once()

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.NewcomerID})
	testutil.RequireErrorCode(t, err, sserr.CodeInternalUserCreation)
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestReconcile_ConcurrentFirstLogin(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	r, err := NewReconciler(store, DefaultConfig(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := r.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.NewcomerID})
			if err == nil && u.ID != fixtures.NewcomerID {
				err = fmt.Errorf("got user %q", u.ID)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, store.Len())
}

// ===========================================================================
// Lookup failures
// ===========================================================================

func TestReconcile_LookupFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: sserr.CodeUnavailableDatabase},
		{name: "unavailable", err: sserr.New(sserr.CodeUnavailableDatabase, "down"), want: sserr.CodeUnavailableDatabase},
		{name: "timeout", err: sserr.New(sserr.CodeTimeoutDatabase, "slow"), want: sserr.CodeUnavailableDatabase},
		{name: "other", err: errors.New("relation \"users\" does not exist"), want: sserr.CodeInternalDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sess := &mockSession{}
			sess.On("FindUserByID", mock.Anything, fixtures.UserID).Return(nil, tt.err)
			sess.On("Rollback", mock.Anything).Return(nil).Once()
			store := &mockStore{}
			store.On("Begin", mock.Anything).Return(sess, nil)

			h := newHarness(t, store)
			_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.UserID})
			testutil.RequireErrorCode(t, err, tt.want)
			sess.AssertExpectations(t)
			sess.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
		})
	}
}

func TestReconcile_BeginFailure(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(nil, sserr.New(sserr.CodeUnavailableDatabase, "pool exhausted"))

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.UserID})
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDatabase)
}

type blockingStore struct{}

func (blockingStore) Begin(context.Context) (Session, error) { return blockingSession{}, nil }

type blockingSession struct{}

func (blockingSession) FindUserByID(ctx context.Context, _ string) (*identity.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingSession) CreateUser(context.Context, *identity.User) error        { return nil }
func (blockingSession) UpdateUserFields(context.Context, string, Fields) error { return nil }
func (blockingSession) Commit(context.Context) error                           { return nil }
func (blockingSession) Rollback(context.Context) error                         { return nil }

func TestReconcile_LookupIsBounded(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.OperationTimeout = 30 * time.Millisecond
	r, err := NewReconciler(blockingStore{}, cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.UserID})
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDatabase)
	assert.Less(t, time.Since(start), time.Second)
}

// ===========================================================================
// Claims sync
// ===========================================================================

func TestReconcile_SyncPromotesAndAudits(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(storedUser(fixtures.UserID, fixtures.RoleStandard, false))
	h := newHarness(t, store)

	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
		Valid: true, UserID: fixtures.UserID, Role: fixtures.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, fixtures.RoleAdmin, user.Role)
	assert.True(t, user.IsSuperuser)
	assert.Equal(t, epoch, user.UpdatedAt)

	stored, _ := store.Get(fixtures.UserID)
	assert.Equal(t, fixtures.RoleAdmin, stored.Role)
	assert.True(t, stored.IsSuperuser)

	logs := h.logs.String()
	assert.Contains(t, logs, "level=AUDIT")
	assert.Contains(t, logs, "privileges elevated")
	assert.Contains(t, logs, "old_role="+fixtures.RoleStandard)
	assert.Contains(t, logs, "new_role="+fixtures.RoleAdmin)
	assert.Contains(t, logs, "new_is_superuser=true")
}

func TestReconcile_SyncByPermissionOnly(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(storedUser(fixtures.UserID, fixtures.RoleEditor, false))
	h := newHarness(t, store)

	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
		Valid: true, UserID: fixtures.UserID, Permissions: []string{"admin:*"},
	})
	require.NoError(t, err)
	assert.Equal(t, fixtures.RoleEditor, user.Role, "no claimed role keeps the stored one")
	assert.True(t, user.IsSuperuser)
	assert.Contains(t, h.logs.String(), "level=AUDIT")
}

func TestReconcile_ClaimsWithoutAuthorizationDataNeverDemote(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("FindUserByID", mock.Anything, fixtures.AdminID).
		Return(storedUser(fixtures.AdminID, fixtures.RoleAdmin, true), nil)
	sess.On("Rollback", mock.Anything).Return(nil).Once()
	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(sess, nil)

	h := newHarness(t, store)
	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{Valid: true, UserID: fixtures.AdminID})
	require.NoError(t, err)
	assert.Equal(t, fixtures.RoleAdmin, user.Role)
	assert.True(t, user.IsSuperuser)
	sess.AssertNotCalled(t, "UpdateUserFields", mock.Anything, mock.Anything, mock.Anything)
	sess.AssertExpectations(t)
}

func TestReconcile_SyncDemotesWithoutAudit(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.Put(storedUser(fixtures.AdminID, fixtures.RoleAdmin, true))
	h := newHarness(t, store)

	user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
		Valid: true, UserID: fixtures.AdminID, Role: fixtures.RoleEditor,
	})
	require.NoError(t, err)
	assert.Equal(t, fixtures.RoleEditor, user.Role)
	assert.False(t, user.IsSuperuser)

	logs := h.logs.String()
	assert.NotContains(t, logs, "level=AUDIT")
	assert.Contains(t, logs, "synced user from claims")
}

func TestReconcile_UnchangedSkipsWrite(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("FindUserByID", mock.Anything, fixtures.UserID).
		Return(storedUser(fixtures.UserID, fixtures.RoleEditor, false), nil)
	sess.On("Rollback", mock.Anything).Return(nil).Once()
	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(sess, nil)

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
		Valid: true, UserID: fixtures.UserID, Role: fixtures.RoleEditor, Permissions: []string{fixtures.PermDocsRead},
	})
	require.NoError(t, err)
	sess.AssertNotCalled(t, "UpdateUserFields", mock.Anything, mock.Anything, mock.Anything)
	sess.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestReconcile_SyncFailureReturnsPreSyncUser(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		updateErr error
		commitErr error
	}{
		{name: "update fails", updateErr: errors.New("lock timeout")},
		{name: "commit fails", commitErr: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			before := storedUser(fixtures.UserID, fixtures.RoleStandard, false)
			sess := &mockSession{}
			sess.On("FindUserByID", mock.Anything, fixtures.UserID).Return(before.Clone(), nil)
			sess.On("UpdateUserFields", mock.Anything, fixtures.UserID, Fields{
				Role: fixtures.RoleAdmin, IsSuperuser: true, UpdatedAt: epoch,
			}).Return(tt.updateErr)
			if tt.updateErr == nil {
				sess.On("Commit", mock.Anything).Return(tt.commitErr)
			}
			sess.On("Rollback", mock.Anything).Return(nil).Once()
			store := &mockStore{}
			store.On("Begin", mock.Anything).Return(sess, nil)

			h := newHarness(t, store)
			user, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
				Valid: true, UserID: fixtures.UserID, Role: fixtures.RoleAdmin,
			})
			require.NoError(t, err, "a failed sync must not block the login")
			assert.Equal(t, before, user)

			logs := h.logs.String()
			assert.Contains(t, logs, "level=ERROR")
			assert.Contains(t, logs, "claims sync failed")
			assert.NotContains(t, logs, "level=AUDIT", "nothing was elevated")
			sess.AssertExpectations(t)
		})
	}
}

func TestReconcile_SessionAlwaysEnded(t *testing.T) {
	t.Parallel()

	sess := &mockSession{}
	sess.On("FindUserByID", mock.Anything, fixtures.UserID).
		Return(storedUser(fixtures.UserID, fixtures.RoleStandard, false), nil)
	sess.On("UpdateUserFields", mock.Anything, fixtures.UserID, mock.Anything).Return(nil)
	sess.On("Commit", mock.Anything).Return(nil).Once()
	store := &mockStore{}
	store.On("Begin", mock.Anything).Return(sess, nil)

	h := newHarness(t, store)
	_, err := h.reconciler.Reconcile(context.Background(), identity.ValidationResult{
		Valid: true, UserID: fixtures.UserID, Role: fixtures.RoleEditor,
	})
	require.NoError(t, err)
	sess.AssertExpectations(t)
	sess.AssertNotCalled(t, "Rollback", mock.Anything)
}

// ===========================================================================
// Construction and config
// ===========================================================================

func TestNewReconciler_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewReconciler(nil, DefaultConfig())
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)

	_, err = NewReconciler(NewMemoryStore(), Config{DefaultRole: fixtures.RoleAdmin})
	testutil.AssertErrorCode(t, err, sserr.CodeValidation)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), cfg)

	for name, bad := range map[string]Config{
		"backend":       {Backend: "sqlite"},
		"timeout":       {OperationTimeout: -time.Second},
		"admin default": {DefaultRole: fixtures.RoleSuperAdmin},
		"domain":        {PlaceholderEmailDomain: "a@b"},
	} {
		assert.Error(t, bad.Validate(), name)
	}
}

func TestReplaceLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug, ReplaceAttr: ReplaceLevel}))
	logger.Log(context.Background(), LevelSecurityAudit, "elevated")
	logger.Warn("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"AUDIT"`)
	assert.Contains(t, lines[1], `"level":"WARN"`)
}
