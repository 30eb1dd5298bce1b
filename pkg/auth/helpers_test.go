package auth

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authgate/internal/testutil"
	"github.com/StricklySoft/authgate/internal/testutil/fixtures"
	"github.com/StricklySoft/authgate/pkg/authservice"
	"github.com/StricklySoft/authgate/pkg/identity"
	"github.com/StricklySoft/authgate/pkg/replay"
	"github.com/StricklySoft/authgate/pkg/users"
)

var epoch = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// stack is a Gateway over the real components: the HTTP auth service
// client against an in-process fake, the in-memory reuse store and the
// in-memory user store, all on one mock clock.
type stack struct {
	gw       *Gateway
	upstream *testutil.AuthServer
	users    *users.MemoryStore
	clock    *clock.Mock
	writer   *syncWriter
}

func newStack(t *testing.T, opts ...GatewayOption) *stack {
	t.Helper()

	mc := clock.NewMock()
	mc.Set(epoch)
	writer := &syncWriter{buf: &bytes.Buffer{}}
	logger := slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: users.ReplaceLevel,
	}))

	upstream := testutil.NewAuthServer(t)
	upstream.AddToken(fixtures.UserToken, identity.ValidationResult{
		UserID: fixtures.UserID, Email: fixtures.UserEmail, Role: fixtures.RoleEditor,
		Permissions: []string{"docs:*"},
	})
	upstream.AddToken(fixtures.AdminToken, identity.ValidationResult{
		UserID: fixtures.AdminID, Email: fixtures.AdminEmail, Role: fixtures.RoleAdmin,
	})
	upstream.AddToken(fixtures.AltUserToken, identity.ValidationResult{
		UserID: fixtures.AltUserID, Role: fixtures.RoleStandard,
	})

	cfg := authservice.DefaultConfig()
	cfg.BaseURL = upstream.URL
	cfg.Timeout = 300 * time.Millisecond
	cfg.MaxRetries = 0
	client, err := authservice.New(cfg, authservice.WithLogger(logger))
	require.NoError(t, err)

	replayCfg := replay.DefaultConfig()
	guard, err := replay.NewGuard(replay.NewMemoryStore(replayCfg), replayCfg,
		replay.WithClock(mc), replay.WithLogger(logger))
	require.NoError(t, err)

	store := users.NewMemoryStore()
	reconciler, err := users.NewReconciler(store, users.DefaultConfig(),
		users.WithClock(mc), users.WithLogger(logger))
	require.NoError(t, err)

	gw, err := NewGateway(client, guard, reconciler,
		append([]GatewayOption{WithClock(mc), WithLogger(logger)}, opts...)...)
	require.NoError(t, err)

	return &stack{gw: gw, upstream: upstream, users: store, clock: mc, writer: writer}
}

// syncWriter serialises writes from concurrent loggers in one test.
type syncWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (s *stack) logOutput() string {
	w := s.writer
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

// authFunc adapts a function to Authenticator.
type authFunc func(ctx context.Context, token string) (*Principal, error)

func (f authFunc) Authenticate(ctx context.Context, token string) (*Principal, error) {
	return f(ctx, token)
}

func principal(id, role string, perms ...string) *Principal {
	return &Principal{
		User:            &identity.User{ID: id, Role: role, Permissions: []string{}},
		Claims:          identity.ValidationResult{Valid: true, UserID: id, Role: role, Permissions: perms},
		AuthenticatedAt: epoch,
	}
}
