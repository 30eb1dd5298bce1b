package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/StricklySoft/authgate/pkg/clients/postgres"
	"github.com/StricklySoft/authgate/pkg/identity"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	role         TEXT NOT NULL,
	is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
	permissions  TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	selectUserSQL = `SELECT id, email, role, is_superuser, permissions, created_at, updated_at FROM users WHERE id = $1`
	insertUserSQL = `INSERT INTO users (id, email, role, is_superuser, permissions, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	updateUserSQL = `UPDATE users SET role = $2, is_superuser = $3, updated_at = $4 WHERE id = $1`
)

// PostgresStore keeps users in the users table. Each Session is one pgx
// transaction.
type PostgresStore struct {
	client *postgres.Client
}

// NewPostgresStore returns a store over client.
func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{client: client}
}

// EnsureSchema creates the users table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("users: ensure schema: %w", err)
	}
	return nil
}

// Begin implements [Store].
func (s *PostgresStore) Begin(ctx context.Context) (Session, error) {
	tx, err := s.client.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgSession{tx: tx}, nil
}

type pgSession struct {
	tx pgx.Tx
}

func (s *pgSession) FindUserByID(ctx context.Context, id string) (*identity.User, error) {
	var u identity.User
	err := s.tx.QueryRow(ctx, selectUserSQL, id).Scan(
		&u.ID, &u.Email, &u.Role, &u.IsSuperuser, &u.Permissions, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, postgres.Classify(err, "users: select user failed")
	}
	return &u, nil
}

func (s *pgSession) CreateUser(ctx context.Context, user *identity.User) error {
	perms := user.Permissions
	if perms == nil {
		perms = []string{}
	}
	_, err := s.tx.Exec(ctx, insertUserSQL,
		user.ID, user.Email, user.Role, user.IsSuperuser, perms, user.CreatedAt, user.UpdatedAt)
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrDuplicateUser, err)
	}
	return postgres.Classify(err, "users: insert user failed")
}

func (s *pgSession) UpdateUserFields(ctx context.Context, id string, fields Fields) error {
	tag, err := s.tx.Exec(ctx, updateUserSQL, id, fields.Role, fields.IsSuperuser, fields.UpdatedAt)
	if err != nil {
		return postgres.Classify(err, "users: update user failed")
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *pgSession) Commit(ctx context.Context) error {
	err := s.tx.Commit(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("%w: %w", ErrSessionClosed, err)
	}
	if postgres.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %w", ErrDuplicateUser, err)
	}
	return postgres.Classify(err, "users: commit failed")
}

func (s *pgSession) Rollback(ctx context.Context) error {
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return postgres.Classify(err, "users: rollback failed")
}
