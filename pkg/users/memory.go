package users

import (
	"context"
	"sync"

	"github.com/StricklySoft/authgate/pkg/identity"
)

// MemoryStore keeps users in a map. Sessions stage their writes and apply
// them atomically on Commit, so a rolled-back session leaves no trace and
// two racing creates of the same id end with one ErrDuplicateUser.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*identity.User
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*identity.User)}
}

// Put stores a copy of user, replacing any record with the same id.
func (s *MemoryStore) Put(user *identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user.Clone()
}

// Get returns a copy of the committed user with id.
func (s *MemoryStore) Get(id string) (*identity.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u.Clone(), ok
}

// Len returns the number of committed users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Begin implements [Store].
func (s *MemoryStore) Begin(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memorySession{store: s}, nil
}

type memoryUpdate struct {
	id     string
	fields Fields
}

type memorySession struct {
	store   *MemoryStore
	creates []*identity.User
	updates []memoryUpdate
	done    bool
}

func (s *memorySession) FindUserByID(ctx context.Context, id string) (*identity.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, u := range s.creates {
		if u.ID == id {
			return u.Clone(), nil
		}
	}
	u, ok := s.store.Get(id)
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}

func (s *memorySession) CreateUser(ctx context.Context, user *identity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.FindUserByID(ctx, user.ID); err == nil {
		return ErrDuplicateUser
	}
	s.creates = append(s.creates, user.Clone())
	return nil
}

func (s *memorySession) UpdateUserFields(ctx context.Context, id string, fields Fields) error {
	if _, err := s.FindUserByID(ctx, id); err != nil {
		return err
	}
	s.updates = append(s.updates, memoryUpdate{id: id, fields: fields})
	return nil
}

func (s *memorySession) Commit(ctx context.Context) error {
	if s.done {
		return ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	for _, u := range s.creates {
		if _, exists := s.store.users[u.ID]; exists {
			return ErrDuplicateUser
		}
	}
	for _, up := range s.updates {
		if _, exists := s.store.users[up.id]; !exists && !s.creating(up.id) {
			return ErrUserNotFound
		}
	}

	for _, u := range s.creates {
		s.store.users[u.ID] = u
	}
	for _, up := range s.updates {
		u := s.store.users[up.id]
		u.Role = up.fields.Role
		u.IsSuperuser = up.fields.IsSuperuser
		u.UpdatedAt = up.fields.UpdatedAt
	}
	s.done = true
	return nil
}

func (s *memorySession) creating(id string) bool {
	for _, u := range s.creates {
		if u.ID == id {
			return true
		}
	}
	return false
}

func (s *memorySession) Rollback(context.Context) error {
	s.creates, s.updates = nil, nil
	s.done = true
	return nil
}
