package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"adops.io/internal/store"
)

type memRefreshStore struct {
	mu   sync.Mutex
	rows map[string]RefreshToken
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{rows: make(map[string]RefreshToken)}
}

func refreshKey(userID int64, tokenID string) string {
	return fmt.Sprintf("%d/%s", userID, tokenID)
}

func (m *memRefreshStore) SaveRefreshToken(_ context.Context, tok RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := refreshKey(tok.UserID, tok.TokenID)
	if _, ok := m.rows[key]; ok {
		return store.ErrDuplicate
	}
	m.rows[key] = tok
	return nil
}

func (m *memRefreshStore) RotateRefreshToken(_ context.Context, userID int64, oldTokenID string, now time.Time, next RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := refreshKey(userID, oldTokenID)
	old, ok := m.rows[key]
	if !ok || old.Status(now) != TokenActive {
		return store.ErrConflict
	}
	old.State = StateInactive
	old.ReplacedBy = next.TokenID
	m.rows[key] = old
	m.rows[refreshKey(next.UserID, next.TokenID)] = next
	return nil
}

func (m *memRefreshStore) RevokeRefreshToken(_ context.Context, userID int64, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := refreshKey(userID, tokenID)
	row, ok := m.rows[key]
	if !ok {
		return store.ErrNotFound
	}
	row.State = StateInactive
	m.rows[key] = row
	return nil
}

func (m *memRefreshStore) get(userID int64, tokenID string) (RefreshToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[refreshKey(userID, tokenID)]
	return row, ok
}

type stubIdentityStore struct {
	users map[int64]User
	roles map[int64]Role
	perms map[int64][]Permission // by role id
	err   error
}

func (s *stubIdentityStore) UserWithRole(_ context.Context, userID int64) (User, Role, error) {
	if s.err != nil {
		return User{}, Role{}, s.err
	}
	u, ok := s.users[userID]
	if !ok {
		return User{}, Role{}, store.ErrNotFound
	}
	return u, s.roles[u.RoleID], nil
}

func (s *stubIdentityStore) UserPermissions(_ context.Context, userID int64) ([]Permission, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return s.perms[u.RoleID], nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
