// Package mem is an in-memory backend implementing every store interface. It is
// used for local runs without a database and by HTTP tests.
package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"adops.io/internal/adops"
	"adops.io/internal/auth"
	"adops.io/internal/store"
)

type userRow struct {
	auth.User
	passwordHash string
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	seq map[string]int64

	users       map[int64]userRow
	roles       map[int64]auth.Role
	permissions map[int64]auth.Permission
	grants      map[int64]map[int64]struct{} // role id -> permission ids
	tokens      map[tokenKey]auth.RefreshToken
	audit       []auth.AuditEntry

	cards     map[int64]adops.Card
	cardUsers map[int64]adops.CardUser
	reports   map[int64]adops.Report
}

type tokenKey struct {
	userID  int64
	tokenID string
}

var (
	_ auth.IdentityStore     = (*Store)(nil)
	_ auth.RefreshTokenStore = (*Store)(nil)
	_ auth.CredentialStore   = (*Store)(nil)
	_ auth.AdminStore        = (*Store)(nil)
	_ adops.Store            = (*Store)(nil)
)

type Option func(*Store)

func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		seq:         make(map[string]int64),
		users:       make(map[int64]userRow),
		roles:       make(map[int64]auth.Role),
		permissions: make(map[int64]auth.Permission),
		grants:      make(map[int64]map[int64]struct{}),
		tokens:      make(map[tokenKey]auth.RefreshToken),
		cards:       make(map[int64]adops.Card),
		cardUsers:   make(map[int64]adops.CardUser),
		reports:     make(map[int64]adops.Report),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) next(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

// Seed installs the permission catalog and built-in roles, and creates the
// bootstrap account when username is not empty. It is idempotent.
func (s *Store) Seed(ctx context.Context, username, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]int64, len(s.permissions))
	for id, p := range s.permissions {
		byName[p.Name] = id
	}
	for _, p := range auth.BuiltinPermissions {
		if _, ok := byName[p.Name]; ok {
			continue
		}
		p.ID = s.next("permissions")
		s.permissions[p.ID] = p
		byName[p.Name] = p.ID
	}

	var superID int64
	for _, seed := range auth.BuiltinRoles {
		role, ok := s.roleByNameLocked(seed.Name)
		if !ok {
			role = auth.Role{
				ID:          s.next("roles"),
				Name:        seed.Name,
				DisplayName: seed.DisplayName,
				Level:       seed.Level,
				State:       auth.StateActive,
				System:      seed.System,
				CreatedAt:   s.stamp(),
			}
			s.roles[role.ID] = role
			grant := make(map[int64]struct{}, len(seed.Permissions))
			for _, name := range seed.Permissions {
				grant[byName[name]] = struct{}{}
			}
			s.grants[role.ID] = grant
		}
		if seed.Name == auth.RoleSuperAdmin {
			superID = role.ID
		}
	}

	if username == "" {
		return nil
	}
	if _, _, err := s.userByNameLocked(username); err == nil {
		return nil
	}
	if passwordHash == "" {
		return fmt.Errorf("seed: password hash required for %s", username)
	}
	now := s.stamp()
	u := auth.User{ID: s.next("users"), Username: username, RoleID: superID, State: auth.StateActive, CreatedAt: now, UpdatedAt: now}
	s.users[u.ID] = userRow{User: u, passwordHash: passwordHash}
	return ctx.Err()
}

func (s *Store) roleByNameLocked(name string) (auth.Role, bool) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, true
		}
	}
	return auth.Role{}, false
}

// RoleByName is used by seeding code and tests.
func (s *Store) RoleByName(name string) (auth.Role, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roleByNameLocked(name)
}

func (s *Store) userByNameLocked(username string) (auth.User, string, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u.User, u.passwordHash, nil
		}
	}
	return auth.User{}, "", store.ErrNotFound
}

// Identity

func (s *Store) UserWithRole(_ context.Context, userID int64) (auth.User, auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return auth.User{}, auth.Role{}, store.ErrNotFound
	}
	role, ok := s.roles[u.RoleID]
	if !ok {
		return auth.User{}, auth.Role{}, store.ErrNotFound
	}
	return u.User, role, nil
}

func (s *Store) UserPermissions(_ context.Context, userID int64) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	var out []auth.Permission
	for pid := range s.grants[u.RoleID] {
		if p, ok := s.permissions[pid]; ok && p.State.Active() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Credentials

func (s *Store) UserByUsername(_ context.Context, username string) (auth.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userByNameLocked(username)
}

func (s *Store) TouchLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	s.users[userID] = u
	return nil
}

// Refresh tokens

func (s *Store) SaveRefreshToken(_ context.Context, tok auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{tok.UserID, tok.TokenID}
	if _, ok := s.tokens[key]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.users[tok.UserID]; !ok {
		return store.ErrReferenced
	}
	s.tokens[key] = tok
	return nil
}

func (s *Store) RotateRefreshToken(_ context.Context, userID int64, oldTokenID string, now time.Time, next auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{userID, oldTokenID}
	old, ok := s.tokens[key]
	if !ok || old.Status(now) != auth.TokenActive {
		return store.ErrConflict
	}
	nextKey := tokenKey{next.UserID, next.TokenID}
	if _, dup := s.tokens[nextKey]; dup {
		return store.ErrDuplicate
	}
	old.State = auth.StateInactive
	old.ReplacedBy = next.TokenID
	s.tokens[key] = old
	s.tokens[nextKey] = next
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, userID int64, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{userID, tokenID}
	tok, ok := s.tokens[key]
	if !ok {
		return store.ErrNotFound
	}
	tok.State = auth.StateInactive
	s.tokens[key] = tok
	return nil
}

// RefreshToken returns the stored grant for inspection.
func (s *Store) RefreshToken(userID int64, tokenID string) (auth.RefreshToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenKey{userID, tokenID}]
	return tok, ok
}

func (s *Store) revokeAllLocked(userID int64) {
	for key, tok := range s.tokens {
		if key.userID == userID && tok.State.Active() {
			tok.State = auth.StateInactive
			s.tokens[key] = tok
		}
	}
}

func (s *Store) appendAuditLocked(entry auth.AuditEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.stamp()
	}
	s.audit = append(s.audit, entry)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func page[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
