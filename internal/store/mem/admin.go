package mem

import (
	"context"
	"sort"

	"adops.io/internal/auth"
	"adops.io/internal/store"
)

func (s *Store) CreateUser(_ context.Context, nu auth.NewUser, entry auth.AuditEntry) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, _, err := s.userByNameLocked(nu.Username); err == nil {
		return auth.User{}, store.ErrDuplicate
	}
	if _, ok := s.roles[nu.RoleID]; !ok {
		return auth.User{}, store.ErrNotFound
	}
	now := s.stamp()
	u := auth.User{
		ID:        s.next("users"),
		Username:  nu.Username,
		RoleID:    nu.RoleID,
		State:     auth.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[u.ID] = userRow{User: u, passwordHash: nu.PasswordHash}
	entry.TargetUserID = &u.ID
	s.appendAuditLocked(entry)
	return u, nil
}

func (s *Store) ListUsers(_ context.Context) ([]auth.UserListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.UserListing, 0, len(s.users))
	for _, u := range s.users {
		role := s.roles[u.RoleID]
		out = append(out, auth.UserListing{
			User:            u.User,
			RoleName:        role.Name,
			RoleDisplayName: role.DisplayName,
			RoleLevel:       role.Level,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SetUserState(_ context.Context, userID int64, state auth.State, entry auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.State = state
	u.UpdatedAt = s.stamp()
	s.users[userID] = u
	if !state.Active() {
		s.revokeAllLocked(userID)
	}
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) SetUserRole(_ context.Context, userID, roleID int64, entry auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	u.RoleID = roleID
	u.UpdatedAt = s.stamp()
	s.users[userID] = u
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) GetRole(_ context.Context, roleID int64) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleID]
	if !ok {
		return auth.Role{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) SetRoleState(_ context.Context, roleID int64, state auth.State, entry auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[roleID]
	if !ok {
		return store.ErrNotFound
	}
	r.State = state
	s.roles[roleID] = r
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) ListPermissions(_ context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID int64, names []string, entry auth.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return store.ErrNotFound
	}
	byName := make(map[string]int64, len(s.permissions))
	for id, p := range s.permissions {
		byName[p.Name] = id
	}
	grant := make(map[int64]struct{}, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return store.ErrNotFound
		}
		grant[id] = struct{}{}
	}
	s.grants[roleID] = grant
	s.appendAuditLocked(entry)
	return nil
}

func (s *Store) ListAudit(_ context.Context, limit int) ([]auth.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.AuditEntry, 0, min(limit, len(s.audit)))
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
