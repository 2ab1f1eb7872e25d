package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"adops.io/internal/ids"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
	maxUsernameLength = 64
)

// RBACService validates administrative changes to users, roles and permissions
// before delegating to the store. Actors can never grant or manage a level above
// their own.
type RBACService struct {
	store    AdminStore
	identity IdentityStore
	policy   AdminPolicy
	now      func() time.Time
}

func NewRBACService(store AdminStore, identity IdentityStore, policy AdminPolicy) (*RBACService, error) {
	if store == nil || identity == nil {
		return nil, errors.New("rbac stores are required")
	}
	return &RBACService{store: store, identity: identity, policy: policy, now: time.Now}, nil
}

func (s *RBACService) Policy() AdminPolicy { return s.policy }

func (s *RBACService) CreateUser(ctx context.Context, actor UserContext, username, password string, roleID int64) (User, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || utf8.RuneCountInString(username) > maxUsernameLength {
		return User{}, fmt.Errorf("%w: username is required and must be at most %d characters", ErrInvalidInput, maxUsernameLength)
	}
	if err := ValidatePassword(password); err != nil {
		return User{}, err
	}
	role, err := s.assignableRole(ctx, actor, roleID)
	if err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	entry, err := s.entry(actor, AuditUserCreated, nil, &role.ID, map[string]any{
		"username": username,
		"role":     role.Name,
	})
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, NewUser{Username: username, PasswordHash: hash, RoleID: role.ID}, entry)
}

func (s *RBACService) ListUsers(ctx context.Context) ([]UserListing, error) {
	return s.store.ListUsers(ctx)
}

// SetUserState activates or deactivates an account. Deactivation also revokes
// every refresh grant of the user.
func (s *RBACService) SetUserState(ctx context.Context, actor UserContext, userID int64, state State) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if userID == actor.UserID && !state.Active() {
		return fmt.Errorf("%w: cannot deactivate your own account", ErrForbidden)
	}
	target, targetRole, err := s.identity.UserWithRole(ctx, userID)
	if err != nil {
		return err
	}
	if targetRole.Level > actor.Role.Level {
		return fmt.Errorf("%w: cannot manage a user above your role level", ErrForbidden)
	}
	entry, err := s.entry(actor, AuditUserStateChanged, &target.ID, nil, map[string]any{
		"from": target.State.String(),
		"to":   state.String(),
	})
	if err != nil {
		return err
	}
	return s.store.SetUserState(ctx, userID, state, entry)
}

func (s *RBACService) SetUserRole(ctx context.Context, actor UserContext, userID, roleID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if userID == actor.UserID {
		return fmt.Errorf("%w: cannot change your own role", ErrForbidden)
	}
	_, current, err := s.identity.UserWithRole(ctx, userID)
	if err != nil {
		return err
	}
	if current.Level > actor.Role.Level {
		return fmt.Errorf("%w: cannot manage a user above your role level", ErrForbidden)
	}
	role, err := s.assignableRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	entry, err := s.entry(actor, AuditUserRoleChanged, &userID, &role.ID, map[string]any{
		"from": current.Name,
		"to":   role.Name,
	})
	if err != nil {
		return err
	}
	return s.store.SetUserRole(ctx, userID, role.ID, entry)
}

func (s *RBACService) assignableRole(ctx context.Context, actor UserContext, roleID int64) (Role, error) {
	if roleID <= 0 {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if !role.State.Active() {
		return Role{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	if role.Level > actor.Role.Level {
		return Role{}, fmt.Errorf("%w: cannot assign a role above your own level", ErrForbidden)
	}
	return role, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// SetRoleState toggles a role. System roles cannot be deactivated.
func (s *RBACService) SetRoleState(ctx context.Context, actor UserContext, roleID int64, state State) error {
	role, err := s.manageableRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	if role.System && !state.Active() {
		return fmt.Errorf("%w: system role %s cannot be deactivated", ErrForbidden, role.Name)
	}
	if role.ID == actor.Role.ID && !state.Active() {
		return fmt.Errorf("%w: cannot deactivate your own role", ErrForbidden)
	}
	entry, err := s.entry(actor, AuditRoleStateChanged, nil, &role.ID, map[string]any{
		"role": role.Name,
		"from": role.State.String(),
		"to":   state.String(),
	})
	if err != nil {
		return err
	}
	return s.store.SetRoleState(ctx, roleID, state, entry)
}

// SetRolePermissions replaces the grant of a role.
func (s *RBACService) SetRolePermissions(ctx context.Context, actor UserContext, roleID int64, names []string) error {
	role, err := s.manageableRole(ctx, actor, roleID)
	if err != nil {
		return err
	}
	names = dedupeStrings(names)
	if err := s.checkCatalog(ctx, names); err != nil {
		return err
	}
	entry, err := s.entry(actor, AuditRolePermissionsSet, nil, &role.ID, map[string]any{
		"role":        role.Name,
		"permissions": names,
	})
	if err != nil {
		return err
	}
	return s.store.SetRolePermissions(ctx, roleID, names, entry)
}

func (s *RBACService) checkCatalog(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		known[p.Name] = struct{}{}
	}
	var unknown []string
	for _, name := range names {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown permissions %s", ErrInvalidInput, strings.Join(unknown, ", "))
	}
	return nil
}

func (s *RBACService) manageableRole(ctx context.Context, actor UserContext, roleID int64) (Role, error) {
	if roleID <= 0 {
		return Role{}, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	role, err := s.store.GetRole(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if role.Level > actor.Role.Level {
		return Role{}, fmt.Errorf("%w: cannot manage a role above your own level", ErrForbidden)
	}
	return role, nil
}

// PermissionCatalog groups every catalog entry by category.
func (s *RBACService) PermissionCatalog(ctx context.Context) (map[string][]Permission, error) {
	perms, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]Permission)
	for _, p := range perms {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	for _, list := range grouped {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return grouped, nil
}

func (s *RBACService) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	switch {
	case limit <= 0:
		limit = defaultAuditLimit
	case limit > maxAuditLimit:
		limit = maxAuditLimit
	}
	return s.store.ListAudit(ctx, limit)
}

func (s *RBACService) entry(actor UserContext, action string, targetUser, targetRole *int64, detail map[string]any) (AuditEntry, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("encode audit detail: %w", err)
	}
	return AuditEntry{
		ID:           ids.New(),
		ActorUserID:  actor.UserID,
		Action:       action,
		TargetUserID: targetUser,
		TargetRoleID: targetRole,
		Detail:       raw,
		CreatedAt:    s.now().UTC(),
	}, nil
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}
