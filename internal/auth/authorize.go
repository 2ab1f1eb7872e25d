package auth

import (
	"maps"
	"slices"
	"sort"
	"time"
)

type RoleRef struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Level       int    `json:"level"`
}

type PermissionRef struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// PermissionSet is the flattened grant of a role plus its per-category grouping.
type PermissionSet struct {
	Names   []string
	Grouped map[string][]PermissionRef
}

// NewPermissionSet keeps active permissions only, sorted by name.
func NewPermissionSet(perms []Permission) PermissionSet {
	set := PermissionSet{Grouped: make(map[string][]PermissionRef)}
	seen := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		if !p.State.Active() {
			continue
		}
		if _, dup := seen[p.Name]; dup {
			continue
		}
		seen[p.Name] = struct{}{}
		set.Names = append(set.Names, p.Name)
		set.Grouped[p.Category] = append(set.Grouped[p.Category], PermissionRef{Name: p.Name, DisplayName: p.DisplayName})
	}
	sort.Strings(set.Names)
	for _, refs := range set.Grouped {
		sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	}
	return set
}

// UserContext is the authorization snapshot attached to a request after identity
// resolution. It is built once and only read afterwards.
type UserContext struct {
	UserID              int64                      `json:"id"`
	Username            string                     `json:"username"`
	LastLogin           *time.Time                 `json:"lastLogin,omitempty"`
	Role                RoleRef                    `json:"role"`
	Permissions         []string                   `json:"permissions"`
	PermissionsDetailed map[string][]PermissionRef `json:"permissionsDetailed"`

	granted map[string]struct{}
}

// NewUserContext builds the snapshot for a resolved user.
func NewUserContext(user User, role Role, perms PermissionSet) UserContext {
	granted := make(map[string]struct{}, len(perms.Names))
	for _, name := range perms.Names {
		granted[name] = struct{}{}
	}
	return UserContext{
		UserID:    user.ID,
		Username:  user.Username,
		LastLogin: user.LastLoginAt,
		Role: RoleRef{
			ID:          role.ID,
			Name:        role.Name,
			DisplayName: role.DisplayName,
			Level:       role.Level,
		},
		Permissions:         perms.Names,
		PermissionsDetailed: perms.Grouped,
		granted:             granted,
	}
}

// Clone returns a deep copy; the private grant index is never written after
// construction and stays shared.
func (uc UserContext) Clone() UserContext {
	c := uc
	c.Permissions = slices.Clone(uc.Permissions)
	if uc.PermissionsDetailed != nil {
		c.PermissionsDetailed = maps.Clone(uc.PermissionsDetailed)
		for cat, refs := range c.PermissionsDetailed {
			c.PermissionsDetailed[cat] = slices.Clone(refs)
		}
	}
	if uc.LastLogin != nil {
		t := *uc.LastLogin
		c.LastLogin = &t
	}
	return c
}

// HasPermission reports whether the role grants name.
func (uc UserContext) HasPermission(name string) bool {
	if uc.granted != nil {
		_, ok := uc.granted[name]
		return ok
	}
	return slices.Contains(uc.Permissions, name)
}

// HasAnyPermission reports whether at least one of names is granted.
func (uc UserContext) HasAnyPermission(names ...string) bool {
	for _, name := range names {
		if uc.HasPermission(name) {
			return true
		}
	}
	return false
}

// HasRole is an exact role-name match; it does not consider levels.
func (uc UserContext) HasRole(name string) bool {
	return uc.Role.Name == name
}

// HasLevel is the hierarchical check: higher levels satisfy lower thresholds.
func (uc UserContext) HasLevel(min int) bool {
	return uc.Role.Level >= min
}
