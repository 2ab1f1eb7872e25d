package auth

import "slices"

const (
	DefaultAdminLevel      = 8
	DefaultSuperAdminLevel = 10
)

// AdminPolicy is the single admin-tier predicate. The level threshold is the
// canonical rule; RoleNames is kept as an alias for roles whose level was never
// migrated. A Level of zero or less disables the level rule.
type AdminPolicy struct {
	Level           int
	SuperAdminLevel int
	RoleNames       []string
}

func DefaultAdminPolicy() AdminPolicy {
	return AdminPolicy{
		Level:           DefaultAdminLevel,
		SuperAdminLevel: DefaultSuperAdminLevel,
		RoleNames:       []string{RoleAdmin, RoleSuperAdmin},
	}
}

// IsAdmin reports whether uc belongs to the admin tier. A nil context is never admin.
func (p AdminPolicy) IsAdmin(uc *UserContext) bool {
	if uc == nil {
		return false
	}
	if p.Level > 0 && uc.Role.Level >= p.Level {
		return true
	}
	return p.IsAdminName(uc.Role.Name)
}

// IsAdminName is the name-only check behind RequireAdmin.
func (p AdminPolicy) IsAdminName(role string) bool {
	return role != "" && slices.Contains(p.RoleNames, role)
}

// IsSuperAdmin reports whether uc reaches the super admin level.
func (p AdminPolicy) IsSuperAdmin(uc *UserContext) bool {
	if uc == nil {
		return false
	}
	return p.SuperAdminLevel > 0 && uc.Role.Level >= p.SuperAdminLevel
}
