package auth

import (
	"fmt"
	"strings"
)

// Guard is a predicate over an already resolved UserContext. A nil context must
// be handled by the caller as unauthenticated before any guard runs.
type Guard func(uc UserContext) error

func RequirePermission(name string) Guard {
	return func(uc UserContext) error {
		if uc.HasPermission(name) {
			return nil
		}
		return fmt.Errorf("%w: permission %s required", ErrForbidden, name)
	}
}

func RequireAnyPermission(names ...string) Guard {
	return func(uc UserContext) error {
		if uc.HasAnyPermission(names...) {
			return nil
		}
		return fmt.Errorf("%w: one of %s required", ErrForbidden, strings.Join(names, ", "))
	}
}

// RequireRole is an exact name match with no hierarchy.
func RequireRole(name string) Guard {
	return func(uc UserContext) error {
		if uc.HasRole(name) {
			return nil
		}
		return fmt.Errorf("%w: role %s required", ErrForbidden, name)
	}
}

func RequireRoleLevel(min int) Guard {
	return func(uc UserContext) error {
		if uc.HasLevel(min) {
			return nil
		}
		return fmt.Errorf("%w: role level %d required", ErrForbidden, min)
	}
}

// RequireAdmin checks the role name against the policy's admin names.
func RequireAdmin(policy AdminPolicy) Guard {
	return func(uc UserContext) error {
		if policy.IsAdminName(uc.Role.Name) {
			return nil
		}
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
}

// All runs guards in order and returns the first failure.
func All(guards ...Guard) Guard {
	return func(uc UserContext) error {
		for _, g := range guards {
			if err := g(uc); err != nil {
				return err
			}
		}
		return nil
	}
}
