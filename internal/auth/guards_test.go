package auth

import (
	"context"
	"errors"
	"testing"
)

func operatorContext() UserContext {
	return NewUserContext(
		User{ID: 5, Username: "op"},
		Role{ID: 1, Name: RoleOperator, Level: 1},
		NewPermissionSet([]Permission{
			{Name: PermCardsView, Category: "cards", State: StateActive},
			{Name: PermReportsView, Category: "reports", State: StateActive},
		}),
	)
}

func contextWithRole(name string, level int) UserContext {
	return NewUserContext(User{ID: 1}, Role{Name: name, Level: level}, PermissionSet{})
}

func TestGuards(t *testing.T) {
	op := operatorContext()
	policy := DefaultAdminPolicy()
	cases := []struct {
		name  string
		guard Guard
		uc    UserContext
		ok    bool
	}{
		{"permission granted", RequirePermission(PermCardsView), op, true},
		{"permission missing", RequirePermission(PermCardsDelete), op, false},
		{"any granted", RequireAnyPermission(PermUsersView, PermReportsView), op, true},
		{"any missing", RequireAnyPermission(PermUsersView, PermUsersEdit), op, false},
		{"any empty", RequireAnyPermission(), op, false},
		{"role exact", RequireRole(RoleOperator), op, true},
		{"role no hierarchy", RequireRole(RoleAdmin), contextWithRole(RoleSuperAdmin, 10), false},
		{"level higher", RequireRoleLevel(8), contextWithRole("custom", 9), true},
		{"level equal", RequireRoleLevel(8), contextWithRole("custom", 8), true},
		{"level lower", RequireRoleLevel(8), op, false},
		{"admin by name", RequireAdmin(policy), contextWithRole(RoleAdmin, 1), true},
		{"admin ignores level", RequireAdmin(policy), contextWithRole("custom", 10), false},
		{"all first failure", All(RequirePermission(PermCardsView), RequireRoleLevel(5)), op, false},
		{"all pass", All(RequirePermission(PermCardsView), RequireRoleLevel(1)), op, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.guard(tc.uc)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestAdminPolicy(t *testing.T) {
	policy := DefaultAdminPolicy()
	cases := []struct {
		name  string
		uc    *UserContext
		admin bool
	}{
		{"nil", nil, false},
		{"operator", ptr(contextWithRole(RoleOperator, 1)), false},
		{"level threshold", ptr(contextWithRole("regional_lead", 8)), true},
		{"name alias with stale level", ptr(contextWithRole(RoleAdmin, 0)), true},
		{"super admin", ptr(contextWithRole(RoleSuperAdmin, 10)), true},
	}
	for _, tc := range cases {
		if got := policy.IsAdmin(tc.uc); got != tc.admin {
			t.Fatalf("%s: IsAdmin = %v", tc.name, got)
		}
	}

	levelOff := AdminPolicy{RoleNames: []string{RoleAdmin}}
	if levelOff.IsAdmin(ptr(contextWithRole("custom", 99))) {
		t.Fatalf("disabled level rule still matched")
	}
	if !policy.IsSuperAdmin(ptr(contextWithRole("x", 10))) || policy.IsSuperAdmin(ptr(contextWithRole("x", 9))) {
		t.Fatalf("super admin threshold mismatch")
	}
}

func TestUserContextIsCopiedOutOfContext(t *testing.T) {
	ctx := ContextWithUser(context.Background(), operatorContext())
	first, ok := UserFromContext(ctx)
	if !ok {
		t.Fatalf("expected user in context")
	}
	first.Role.Level = 99
	second, _ := UserFromContext(ctx)
	if second.Role.Level != 1 {
		t.Fatalf("snapshot was mutated through a returned copy")
	}
	first.Permissions[0] = PermUsersEdit
	for cat := range first.PermissionsDetailed {
		first.PermissionsDetailed[cat][0].Name = "tampered"
		first.PermissionsDetailed["extra"] = nil
		break
	}
	third, _ := UserFromContext(ctx)
	if third.Permissions[0] == PermUsersEdit {
		t.Fatalf("permissions slice shared with the attached snapshot")
	}
	if _, ok := third.PermissionsDetailed["extra"]; ok {
		t.Fatalf("grouped permissions map shared with the attached snapshot")
	}
	for _, refs := range third.PermissionsDetailed {
		for _, ref := range refs {
			if ref.Name == "tampered" {
				t.Fatalf("grouped permission refs shared with the attached snapshot")
			}
		}
	}
	if _, ok := UserFromContext(context.Background()); ok {
		t.Fatalf("expected no user")
	}
}

func ptr[T any](v T) *T { return &v }
