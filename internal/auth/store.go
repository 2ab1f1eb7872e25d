package auth

import (
	"context"
	"time"
)

// IdentityStore loads the authorization view of a user.
type IdentityStore interface {
	// UserWithRole returns store.ErrNotFound when the user does not exist.
	UserWithRole(ctx context.Context, userID int64) (User, Role, error)
	// UserPermissions returns the active permissions granted through the user's role.
	UserPermissions(ctx context.Context, userID int64) ([]Permission, error)
}

// RefreshTokenStore persists refresh grants keyed by (user, token id).
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, tok RefreshToken) error
	// RotateRefreshToken deactivates (userID, oldTokenID) only while it is active and
	// unexpired at now, and stores next in the same transaction. It returns
	// store.ErrConflict when no active row matched.
	RotateRefreshToken(ctx context.Context, userID int64, oldTokenID string, now time.Time, next RefreshToken) error
	RevokeRefreshToken(ctx context.Context, userID int64, tokenID string) error
}

// CredentialStore backs password login.
type CredentialStore interface {
	// UserByUsername returns the user and its password hash.
	UserByUsername(ctx context.Context, username string) (User, string, error)
	TouchLastLogin(ctx context.Context, userID int64, at time.Time) error
}

// AdminStore manages users, roles and the permission catalog. Every mutation
// writes its audit entry in the same transaction.
type AdminStore interface {
	CreateUser(ctx context.Context, u NewUser, entry AuditEntry) (User, error)
	ListUsers(ctx context.Context) ([]UserListing, error)
	// SetUserState also revokes every refresh token of the user on deactivation.
	SetUserState(ctx context.Context, userID int64, state State, entry AuditEntry) error
	SetUserRole(ctx context.Context, userID, roleID int64, entry AuditEntry) error

	GetRole(ctx context.Context, roleID int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	SetRoleState(ctx context.Context, roleID int64, state State, entry AuditEntry) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	// SetRolePermissions returns store.ErrNotFound if any name is not in the catalog.
	SetRolePermissions(ctx context.Context, roleID int64, names []string, entry AuditEntry) error

	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}
