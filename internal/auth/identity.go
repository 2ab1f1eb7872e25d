package auth

import (
	"context"
	"errors"
	"fmt"

	"adops.io/internal/store"
)

// IdentityResolver turns a verified user id into a UserContext. Every call hits
// the store; there is no cross-request cache.
type IdentityResolver struct {
	store IdentityStore
}

func NewIdentityResolver(store IdentityStore) (*IdentityResolver, error) {
	if store == nil {
		return nil, errors.New("identity store is required")
	}
	return &IdentityResolver{store: store}, nil
}

// LoadContext requires both the user and its role to be active.
func (r *IdentityResolver) LoadContext(ctx context.Context, userID int64) (UserContext, error) {
	user, role, err := r.store.UserWithRole(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return UserContext{}, ErrUserNotFound
		}
		return UserContext{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !user.State.Active() {
		return UserContext{}, ErrUserInactive
	}
	if !role.State.Active() {
		return UserContext{}, ErrRoleInactive
	}
	perms, err := r.LoadPermissions(ctx, userID)
	if err != nil {
		return UserContext{}, err
	}
	return NewUserContext(user, role, perms), nil
}

// LoadPermissions returns the active permissions granted through the user's role.
func (r *IdentityResolver) LoadPermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	perms, err := r.store.UserPermissions(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("load permissions for user %d: %w", userID, err)
	}
	return NewPermissionSet(perms), nil
}

// Authenticator verifies an access token and resolves its subject. It is the
// single entry point used by the HTTP and gRPC layers.
type Authenticator struct {
	tokens   *TokenService
	resolver *IdentityResolver
}

func NewAuthenticator(tokens *TokenService, resolver *IdentityResolver) (*Authenticator, error) {
	if tokens == nil || resolver == nil {
		return nil, errors.New("token service and identity resolver are required")
	}
	return &Authenticator{tokens: tokens, resolver: resolver}, nil
}

func (a *Authenticator) Tokens() *TokenService { return a.tokens }

func (a *Authenticator) Resolver() *IdentityResolver { return a.resolver }

// Authenticate returns token errors (ErrTokenExpired, ErrMalformedToken, ...) or
// identity errors (ErrUserNotFound, ErrUserInactive, ErrRoleInactive).
func (a *Authenticator) Authenticate(ctx context.Context, rawAccess string) (UserContext, error) {
	claims, err := a.tokens.VerifyAccess(rawAccess)
	if err != nil {
		return UserContext{}, err
	}
	return a.resolver.LoadContext(ctx, claims.UserID)
}
