package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adops.io/internal/store"
)

// LoginService checks credentials and issues a token pair.
type LoginService struct {
	creds    CredentialStore
	identity *IdentityResolver
	tokens   *TokenService
	now      func() time.Time
}

func NewLoginService(creds CredentialStore, identity *IdentityResolver, tokens *TokenService) (*LoginService, error) {
	if creds == nil || identity == nil || tokens == nil {
		return nil, errors.New("login dependencies are required")
	}
	return &LoginService{creds: creds, identity: identity, tokens: tokens, now: time.Now}, nil
}

// Login returns ErrInvalidCredentials for unknown users, wrong passwords and
// inactive accounts alike.
func (s *LoginService) Login(ctx context.Context, username, password string) (TokenPair, UserContext, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return TokenPair{}, UserContext{}, ErrInvalidCredentials
	}
	user, hash, err := s.creds.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenPair{}, UserContext{}, ErrInvalidCredentials
		}
		return TokenPair{}, UserContext{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := VerifyPassword(hash, password); err != nil {
		return TokenPair{}, UserContext{}, ErrInvalidCredentials
	}
	uc, err := s.identity.LoadContext(ctx, user.ID)
	if err != nil {
		if IsIdentityError(err) {
			return TokenPair{}, UserContext{}, ErrInvalidCredentials
		}
		return TokenPair{}, UserContext{}, err
	}
	now := s.now().UTC()
	if err := s.creds.TouchLastLogin(ctx, user.ID, now); err != nil {
		return TokenPair{}, UserContext{}, fmt.Errorf("touch last login: %w", err)
	}
	pair, err := s.tokens.IssueTokenPair(ctx, user.ID)
	if err != nil {
		return TokenPair{}, UserContext{}, err
	}
	uc.LastLogin = &now
	return pair, uc, nil
}
