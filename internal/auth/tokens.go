package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"adops.io/internal/store"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the payload of both token classes. TokenID is only set on refresh tokens.
type Claims struct {
	UserID  int64  `json:"userId"`
	Type    string `json:"type"`
	TokenID string `json:"tokenId,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is returned to clients by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshTokenID   string    `json:"-"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// TokenService mints and validates access and refresh tokens and keeps refresh
// grants in a RefreshTokenStore.
type TokenService struct {
	store         RefreshTokenStore
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
	newTokenID    func() string
}

type TokenOption func(*TokenService)

func WithAccessTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTokenIDs overrides the refresh token id generator.
func WithTokenIDs(fn func() string) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.newTokenID = fn
		}
	}
}

// NewTokenService requires two distinct non-empty secrets so that a token of one
// class can never verify as the other.
func NewTokenService(store RefreshTokenStore, accessSecret, refreshSecret string, opts ...TokenOption) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("refresh token store is required")
	}
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	s := &TokenService{
		store:         store,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     DefaultAccessTTL,
		refreshTTL:    DefaultRefreshTTL,
		now:           time.Now,
		newTokenID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueTokenPair persists a fresh refresh grant and returns both tokens.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID int64) (TokenPair, error) {
	pair, row, err := s.mint(userID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.SaveRefreshToken(ctx, row); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

func (s *TokenService) mint(userID int64) (TokenPair, RefreshToken, error) {
	if userID <= 0 {
		return TokenPair{}, RefreshToken{}, fmt.Errorf("%w: user id must be positive", ErrInvalidInput)
	}
	now := s.now().UTC().Truncate(time.Second)
	accessExp := now.Add(s.accessTTL)
	refreshExp := now.Add(s.refreshTTL)
	tokenID := s.newTokenID()

	access, err := s.sign(Claims{
		UserID: userID,
		Type:   TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
	}, s.accessSecret)
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	refresh, err := s.sign(Claims{
		UserID:  userID,
		Type:    TokenTypeRefresh,
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}, s.refreshSecret)
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}

	pair := TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshTokenID:   tokenID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}
	row := RefreshToken{
		UserID:    userID,
		TokenID:   tokenID,
		ExpiresAt: refreshExp,
		State:     StateActive,
		CreatedAt: now,
	}
	return pair, row, nil
}

func (s *TokenService) sign(claims Claims, secret []byte) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, nil
}

// VerifyAccess checks an access token against the access secret.
func (s *TokenService) VerifyAccess(raw string) (Claims, error) {
	return s.verify(raw, TokenTypeAccess, s.accessSecret)
}

// VerifyRefresh checks a refresh token against the refresh secret.
func (s *TokenService) VerifyRefresh(raw string) (Claims, error) {
	claims, err := s.verify(raw, TokenTypeRefresh, s.refreshSecret)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenID == "" {
		return Claims{}, ErrMalformedToken
	}
	return claims, nil
}

func (s *TokenService) verify(raw, want string, secret []byte) (Claims, error) {
	if raw == "" {
		return Claims{}, ErrMalformedToken
	}

	// The type is read before the signature check: the two classes use different
	// secrets, so a token of the wrong class would otherwise look forged.
	var peek Claims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &peek); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if peek.Type != want {
		return Claims{}, ErrWrongTokenType
	}

	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Claims{}, ErrInvalidSignature
	default:
		return Claims{}, ErrMalformedToken
	}
	if claims.UserID <= 0 {
		return Claims{}, ErrMalformedToken
	}
	return claims, nil
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// deactivated in the same transaction that stores its successor, so a replay or
// a concurrent rotation of the same token fails with ErrInvalidRefreshToken.
func (s *TokenService) Rotate(ctx context.Context, raw string) (TokenPair, error) {
	claims, err := s.VerifyRefresh(raw)
	if err != nil {
		return TokenPair{}, err
	}
	return s.RotateClaims(ctx, claims)
}

// RotateClaims rotates an already verified refresh token.
func (s *TokenService) RotateClaims(ctx context.Context, claims Claims) (TokenPair, error) {
	if claims.Type != TokenTypeRefresh || claims.TokenID == "" {
		return TokenPair{}, ErrWrongTokenType
	}
	pair, row, err := s.mint(claims.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	err = s.store.RotateRefreshToken(ctx, claims.UserID, claims.TokenID, s.now().UTC(), row)
	switch {
	case err == nil:
		return pair, nil
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
		return TokenPair{}, ErrInvalidRefreshToken
	default:
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
}

// Revoke deactivates one refresh grant. Unknown and already revoked grants are not errors.
func (s *TokenService) Revoke(ctx context.Context, userID int64, tokenID string) error {
	if userID <= 0 || tokenID == "" {
		return nil
	}
	err := s.store.RevokeRefreshToken(ctx, userID, tokenID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeToken revokes the grant behind a raw refresh token. An expired token is
// still revoked since its identity is intact.
func (s *TokenService) RevokeToken(ctx context.Context, raw string) error {
	claims, err := s.VerifyRefresh(raw)
	if errors.Is(err, ErrTokenExpired) {
		claims, err = s.expiredRefreshClaims(raw)
	}
	if err != nil {
		return err
	}
	return s.Revoke(ctx, claims.UserID, claims.TokenID)
}

func (s *TokenService) expiredRefreshClaims(raw string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.refreshSecret, nil
	}); err != nil {
		return Claims{}, ErrMalformedToken
	}
	if claims.Type != TokenTypeRefresh || claims.TokenID == "" {
		return Claims{}, ErrWrongTokenType
	}
	return claims, nil
}
