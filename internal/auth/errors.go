package auth

import "errors"

// Authentication failures. Each maps to its own client-facing code so callers can
// tell "refresh and retry" apart from "log in again".
var (
	ErrMalformedToken      = errors.New("auth: malformed token")
	ErrInvalidSignature    = errors.New("auth: invalid token signature")
	ErrTokenExpired        = errors.New("auth: token expired")
	ErrWrongTokenType      = errors.New("auth: wrong token type")
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")

	ErrUserNotFound = errors.New("auth: user not found")
	ErrUserInactive = errors.New("auth: user inactive")
	ErrRoleInactive = errors.New("auth: role inactive")
)

var (
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// IsIdentityError reports whether err means the token's subject can no longer act.
func IsIdentityError(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrUserInactive) || errors.Is(err, ErrRoleInactive)
}
