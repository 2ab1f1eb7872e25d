package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"adops.io/internal/auth"
	"adops.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Machine-readable 401 codes. Clients refresh on TOKEN_EXPIRED and re-login on the rest.
const (
	CodeNoToken            = "NO_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidUser        = "INVALID_USER"
	CodeMalformedToken     = "MALFORMED_TOKEN"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeWrongTokenType     = "WRONG_TOKEN_TYPE"
	CodeNoRefreshToken     = "NO_REFRESH_TOKEN"
	CodeRefreshExpired     = "REFRESH_TOKEN_EXPIRED"
	CodeInvalidRefresh     = "INVALID_REFRESH_TOKEN"
	CodeUserInactive       = "USER_INACTIVE"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeForbidden          = "FORBIDDEN"
)

var errNoToken = errors.New("missing bearer token")

// protect runs authentication, then the guard, then h. A nil guard only
// requires authentication.
func (a *API) protect(guard auth.Guard, h http.HandlerFunc) http.Handler {
	return a.authenticate(requireGuard(guard, h))
}

// authenticate resolves the bearer token into a UserContext. Every failure is a
// 401 and the next handler is never reached.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, CodeNoToken, err.Error())
			return
		}

		uc, err := a.authn.Authenticate(r.Context(), token)
		if err != nil {
			code, ok := accessErrorCode(err)
			if !ok {
				a.log.Error("authentication failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(r.Context())))
				a.internalError(w, r, err)
				return
			}
			unauthorized(w, r, code, accessErrorMessage(code))
			return
		}

		ctx := auth.ContextWithUser(r.Context(), uc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireGuard evaluates guard against the resolved user. A request without a
// resolved user is rejected with 401 before the guard is consulted.
func requireGuard(guard auth.Guard, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc, ok := auth.UserFromContext(r.Context())
		if !ok {
			unauthorized(w, r, CodeNoToken, "authentication required")
			return
		}
		if guard != nil {
			if err := guard(*uc); err != nil {
				writeErrorCode(w, r, http.StatusForbidden, CodeForbidden, forbiddenMessage(err))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func accessErrorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return CodeTokenExpired, true
	case errors.Is(err, auth.ErrInvalidSignature):
		return CodeInvalidSignature, true
	case errors.Is(err, auth.ErrWrongTokenType):
		return CodeWrongTokenType, true
	case errors.Is(err, auth.ErrMalformedToken):
		return CodeMalformedToken, true
	case auth.IsIdentityError(err):
		return CodeInvalidUser, true
	default:
		return "", false
	}
}

func accessErrorMessage(code string) string {
	switch code {
	case CodeTokenExpired:
		return "access token expired"
	case CodeInvalidSignature:
		return "invalid token signature"
	case CodeWrongTokenType:
		return "wrong token type"
	case CodeInvalidUser:
		return "user not found or inactive"
	default:
		return "malformed token"
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, code, msg string) {
	obs.AuthFailure(code)
	w.Header().Set("WWW-Authenticate", `Bearer realm="adops"`)
	writeErrorCode(w, r, http.StatusUnauthorized, code, msg)
}

// forbiddenMessage names the missing grant. Only used after authentication.
func forbiddenMessage(err error) string {
	prefix := auth.ErrForbidden.Error() + ": "
	if msg := err.Error(); strings.HasPrefix(msg, prefix) {
		return msg[len(prefix):]
	}
	return "you don't have permission to perform this action"
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errNoToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
