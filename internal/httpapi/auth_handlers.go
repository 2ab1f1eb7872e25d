package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"adops.io/internal/auth"
	"adops.io/internal/obs"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	auth.TokenPair
	User auth.UserContext `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, uc, err := a.login.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.audit(r, "auth.login.failed", map[string]any{"username": strings.TrimSpace(req.Username)})
			unauthorized(w, r, CodeInvalidCredentials, "invalid username or password")
			return
		}
		a.internalError(w, r, err)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), uc)
	a.audit(r.WithContext(ctx), "auth.login", map[string]any{"username": uc.Username})
	writeJSON(w, http.StatusOK, loginResponse{TokenPair: pair, User: uc})
}

// handleRefresh exchanges a refresh token for a new pair. The presented token
// stops working as soon as this returns successfully.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		a.refreshFailed(w, r, CodeNoRefreshToken, "refresh token is required")
		return
	}

	tokens := a.authn.Tokens()
	claims, err := tokens.VerifyRefresh(raw)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			a.refreshFailed(w, r, CodeRefreshExpired, "refresh token expired")
			return
		}
		a.refreshFailed(w, r, CodeInvalidRefresh, "invalid refresh token")
		return
	}

	if _, err := a.authn.Resolver().LoadContext(r.Context(), claims.UserID); err != nil {
		if !auth.IsIdentityError(err) {
			a.internalError(w, r, err)
			return
		}
		if rerr := tokens.Revoke(r.Context(), claims.UserID, claims.TokenID); rerr != nil {
			a.log.Warn("revoke refresh token of inactive user", zap.Int64("user_id", claims.UserID), zap.Error(rerr))
		}
		a.refreshFailed(w, r, CodeUserInactive, "user is inactive")
		return
	}

	pair, err := tokens.RotateClaims(r.Context(), claims)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			a.refreshFailed(w, r, CodeInvalidRefresh, "invalid refresh token")
			return
		}
		obs.RefreshRotation("error")
		a.internalError(w, r, err)
		return
	}
	obs.RefreshRotation("ok")
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) refreshFailed(w http.ResponseWriter, r *http.Request, code, msg string) {
	obs.RefreshRotation(code)
	unauthorized(w, r, code, msg)
}

// handleLogout always succeeds. Revocation failures are only logged.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.log.Debug("logout without readable body", zap.Error(err))
	}
	if raw := strings.TrimSpace(req.RefreshToken); raw != "" {
		if err := a.authn.Tokens().RevokeToken(r.Context(), raw); err != nil {
			a.log.Warn("logout revoke failed",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.Error(err),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}
