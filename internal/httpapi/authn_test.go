package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"adops.io/internal/auth"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func withUser(r *http.Request, role string, level int, perms ...string) *http.Request {
	var list []auth.Permission
	for _, p := range perms {
		list = append(list, auth.Permission{Name: p, Category: "test", State: auth.StateActive})
	}
	uc := auth.NewUserContext(auth.User{ID: 7, Username: "u7"}, auth.Role{ID: 1, Name: role, Level: level}, auth.NewPermissionSet(list))
	return r.WithContext(auth.ContextWithUser(r.Context(), uc))
}

func TestRequireGuardAllowsMatchingPermission(t *testing.T) {
	handler := requireGuard(auth.RequirePermission(auth.PermCardsView), http.HandlerFunc(okHandler))

	req := withUser(httptest.NewRequest(http.MethodGet, "/api/cards", nil), auth.RoleOperator, 1, auth.PermCardsView)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireGuardRejectsMissingRole(t *testing.T) {
	handler := requireGuard(auth.RequireRole(auth.RoleSuperAdmin), http.HandlerFunc(okHandler))

	req := withUser(httptest.NewRequest(http.MethodGet, "/internal", nil), auth.RoleAdmin, 8)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != CodeForbidden || body.Error != "role super_admin required" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRequireGuardRejectsMissingUser(t *testing.T) {
	called := false
	guard := func(auth.UserContext) error {
		called = true
		return nil
	}
	handler := requireGuard(guard, http.HandlerFunc(okHandler))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/internal", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if called {
		t.Fatal("guard must not run without a resolved user")
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]struct {
		token string
		fail  bool
	}{
		"":             {fail: true},
		"Bearer ":      {fail: true},
		"Basic abc":    {fail: true},
		"Bearer abc":   {token: "abc"},
		"bearer  abc ": {token: "abc"},
		"Bearerabc":    {fail: true},
	}
	for header, want := range cases {
		got, err := extractBearerToken(header)
		if want.fail {
			if err == nil {
				t.Fatalf("%q: expected error", header)
			}
			continue
		}
		if err != nil || got != want.token {
			t.Fatalf("%q: got %q, %v", header, got, err)
		}
	}
}

func TestAccessErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{auth.ErrTokenExpired, CodeTokenExpired},
		{auth.ErrInvalidSignature, CodeInvalidSignature},
		{auth.ErrWrongTokenType, CodeWrongTokenType},
		{fmt.Errorf("parse: %w", auth.ErrMalformedToken), CodeMalformedToken},
		{auth.ErrUserNotFound, CodeInvalidUser},
		{auth.ErrUserInactive, CodeInvalidUser},
		{auth.ErrRoleInactive, CodeInvalidUser},
	}
	for _, tc := range cases {
		code, ok := accessErrorCode(tc.err)
		if !ok || code != tc.code {
			t.Fatalf("%v: got %q, %v", tc.err, code, ok)
		}
	}
	if _, ok := accessErrorCode(errors.New("db down")); ok {
		t.Fatal("storage errors must not map to a 401 code")
	}
}
