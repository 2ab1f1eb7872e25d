package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"adops.io/internal/adops"
	"adops.io/internal/auth"
	"adops.io/internal/obs"
)

const serviceName = "adops-api"

// readinessChecker reports whether dependencies (database) are reachable.
type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe checks a dependency, usually a database ping. A nil Ping is always ready.
type ReadyProbe struct {
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Ping == nil {
		return nil
	}
	return rp.Ping(ctx)
}

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Authenticator *auth.Authenticator
	Login         *auth.LoginService
	RBAC          *auth.RBACService
	Ads           *adops.Service
	Ready         ReadyProbe
	Logger        *zap.Logger
	Version       string
	// Development exposes underlying error strings in 500 responses.
	Development  bool
	CORSOrigins  []string
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   float64
	// TrustedProxies may set X-Forwarded-For for rate limiting.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	authn   *auth.Authenticator
	login   *auth.LoginService
	rbac    *auth.RBACService
	ads     *adops.Service
	ready   readinessChecker
	log     *zap.Logger
	version string
	dev     bool

	corsOrigins  []string
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
	trusted      []netip.Prefix
}

func New(d Deps) (*API, error) {
	if d.Authenticator == nil || d.Login == nil || d.RBAC == nil || d.Ads == nil {
		return nil, errors.New("httpapi: authenticator, login, rbac and ads services are required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 1 << 20
	}
	if d.RateBurst <= 0 {
		d.RateBurst = 10
	}
	if d.RatePerSec <= 0 {
		d.RatePerSec = 5
	}
	a := &API{
		mux:          http.NewServeMux(),
		authn:        d.Authenticator,
		login:        d.Login,
		rbac:         d.RBAC,
		ads:          d.Ads,
		ready:        d.Ready,
		log:          d.Logger,
		version:      d.Version,
		dev:          d.Development,
		corsOrigins:  d.CORSOrigins,
		maxBodyBytes: d.MaxBodyBytes,
		rateBurst:    d.RateBurst,
		ratePerSec:   d.RatePerSec,
		trusted:      d.TrustedProxies,
	}
	a.routes()
	return a, nil
}

// Handler returns the mux wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(a.log)(h)
	return RequestID(h)
}

func (a *API) routes() {
	// health/ready/metrics
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth: rate limited per client IP
	authLimited := func(h http.HandlerFunc) http.Handler {
		return RateLimit(h, a.rateBurst, a.ratePerSec, a.trusted)
	}
	a.mux.Handle("POST /api/auth/login", authLimited(a.handleLogin))
	a.mux.Handle("POST /api/auth/refresh", authLimited(a.handleRefresh))
	a.mux.Handle("POST /api/auth/logout", authLimited(a.handleLogout))
	a.mux.Handle("GET /api/auth/me", a.protect(nil, a.handleMe))

	policy := a.rbac.Policy()
	adminLevel := auth.RequireRoleLevel(policy.Level)
	canViewPermissions := auth.RequireAnyPermission(auth.PermPermissionsView, auth.PermPermissionsManage)

	// users
	a.mux.Handle("GET /api/users", a.protect(auth.RequirePermission(auth.PermUsersView), a.handleListUsers))
	a.mux.Handle("POST /api/users", a.protect(auth.RequireAdmin(policy), a.handleCreateUser))
	a.mux.Handle("PATCH /api/users/{id}/status", a.protect(auth.All(auth.RequirePermission(auth.PermUsersEdit), adminLevel), a.handleSetUserStatus))
	a.mux.Handle("PUT /api/users/{id}/role", a.protect(adminLevel, a.handleSetUserRole))

	// roles and permissions
	a.mux.Handle("GET /api/permissions", a.protect(canViewPermissions, a.handlePermissionCatalog))
	a.mux.Handle("GET /api/permissions/audit", a.protect(canViewPermissions, a.handlePermissionAudit))
	a.mux.Handle("GET /api/roles", a.protect(canViewPermissions, a.handleListRoles))
	a.mux.Handle("PUT /api/roles/{id}/permissions", a.protect(auth.RequirePermission(auth.PermPermissionsManage), a.handleSetRolePermissions))
	a.mux.Handle("PATCH /api/roles/{id}/status", a.protect(auth.RequireRole(auth.RoleSuperAdmin), a.handleSetRoleStatus))

	// cards
	a.mux.Handle("GET /api/cards", a.protect(auth.RequirePermission(auth.PermCardsView), a.handleListCards))
	a.mux.Handle("POST /api/cards", a.protect(auth.RequirePermission(auth.PermCardsCreate), a.handleCreateCard))
	a.mux.Handle("GET /api/cards/{id}", a.protect(auth.RequirePermission(auth.PermCardsView), a.handleGetCard))
	a.mux.Handle("PUT /api/cards/{id}", a.protect(auth.RequirePermission(auth.PermCardsEdit), a.handleUpdateCard))
	a.mux.Handle("DELETE /api/cards/{id}", a.protect(auth.RequirePermission(auth.PermCardsDelete), a.handleDeleteCard))

	// card users
	a.mux.Handle("GET /api/cards/{id}/users", a.protect(auth.RequirePermission(auth.PermCardUsersView), a.handleListCardUsers))
	a.mux.Handle("POST /api/cards/{id}/users", a.protect(auth.RequirePermission(auth.PermCardUsersManage), a.handleCreateCardUser))
	a.mux.Handle("DELETE /api/card-users/{id}", a.protect(auth.RequirePermission(auth.PermCardUsersManage), a.handleDeleteCardUser))

	// reports
	a.mux.Handle("GET /api/reports", a.protect(auth.RequirePermission(auth.PermReportsView), a.handleListReports))
	a.mux.Handle("GET /api/reports/summary", a.protect(auth.RequirePermission(auth.PermReportsView), a.handleReportSummary))
	a.mux.Handle("POST /api/reports", a.protect(auth.RequirePermission(auth.PermReportsCreate), a.handleCreateReport))
	a.mux.Handle("GET /api/reports/{id}", a.protect(auth.RequirePermission(auth.PermReportsView), a.handleGetReport))
	a.mux.Handle("DELETE /api/reports/{id}", a.protect(auth.RequirePermission(auth.PermReportsDelete), a.handleDeleteReport))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		a.log.Warn("readiness check failed", zap.Error(err))
		payload := map[string]any{"status": "not_ready"}
		if a.dev {
			payload["error"] = err.Error()
		}
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
