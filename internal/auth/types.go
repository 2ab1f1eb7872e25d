package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle of users, roles and permissions. Storage keeps it as an
// is_active boolean.
type State int

const (
	StateInactive State = iota
	StateActive
)

// StateOf converts the persisted flag.
func StateOf(active bool) State {
	if active {
		return StateActive
	}
	return StateInactive
}

func (s State) Active() bool { return s == StateActive }

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "inactive"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = StateActive
	case "inactive":
		*s = StateInactive
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidInput, string(b))
	}
	return nil
}

// Scan implements sql.Scanner for boolean columns.
func (s *State) Scan(src any) error {
	switch v := src.(type) {
	case bool:
		*s = StateOf(v)
	case int64:
		*s = StateOf(v != 0)
	case []byte:
		*s = StateOf(string(v) == "t" || string(v) == "true" || string(v) == "1")
	case string:
		*s = StateOf(v == "t" || v == "true" || v == "1")
	case nil:
		*s = StateInactive
	default:
		return fmt.Errorf("state: unsupported type %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (s State) Value() (driver.Value, error) { return s.Active(), nil }

type User struct {
	ID          int64      `json:"id" db:"id"`
	Username    string     `json:"username" db:"username"`
	RoleID      int64      `json:"role_id" db:"role_id"`
	State       State      `json:"state" db:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// UserListing is a user row joined with its role for administrative screens.
type UserListing struct {
	User
	RoleName        string `json:"role_name" db:"role_name"`
	RoleDisplayName string `json:"role_display_name" db:"role_display_name"`
	RoleLevel       int    `json:"role_level" db:"role_level"`
}

// NewUser carries the fields accepted when an administrator creates an account.
type NewUser struct {
	Username     string
	PasswordHash string
	RoleID       int64
}

type Role struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Level       int       `json:"level" db:"level"`
	State       State     `json:"state" db:"is_active"`
	System      bool      `json:"is_system" db:"is_system"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Permission struct {
	ID          int64  `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	DisplayName string `json:"display_name" db:"display_name"`
	Category    string `json:"category" db:"category"`
	State       State  `json:"state" db:"is_active"`
}

// TokenStatus is the lifecycle of one refresh grant.
type TokenStatus int

const (
	TokenActive TokenStatus = iota
	TokenRotatedOut
	TokenRevoked
	TokenExpired
)

func (s TokenStatus) String() string {
	switch s {
	case TokenActive:
		return "active"
	case TokenRotatedOut:
		return "rotated_out"
	case TokenRevoked:
		return "revoked"
	default:
		return "expired"
	}
}

// RefreshToken is the server-side record of one outstanding refresh grant.
// The raw token is never stored, only its identifier.
type RefreshToken struct {
	UserID     int64     `db:"user_id"`
	TokenID    string    `db:"token_id"`
	ExpiresAt  time.Time `db:"expires_at"`
	State      State     `db:"is_active"`
	ReplacedBy string    `db:"replaced_by"`
	CreatedAt  time.Time `db:"created_at"`
}

// Status derives the terminal or active state. Deactivation wins over expiry so
// a rotated token keeps reporting rotated_out after its TTL passes.
func (t RefreshToken) Status(now time.Time) TokenStatus {
	switch {
	case !t.State.Active() && t.ReplacedBy != "":
		return TokenRotatedOut
	case !t.State.Active():
		return TokenRevoked
	case !now.Before(t.ExpiresAt):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Audit actions recorded for role and permission administration.
const (
	AuditUserCreated        = "user.create"
	AuditUserStateChanged   = "user.state.change"
	AuditUserRoleChanged    = "user.role.change"
	AuditRoleStateChanged   = "role.state.change"
	AuditRolePermissionsSet = "role.permissions.set"
)

// AuditEntry is an append-only record of an administrative action.
type AuditEntry struct {
	ID           string          `json:"id" db:"id"`
	ActorUserID  int64           `json:"actor_user_id" db:"actor_user_id"`
	Action       string          `json:"action" db:"action"`
	TargetUserID *int64          `json:"target_user_id,omitempty" db:"target_user_id"`
	TargetRoleID *int64          `json:"target_role_id,omitempty" db:"target_role_id"`
	Detail       json.RawMessage `json:"detail" db:"detail"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
