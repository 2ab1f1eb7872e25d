// Package privacy implements the ownership rule shared by every resource handler:
// admin-tier users see all rows, everyone else sees the rows they created.
//
// Handlers compute a Scope once per request and hand it to the store. SQL stores
// start their WHERE clause from Scope.Where so the ownership predicate always
// precedes caller-supplied filters.
package privacy

import (
	"errors"
	"strings"

	"adops.io/internal/auth"
)

var (
	ErrNotFound = errors.New("privacy: record not found")
	ErrNotOwner = errors.New("privacy: you can only act on records you created")

	// ErrScopeAfterFilters is returned when the ownership predicate would be
	// appended after caller filters.
	ErrScopeAfterFilters = errors.New("privacy: ownership scope must be applied before filters")
)

// matchNothing keeps queries valid while returning no rows.
const matchNothing = "1 = 0"

// Policy decides ownership questions for a given admin policy.
type Policy struct {
	admin auth.AdminPolicy
}

func NewPolicy(admin auth.AdminPolicy) Policy {
	return Policy{admin: admin}
}

func (p Policy) Admin() auth.AdminPolicy { return p.admin }

// IsAdminOrOwner fails closed on a nil context.
func (p Policy) IsAdminOrOwner(uc *auth.UserContext, ownerID int64) bool {
	return p.ScopeFor(uc).Allows(ownerID)
}

// ScopeFor computes the visibility scope of uc.
func (p Policy) ScopeFor(uc *auth.UserContext) Scope {
	switch {
	case uc == nil || uc.UserID <= 0:
		return Scope{deny: true}
	case p.admin.IsAdmin(uc):
		return Scope{all: true}
	default:
		return Scope{ownerID: uc.UserID}
	}
}

// ScopeToOwner appends the ownership predicate for uc to w. It must be the first
// predicate; admin contexts leave w untouched.
func (p Policy) ScopeToOwner(uc *auth.UserContext, w *Where, column string) error {
	return p.ScopeFor(uc).Apply(w, column)
}

// Scoped starts a WHERE accumulator with the ownership predicate already applied.
func (p Policy) Scoped(uc *auth.UserContext, column string) *Where {
	return p.ScopeFor(uc).Where(column)
}

// Guard is the single-row check used by get, update and delete handlers.
// A missing row is ErrNotFound; an existing row owned by someone else is ErrNotOwner.
func (p Policy) Guard(uc *auth.UserContext, found bool, ownerID int64) error {
	if !found {
		return ErrNotFound
	}
	if !p.IsAdminOrOwner(uc, ownerID) {
		return ErrNotOwner
	}
	return nil
}

// Scope is the set of owners whose rows a request may see. The zero value
// denies everything.
type Scope struct {
	ownerID int64
	all     bool
	deny    bool
}

// AllOwners is the unrestricted scope used by internal callers.
func AllOwners() Scope { return Scope{all: true} }

// OwnedBy restricts to a single owner.
func OwnedBy(ownerID int64) Scope {
	if ownerID <= 0 {
		return Scope{deny: true}
	}
	return Scope{ownerID: ownerID}
}

func (s Scope) Unrestricted() bool { return s.all }

// OwnerID returns the owner the scope is restricted to, if any.
func (s Scope) OwnerID() (int64, bool) {
	if s.all || s.deny || s.ownerID <= 0 {
		return 0, false
	}
	return s.ownerID, true
}

func (s Scope) Allows(ownerID int64) bool {
	switch {
	case s.all:
		return true
	case s.deny || s.ownerID <= 0:
		return false
	default:
		return s.ownerID == ownerID
	}
}

// Apply appends the ownership predicate on column. It refuses to run on an
// accumulator that already holds predicates.
func (s Scope) Apply(w *Where, column string) error {
	if w == nil {
		return errors.New("privacy: nil where accumulator")
	}
	if w.Len() > 0 {
		return ErrScopeAfterFilters
	}
	if s.all {
		return nil
	}
	if id, ok := s.OwnerID(); ok {
		w.Add(column+" = ?", id)
		return nil
	}
	w.Add(matchNothing)
	return nil
}

// Where returns a fresh accumulator with the scope applied.
func (s Scope) Where(column string) *Where {
	w := &Where{}
	_ = s.Apply(w, column)
	return w
}

// Where accumulates AND-ed predicates with "?" placeholders. Callers rebind the
// final query for their driver.
type Where struct {
	clauses []string
	args    []any
}

// Add appends one predicate and its arguments.
func (w *Where) Add(clause string, args ...any) *Where {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
	return w
}

// AddIf appends only when cond holds.
func (w *Where) AddIf(cond bool, clause string, args ...any) *Where {
	if cond {
		w.Add(clause, args...)
	}
	return w
}

func (w *Where) Len() int { return len(w.clauses) }

func (w *Where) Clauses() []string { return append([]string(nil), w.clauses...) }

func (w *Where) Args() []any { return append([]any(nil), w.args...) }

// SQL renders " WHERE a AND b" or an empty string.
func (w *Where) SQL() (string, []any) {
	if len(w.clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(w.clauses, " AND "), w.Args()
}
