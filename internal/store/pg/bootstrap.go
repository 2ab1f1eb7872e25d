package pg

import (
	"context"
	"errors"

	"adops.io/internal/auth"
)

// EnsureBootstrapAdmin creates the first super admin account while the users
// table is empty. It reports whether a row was inserted.
func (s *Store) EnsureBootstrapAdmin(ctx context.Context, username, passwordHash string) (bool, error) {
	if username == "" || passwordHash == "" {
		return false, errors.New("bootstrap admin: username and password hash are required")
	}
	res, err := s.db.ExecContext(ctx, `
		insert into users (username, password_hash, role_id, is_active)
		select $1, $2, r.id, true
		from roles r
		where r.name = $3 and not exists (select 1 from users)
		on conflict (username) do nothing
	`, username, passwordHash, auth.RoleSuperAdmin)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
