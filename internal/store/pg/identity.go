package pg

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"adops.io/internal/auth"
	"adops.io/internal/store"
)

func (s *Store) UserWithRole(ctx context.Context, userID int64) (auth.User, auth.Role, error) {
	var (
		u auth.User
		r auth.Role
	)
	err := s.db.QueryRowxContext(ctx, `
		select u.id, u.username, u.role_id, u.is_active, u.last_login_at, u.created_at, u.updated_at,
		       r.id, r.name, r.display_name, r.level, r.is_active, r.is_system, r.created_at
		from users u
		join roles r on r.id = u.role_id
		where u.id = $1
	`, userID).Scan(
		&u.ID, &u.Username, &u.RoleID, &u.State, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
		&r.ID, &r.Name, &r.DisplayName, &r.Level, &r.State, &r.System, &r.CreatedAt,
	)
	if err != nil {
		return auth.User{}, auth.Role{}, classify(err)
	}
	return u, r, nil
}

func (s *Store) UserPermissions(ctx context.Context, userID int64) ([]auth.Permission, error) {
	var perms []auth.Permission
	err := s.db.SelectContext(ctx, &perms, `
		select p.id, p.name, p.display_name, p.category, p.is_active
		from users u
		join role_permissions rp on rp.role_id = u.role_id
		join permissions p on p.id = rp.permission_id
		where u.id = $1 and p.is_active
		order by p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, string, error) {
	var row struct {
		auth.User
		PasswordHash string `db:"password_hash"`
	}
	err := s.db.GetContext(ctx, &row, `
		select id, username, role_id, is_active, last_login_at, created_at, updated_at, password_hash
		from users
		where username = $1
	`, username)
	if err != nil {
		return auth.User{}, "", classify(err)
	}
	return row.User, row.PasswordHash, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, userID, at)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}

func (s *Store) SaveRefreshToken(ctx context.Context, tok auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token_id, expires_at, is_active, created_at)
		values ($1, $2, $3, true, $4)
	`, tok.UserID, tok.TokenID, tok.ExpiresAt, tok.CreatedAt)
	return classify(err)
}

// RotateRefreshToken flips the old row with a conditional update. Of two
// concurrent rotations of the same row only one sees a row count of one.
func (s *Store) RotateRefreshToken(ctx context.Context, userID int64, oldTokenID string, now time.Time, next auth.RefreshToken) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update refresh_tokens
			set is_active = false, replaced_by = $3, revoked_at = $4
			where user_id = $1 and token_id = $2 and is_active and expires_at > $4
		`, userID, oldTokenID, next.TokenID, now)
		if err != nil {
			return err
		}
		if err := requireAffected(res, store.ErrConflict); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into refresh_tokens (user_id, token_id, expires_at, is_active, created_at)
			values ($1, $2, $3, true, $4)
		`, next.UserID, next.TokenID, next.ExpiresAt, next.CreatedAt)
		return classify(err)
	})
}

func (s *Store) RevokeRefreshToken(ctx context.Context, userID int64, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set is_active = false, revoked_at = coalesce(revoked_at, now())
		where user_id = $1 and token_id = $2
	`, userID, tokenID)
	if err != nil {
		return err
	}
	return requireAffected(res, store.ErrNotFound)
}
