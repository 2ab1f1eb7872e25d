package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"adops.io/internal/auth"
	"adops.io/internal/store"
)

const userColumns = `id, username, role_id, is_active, last_login_at, created_at, updated_at`

func insertAudit(ctx context.Context, tx *sqlx.Tx, e auth.AuditEntry) error {
	detail := []byte(e.Detail)
	if len(detail) == 0 {
		detail = []byte("{}")
	}
	_, err := tx.ExecContext(ctx, `
		insert into permission_audit (id, actor_user_id, action, target_user_id, target_role_id, detail, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.ActorUserID, e.Action, e.TargetUserID, e.TargetRoleID, detail, e.CreatedAt)
	return classify(err)
}

func (s *Store) CreateUser(ctx context.Context, nu auth.NewUser, entry auth.AuditEntry) (auth.User, error) {
	var u auth.User
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &u, `
			insert into users (username, password_hash, role_id, is_active)
			values ($1, $2, $3, true)
			returning `+userColumns, nu.Username, nu.PasswordHash, nu.RoleID)
		if err != nil {
			return classify(err)
		}
		entry.TargetUserID = &u.ID
		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.UserListing, error) {
	users := []auth.UserListing{}
	err := s.db.SelectContext(ctx, &users, `
		select u.id, u.username, u.role_id, u.is_active, u.last_login_at, u.created_at, u.updated_at,
		       r.name as role_name, r.display_name as role_display_name, r.level as role_level
		from users u
		join roles r on r.id = u.role_id
		order by u.id
	`)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// SetUserState revokes every active refresh grant in the same transaction when
// the user is deactivated.
func (s *Store) SetUserState(ctx context.Context, userID int64, state auth.State, entry auth.AuditEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `update users set is_active = $2, updated_at = now() where id = $1`, userID, state.Active())
		if err != nil {
			return err
		}
		if err := requireAffected(res, store.ErrNotFound); err != nil {
			return err
		}
		if !state.Active() {
			if _, err := tx.ExecContext(ctx, `
				update refresh_tokens set is_active = false, revoked_at = now()
				where user_id = $1 and is_active
			`, userID); err != nil {
				return err
			}
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *Store) SetUserRole(ctx context.Context, userID, roleID int64, entry auth.AuditEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `update users set role_id = $2, updated_at = now() where id = $1`, userID, roleID)
		if err != nil {
			return classify(err)
		}
		if err := requireAffected(res, store.ErrNotFound); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *Store) GetRole(ctx context.Context, roleID int64) (auth.Role, error) {
	var r auth.Role
	err := s.db.GetContext(ctx, &r, `
		select id, name, display_name, level, is_active, is_system, created_at
		from roles
		where id = $1
	`, roleID)
	if err != nil {
		return auth.Role{}, classify(err)
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	roles := []auth.Role{}
	err := s.db.SelectContext(ctx, &roles, `
		select id, name, display_name, level, is_active, is_system, created_at
		from roles
		order by level desc, name
	`)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) SetRoleState(ctx context.Context, roleID int64, state auth.State, entry auth.AuditEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `update roles set is_active = $2 where id = $1`, roleID, state.Active())
		if err != nil {
			return err
		}
		if err := requireAffected(res, store.ErrNotFound); err != nil {
			return err
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	perms := []auth.Permission{}
	err := s.db.SelectContext(ctx, &perms, `
		select id, name, display_name, category, is_active
		from permissions
		order by category, name
	`)
	if err != nil {
		return nil, err
	}
	return perms, nil
}

// SetRolePermissions replaces the grant of a role. The role row is locked so two
// concurrent replacements serialize instead of interleaving.
func (s *Store) SetRolePermissions(ctx context.Context, roleID int64, names []string, entry auth.AuditEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var locked int64
		if err := tx.QueryRowxContext(ctx, `select id from roles where id = $1 for update`, roleID).Scan(&locked); err != nil {
			return classify(err)
		}
		ids := make([]int64, 0, len(names))
		for _, name := range names {
			var id int64
			err := tx.QueryRowxContext(ctx, `select id from permissions where name = $1`, name).Scan(&id)
			if err != nil {
				if errors.Is(classify(err), store.ErrNotFound) {
					return fmt.Errorf("%w: permission %s", store.ErrNotFound, name)
				}
				return err
			}
			ids = append(ids, id)
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions (role_id, permission_id) values ($1, $2)
			`, roleID, id); err != nil {
				return classify(err)
			}
		}
		return insertAudit(ctx, tx, entry)
	})
}

func (s *Store) ListAudit(ctx context.Context, limit int) ([]auth.AuditEntry, error) {
	entries := []auth.AuditEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		select id, actor_user_id, action, target_user_id, target_role_id, detail, created_at
		from permission_audit
		order by created_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
