package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"adops.io/internal/adops"
	"adops.io/internal/auth"
	"adops.io/internal/privacy"
	"adops.io/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(sqlx.NewDb(db, "pgx")), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRotateRefreshTokenCommits(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	next := auth.RefreshToken{UserID: 1, TokenID: "new", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").
		WithArgs(int64(1), "old", "new", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(int64(1), "new", next.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.RotateRefreshToken(context.Background(), 1, "old", now, next); err != nil {
		t.Fatalf("RotateRefreshToken: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRotateRefreshTokenConflictRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RotateRefreshToken(context.Background(), 1, "used", now, auth.RefreshToken{UserID: 1, TokenID: "n"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestRevokeRefreshTokenMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update refresh_tokens").WithArgs(int64(3), "gone").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.RevokeRefreshToken(context.Background(), 3, "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestUserWithRole(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "username", "role_id", "is_active", "last_login_at", "created_at", "updated_at",
		"id", "name", "display_name", "level", "is_active", "is_system", "created_at"}
	mock.ExpectQuery("from users u\\s+join roles r").WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(4, "op", 2, true, nil, now, now, 2, "operator", "Operator", 1, false, false, now))
	mock.ExpectQuery("from users u\\s+join roles r").WithArgs(int64(5)).WillReturnError(sql.ErrNoRows)

	u, r, err := s.UserWithRole(context.Background(), 4)
	if err != nil {
		t.Fatalf("UserWithRole: %v", err)
	}
	if !u.State.Active() || r.State.Active() || r.Level != 1 || u.LastLoginAt != nil {
		t.Fatalf("unexpected rows: %+v %+v", u, r)
	}
	if _, _, err := s.UserWithRole(context.Background(), 5); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestSetUserStateDeactivationRevokesTokens(t *testing.T) {
	s, mock := newMockStore(t)
	uid := int64(9)
	entry := auth.AuditEntry{ID: "01J", ActorUserID: 1, Action: auth.AuditUserStateChanged, TargetUserID: &uid, Detail: json.RawMessage(`{"to":"inactive"}`)}

	mock.ExpectBegin()
	mock.ExpectExec("update users set is_active").WithArgs(uid, false).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update refresh_tokens set is_active = false").WithArgs(uid).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into permission_audit").
		WithArgs("01J", int64(1), auth.AuditUserStateChanged, &uid, nil, []byte(`{"to":"inactive"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := s.SetUserState(context.Background(), uid, auth.StateInactive, entry); err != nil {
		t.Fatalf("SetUserState: %v", err)
	}
	expectationsMet(t, mock)
}

func TestSetRolePermissionsUnknownName(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select id from roles where id = \\$1 for update").WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery("select id from permissions where name").WithArgs("cards.view").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("select id from permissions where name").WithArgs("bogus").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.SetRolePermissions(context.Background(), 2, []string{"cards.view", "bogus"}, auth.AuditEntry{})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

var cardCols = []string{"id", "name", "bank", "last_four", "status", "notes", "created_by", "created_at", "updated_at"}

func TestListCardsScopeComesFirst(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	q := regexp.QuoteMeta(`from cards c WHERE c.created_by = $1 AND c.status = $2 AND (c.name ILIKE $3 OR c.bank ILIKE $4) order by c.id desc limit $5 offset $6`)
	mock.ExpectQuery(q).
		WithArgs(int64(7), "active", `%50\%%`, `%50\%%`, 50, 0).
		WillReturnRows(sqlmock.NewRows(cardCols).AddRow(1, "Visa 50%", "Bank", "4242", "active", "", 7, now, now))

	cards, err := s.ListCards(context.Background(), privacy.OwnedBy(7), adops.CardFilter{Search: "50%", Status: adops.CardActive, Limit: 50})
	if err != nil {
		t.Fatalf("ListCards: %v", err)
	}
	if len(cards) != 1 || cards[0].Status != adops.CardActive || cards[0].CreatedBy != 7 {
		t.Fatalf("cards = %+v", cards)
	}
	expectationsMet(t, mock)
}

func TestListCardsDeniedScopeMatchesNothing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`from cards c WHERE 1 = 0 order by`)).
		WillReturnRows(sqlmock.NewRows(cardCols))
	cards, err := s.ListCards(context.Background(), privacy.Scope{}, adops.CardFilter{Limit: 10})
	if err != nil || len(cards) != 0 {
		t.Fatalf("ListCards = %v, %v", cards, err)
	}
	expectationsMet(t, mock)
}

func TestCardNameTakenAdminIsGlobal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select exists (select 1 from cards c WHERE lower(c.name) = lower($1))`)).
		WithArgs("Visa").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	taken, err := s.CardNameTaken(context.Background(), privacy.AllOwners(), "Visa", 0)
	if err != nil || !taken {
		t.Fatalf("CardNameTaken = %v, %v", taken, err)
	}
	expectationsMet(t, mock)
}

func TestCreateCardDuplicateRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into cards").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "cards_owner_name_key"})
	mock.ExpectRollback()

	_, err := s.CreateCard(context.Background(), adops.CardInput{Name: "Visa", Status: adops.CardActive}, 1)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCreateCardReadsBack(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("insert into cards").
		WithArgs("Visa", "", "", "active", "", int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery("from cards c where c.id = \\$1").WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows(cardCols).AddRow(11, "Visa", "", "", "active", "", 3, now, now))
	mock.ExpectCommit()

	c, err := s.CreateCard(context.Background(), adops.CardInput{Name: "Visa", Status: adops.CardActive}, 3)
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if c.ID != 11 || c.CreatedBy != 3 {
		t.Fatalf("card = %+v", c)
	}
	expectationsMet(t, mock)
}

func TestDeleteCardReferenced(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from cards").WithArgs(int64(4)).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "reports_card_id_fkey"})
	if err := s.DeleteCard(context.Background(), 4); !errors.Is(err, store.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestSummarizeReportsScopeBeforeFilters(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)left join cards c on c.id = r.card_id WHERE r.created_by = \$1 AND r.report_date >= \$2\s+group by`).
		WithArgs(int64(2), from).
		WillReturnRows(sqlmock.NewRows([]string{"card_id", "card_name", "reports", "spend_cents", "impressions", "clicks"}).
			AddRow(5, "Visa", 3, 1200, 300, 9).
			AddRow(nil, "", 1, 0, 10, 0))

	out, err := s.SummarizeReports(context.Background(), privacy.OwnedBy(2), adops.ReportFilter{From: &from})
	if err != nil {
		t.Fatalf("SummarizeReports: %v", err)
	}
	if len(out) != 2 || out[0].CardID == nil || *out[0].CardID != 5 || out[1].CardID != nil {
		t.Fatalf("summary = %+v", out)
	}
	expectationsMet(t, mock)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("insert into users").
		WithArgs("root", "hash", auth.RoleSuperAdmin).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into users").
		WithArgs("root", "hash", auth.RoleSuperAdmin).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.EnsureBootstrapAdmin(context.Background(), "root", "hash")
	if err != nil || !created {
		t.Fatalf("expected first call to create, got %v %v", created, err)
	}
	created, err = s.EnsureBootstrapAdmin(context.Background(), "root", "hash")
	if err != nil || created {
		t.Fatalf("expected second call to be a no-op, got %v %v", created, err)
	}
	if _, err := s.EnsureBootstrapAdmin(context.Background(), "", "hash"); err == nil {
		t.Fatal("expected error for empty username")
	}
	expectationsMet(t, mock)
}
