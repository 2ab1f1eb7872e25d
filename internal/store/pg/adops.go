package pg

import (
	"context"

	"github.com/jmoiron/sqlx"

	"adops.io/internal/adops"
	"adops.io/internal/privacy"
	"adops.io/internal/store"
)

const cardColumns = `c.id, c.name, c.bank, c.last_four, c.status, c.notes, c.created_by, c.created_at, c.updated_at`

// ListCards starts the WHERE clause from the ownership scope; search and status
// filters can only narrow it.
func (s *Store) ListCards(ctx context.Context, scope privacy.Scope, f adops.CardFilter) ([]adops.Card, error) {
	w := scope.Where("c.created_by")
	w.AddIf(f.Status != "", "c.status = ?", f.Status)
	if f.Search != "" {
		like := containsPattern(f.Search)
		w.Add("(c.name ILIKE ? OR c.bank ILIKE ?)", like, like)
	}
	where, args := w.SQL()
	q := s.db.Rebind(`select ` + cardColumns + ` from cards c` + where + ` order by c.id desc limit ? offset ?`)
	cards := []adops.Card{}
	if err := s.db.SelectContext(ctx, &cards, q, append(args, f.Limit, f.Offset)...); err != nil {
		return nil, err
	}
	return cards, nil
}

func (s *Store) GetCard(ctx context.Context, id int64) (adops.Card, error) {
	var c adops.Card
	if err := s.db.GetContext(ctx, &c, `select `+cardColumns+` from cards c where c.id = $1`, id); err != nil {
		return adops.Card{}, classify(err)
	}
	return c, nil
}

func (s *Store) CardNameTaken(ctx context.Context, scope privacy.Scope, name string, excludeID int64) (bool, error) {
	w := scope.Where("c.created_by")
	w.Add("lower(c.name) = lower(?)", name)
	w.AddIf(excludeID > 0, "c.id <> ?", excludeID)
	where, args := w.SQL()
	var taken bool
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`select exists (select 1 from cards c`+where+`)`), args...).Scan(&taken)
	return taken, err
}

// CreateCard inserts and reads the row back inside one transaction.
func (s *Store) CreateCard(ctx context.Context, in adops.CardInput, ownerID int64) (adops.Card, error) {
	var c adops.Card
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var id int64
		err := tx.QueryRowxContext(ctx, `
			insert into cards (name, bank, last_four, status, notes, created_by)
			values ($1, $2, $3, $4, $5, $6)
			returning id
		`, in.Name, in.Bank, in.LastFour, in.Status, in.Notes, ownerID).Scan(&id)
		if err != nil {
			return classify(err)
		}
		return classify(tx.GetContext(ctx, &c, `select `+cardColumns+` from cards c where c.id = $1`, id))
	})
	if err != nil {
		return adops.Card{}, err
	}
	return c, nil
}

func (s *Store) UpdateCard(ctx context.Context, id int64, in adops.CardInput) (adops.Card, error) {
	var c adops.Card
	err := s.db.GetContext(ctx, &c, `
		update cards c
		set name = $2, bank = $3, last_four = $4, status = $5, notes = $6, updated_at = now()
		where c.id = $1
		returning `+cardColumns, id, in.Name, in.Bank, in.LastFour, in.Status, in.Notes)
	if err != nil {
		return adops.Card{}, classify(err)
	}
	return c, nil
}

func (s *Store) DeleteCard(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from cards where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, store.ErrNotFound)
}

const cardUserColumns = `id, card_id, full_name, email, created_by, created_at`

func (s *Store) ListCardUsers(ctx context.Context, cardID int64) ([]adops.CardUser, error) {
	users := []adops.CardUser{}
	err := s.db.SelectContext(ctx, &users, `select `+cardUserColumns+` from card_users where card_id = $1 order by id`, cardID)
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetCardUser(ctx context.Context, id int64) (adops.CardUser, error) {
	var cu adops.CardUser
	if err := s.db.GetContext(ctx, &cu, `select `+cardUserColumns+` from card_users where id = $1`, id); err != nil {
		return adops.CardUser{}, classify(err)
	}
	return cu, nil
}

func (s *Store) CreateCardUser(ctx context.Context, cardID int64, in adops.CardUserInput, ownerID int64) (adops.CardUser, error) {
	var cu adops.CardUser
	err := s.db.GetContext(ctx, &cu, `
		insert into card_users (card_id, full_name, email, created_by)
		values ($1, $2, $3, $4)
		returning `+cardUserColumns, cardID, in.FullName, in.Email, ownerID)
	if err != nil {
		return adops.CardUser{}, classify(err)
	}
	return cu, nil
}

func (s *Store) DeleteCardUser(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from card_users where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, store.ErrNotFound)
}

const reportColumns = `r.id, r.card_id, r.campaign, r.report_date, r.spend_cents, r.impressions, r.clicks, r.created_by, r.created_at`

func reportWhere(scope privacy.Scope, f adops.ReportFilter) *privacy.Where {
	w := scope.Where("r.created_by")
	if f.From != nil {
		w.Add("r.report_date >= ?", *f.From)
	}
	if f.To != nil {
		w.Add("r.report_date <= ?", *f.To)
	}
	if f.CardID != nil {
		w.Add("r.card_id = ?", *f.CardID)
	}
	if f.Campaign != "" {
		w.Add("r.campaign ILIKE ?", containsPattern(f.Campaign))
	}
	return w
}

func (s *Store) ListReports(ctx context.Context, scope privacy.Scope, f adops.ReportFilter) ([]adops.Report, error) {
	where, args := reportWhere(scope, f).SQL()
	q := s.db.Rebind(`select ` + reportColumns + ` from reports r` + where + ` order by r.report_date desc, r.id desc limit ? offset ?`)
	reports := []adops.Report{}
	if err := s.db.SelectContext(ctx, &reports, q, append(args, f.Limit, f.Offset)...); err != nil {
		return nil, err
	}
	return reports, nil
}

// SummarizeReports aggregates per card over the rows visible in scope.
func (s *Store) SummarizeReports(ctx context.Context, scope privacy.Scope, f adops.ReportFilter) ([]adops.ReportSummary, error) {
	where, args := reportWhere(scope, f).SQL()
	q := s.db.Rebind(`
		select r.card_id, coalesce(c.name, '') as card_name, count(*) as reports,
		       coalesce(sum(r.spend_cents), 0)::bigint as spend_cents,
		       coalesce(sum(r.impressions), 0)::bigint as impressions,
		       coalesce(sum(r.clicks), 0)::bigint as clicks
		from reports r
		left join cards c on c.id = r.card_id` + where + `
		group by r.card_id, c.name
		order by spend_cents desc`)
	out := []adops.ReportSummary{}
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetReport(ctx context.Context, id int64) (adops.Report, error) {
	var r adops.Report
	if err := s.db.GetContext(ctx, &r, `select `+reportColumns+` from reports r where r.id = $1`, id); err != nil {
		return adops.Report{}, classify(err)
	}
	return r, nil
}

func (s *Store) CreateReport(ctx context.Context, in adops.ReportInput, ownerID int64) (adops.Report, error) {
	var r adops.Report
	err := s.db.GetContext(ctx, &r, `
		insert into reports as r (card_id, campaign, report_date, spend_cents, impressions, clicks, created_by)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+reportColumns, in.CardID, in.Campaign, in.Date(), in.SpendCents, in.Impressions, in.Clicks, ownerID)
	if err != nil {
		return adops.Report{}, classify(err)
	}
	return r, nil
}

func (s *Store) DeleteReport(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from reports where id = $1`, id)
	if err != nil {
		return classify(err)
	}
	return requireAffected(res, store.ErrNotFound)
}
