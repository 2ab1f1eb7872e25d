package mem

import (
	"context"
	"sort"
	"strings"

	"adops.io/internal/adops"
	"adops.io/internal/privacy"
	"adops.io/internal/store"
)

func (s *Store) ListCards(_ context.Context, scope privacy.Scope, f adops.CardFilter) ([]adops.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []adops.Card
	for _, c := range s.cards {
		if !scope.Allows(c.CreatedBy) {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Search != "" && !containsFold(c.Name, f.Search) && !containsFold(c.Bank, f.Search) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) GetCard(_ context.Context, id int64) (adops.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return adops.Card{}, store.ErrNotFound
	}
	return c, nil
}

func (s *Store) CardNameTaken(_ context.Context, scope privacy.Scope, name string, excludeID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cardNameTakenLocked(scope, name, excludeID), nil
}

func (s *Store) cardNameTakenLocked(scope privacy.Scope, name string, excludeID int64) bool {
	for _, c := range s.cards {
		if c.ID != excludeID && scope.Allows(c.CreatedBy) && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) CreateCard(_ context.Context, in adops.CardInput, ownerID int64) (adops.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cardNameTakenLocked(privacy.OwnedBy(ownerID), in.Name, 0) {
		return adops.Card{}, store.ErrDuplicate
	}
	now := s.stamp()
	c := adops.Card{
		ID:        s.next("cards"),
		Name:      in.Name,
		Bank:      in.Bank,
		LastFour:  in.LastFour,
		Status:    in.Status,
		Notes:     in.Notes,
		CreatedBy: ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.cards[c.ID] = c
	return c, nil
}

func (s *Store) UpdateCard(_ context.Context, id int64, in adops.CardInput) (adops.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[id]
	if !ok {
		return adops.Card{}, store.ErrNotFound
	}
	if s.cardNameTakenLocked(privacy.OwnedBy(c.CreatedBy), in.Name, id) {
		return adops.Card{}, store.ErrDuplicate
	}
	c.Name, c.Bank, c.LastFour, c.Status, c.Notes = in.Name, in.Bank, in.LastFour, in.Status, in.Notes
	c.UpdatedAt = s.stamp()
	s.cards[id] = c
	return c, nil
}

func (s *Store) DeleteCard(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[id]; !ok {
		return store.ErrNotFound
	}
	for _, cu := range s.cardUsers {
		if cu.CardID == id {
			return store.ErrReferenced
		}
	}
	for _, r := range s.reports {
		if r.CardID != nil && *r.CardID == id {
			return store.ErrReferenced
		}
	}
	delete(s.cards, id)
	return nil
}

func (s *Store) ListCardUsers(_ context.Context, cardID int64) ([]adops.CardUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []adops.CardUser{}
	for _, cu := range s.cardUsers {
		if cu.CardID == cardID {
			out = append(out, cu)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetCardUser(_ context.Context, id int64) (adops.CardUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cu, ok := s.cardUsers[id]
	if !ok {
		return adops.CardUser{}, store.ErrNotFound
	}
	return cu, nil
}

func (s *Store) CreateCardUser(_ context.Context, cardID int64, in adops.CardUserInput, ownerID int64) (adops.CardUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return adops.CardUser{}, store.ErrReferenced
	}
	cu := adops.CardUser{
		ID:        s.next("card_users"),
		CardID:    cardID,
		FullName:  in.FullName,
		Email:     in.Email,
		CreatedBy: ownerID,
		CreatedAt: s.stamp(),
	}
	s.cardUsers[cu.ID] = cu
	return cu, nil
}

func (s *Store) DeleteCardUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cardUsers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.cardUsers, id)
	return nil
}

func (s *Store) reportVisibleLocked(scope privacy.Scope, f adops.ReportFilter, r adops.Report) bool {
	if !scope.Allows(r.CreatedBy) {
		return false
	}
	if f.From != nil && r.ReportDate.Before(*f.From) {
		return false
	}
	if f.To != nil && r.ReportDate.After(*f.To) {
		return false
	}
	if f.CardID != nil && (r.CardID == nil || *r.CardID != *f.CardID) {
		return false
	}
	if f.Campaign != "" && !containsFold(r.Campaign, f.Campaign) {
		return false
	}
	return true
}

func (s *Store) ListReports(_ context.Context, scope privacy.Scope, f adops.ReportFilter) ([]adops.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []adops.Report
	for _, r := range s.reports {
		if s.reportVisibleLocked(scope, f, r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, f.Limit, f.Offset), nil
}

func (s *Store) SummarizeReports(_ context.Context, scope privacy.Scope, f adops.ReportFilter) ([]adops.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	groups := make(map[int64]*adops.ReportSummary)
	for _, r := range s.reports {
		if !s.reportVisibleLocked(scope, f, r) {
			continue
		}
		var key int64
		if r.CardID != nil {
			key = *r.CardID
		}
		sum, ok := groups[key]
		if !ok {
			sum = &adops.ReportSummary{}
			if r.CardID != nil {
				id := *r.CardID
				sum.CardID = &id
				sum.CardName = s.cards[id].Name
			}
			groups[key] = sum
		}
		sum.Reports++
		sum.SpendCents += r.SpendCents
		sum.Impressions += r.Impressions
		sum.Clicks += r.Clicks
	}
	out := make([]adops.ReportSummary, 0, len(groups))
	for _, sum := range groups {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SpendCents > out[j].SpendCents })
	return out, nil
}

func (s *Store) GetReport(_ context.Context, id int64) (adops.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return adops.Report{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) CreateReport(_ context.Context, in adops.ReportInput, ownerID int64) (adops.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.CardID != nil {
		if _, ok := s.cards[*in.CardID]; !ok {
			return adops.Report{}, store.ErrReferenced
		}
	}
	r := adops.Report{
		ID:          s.next("reports"),
		Campaign:    in.Campaign,
		ReportDate:  in.Date(),
		SpendCents:  in.SpendCents,
		Impressions: in.Impressions,
		Clicks:      in.Clicks,
		CreatedBy:   ownerID,
		CreatedAt:   s.stamp(),
	}
	if in.CardID != nil {
		id := *in.CardID
		r.CardID = &id
	}
	s.reports[r.ID] = r
	return r, nil
}

func (s *Store) DeleteReport(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.reports, id)
	return nil
}
