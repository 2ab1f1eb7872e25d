package adops

import (
	"context"
	"errors"
	"fmt"

	"adops.io/internal/auth"
	"adops.io/internal/privacy"
	"adops.io/internal/store"
)

// Service applies the ownership rules around the resource stores. Every method
// takes the caller's UserContext; a nil context sees nothing.
type Service struct {
	store  Store
	policy privacy.Policy
}

func NewService(st Store, policy privacy.Policy) (*Service, error) {
	if st == nil {
		return nil, errors.New("adops store is required")
	}
	return &Service{store: st, policy: policy}, nil
}

func (s *Service) Policy() privacy.Policy { return s.policy }

func (s *Service) ListCards(ctx context.Context, uc *auth.UserContext, f CardFilter) ([]Card, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, f.Status)
	}
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
	return s.store.ListCards(ctx, s.policy.ScopeFor(uc), f)
}

func (s *Service) GetCard(ctx context.Context, uc *auth.UserContext, id int64) (Card, error) {
	card, err := s.store.GetCard(ctx, id)
	found, err := foundOrErr(err)
	if err != nil {
		return Card{}, err
	}
	if err := s.policy.Guard(uc, found, card.CreatedBy); err != nil {
		return Card{}, err
	}
	return card, nil
}

// CreateCard stamps the caller as owner. Names are unique within the caller's
// scope: per owner for regular users, globally for admins.
func (s *Service) CreateCard(ctx context.Context, uc *auth.UserContext, in CardInput) (Card, error) {
	if uc == nil {
		return Card{}, privacy.ErrNotOwner
	}
	if err := in.Normalize(); err != nil {
		return Card{}, err
	}
	if err := s.ensureCardNameFree(ctx, uc, in.Name, 0); err != nil {
		return Card{}, err
	}
	return s.store.CreateCard(ctx, in, uc.UserID)
}

func (s *Service) UpdateCard(ctx context.Context, uc *auth.UserContext, id int64, in CardInput) (Card, error) {
	if _, err := s.GetCard(ctx, uc, id); err != nil {
		return Card{}, err
	}
	if err := in.Normalize(); err != nil {
		return Card{}, err
	}
	if err := s.ensureCardNameFree(ctx, uc, in.Name, id); err != nil {
		return Card{}, err
	}
	return s.store.UpdateCard(ctx, id, in)
}

func (s *Service) DeleteCard(ctx context.Context, uc *auth.UserContext, id int64) error {
	if _, err := s.GetCard(ctx, uc, id); err != nil {
		return err
	}
	return s.store.DeleteCard(ctx, id)
}

func (s *Service) ensureCardNameFree(ctx context.Context, uc *auth.UserContext, name string, excludeID int64) error {
	taken, err := s.store.CardNameTaken(ctx, s.policy.ScopeFor(uc), name, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return ErrCardNameTaken
	}
	return nil
}

// ListCardUsers requires access to the parent card.
func (s *Service) ListCardUsers(ctx context.Context, uc *auth.UserContext, cardID int64) ([]CardUser, error) {
	if _, err := s.GetCard(ctx, uc, cardID); err != nil {
		return nil, err
	}
	return s.store.ListCardUsers(ctx, cardID)
}

func (s *Service) CreateCardUser(ctx context.Context, uc *auth.UserContext, cardID int64, in CardUserInput) (CardUser, error) {
	if _, err := s.GetCard(ctx, uc, cardID); err != nil {
		return CardUser{}, err
	}
	if err := in.Normalize(); err != nil {
		return CardUser{}, err
	}
	return s.store.CreateCardUser(ctx, cardID, in, uc.UserID)
}

func (s *Service) DeleteCardUser(ctx context.Context, uc *auth.UserContext, id int64) error {
	cu, err := s.store.GetCardUser(ctx, id)
	found, err := foundOrErr(err)
	if err != nil {
		return err
	}
	if err := s.policy.Guard(uc, found, cu.CreatedBy); err != nil {
		return err
	}
	return s.store.DeleteCardUser(ctx, id)
}

func (s *Service) ListReports(ctx context.Context, uc *auth.UserContext, f ReportFilter) ([]Report, error) {
	if err := validateRange(f); err != nil {
		return nil, err
	}
	f.Limit, f.Offset = ClampPage(f.Limit, f.Offset)
	return s.store.ListReports(ctx, s.policy.ScopeFor(uc), f)
}

// SummarizeReports aggregates only the rows visible to uc.
func (s *Service) SummarizeReports(ctx context.Context, uc *auth.UserContext, f ReportFilter) ([]ReportSummary, error) {
	if err := validateRange(f); err != nil {
		return nil, err
	}
	return s.store.SummarizeReports(ctx, s.policy.ScopeFor(uc), f)
}

func (s *Service) GetReport(ctx context.Context, uc *auth.UserContext, id int64) (Report, error) {
	rep, err := s.store.GetReport(ctx, id)
	found, err := foundOrErr(err)
	if err != nil {
		return Report{}, err
	}
	if err := s.policy.Guard(uc, found, rep.CreatedBy); err != nil {
		return Report{}, err
	}
	return rep, nil
}

// CreateReport requires access to the referenced card, if any.
func (s *Service) CreateReport(ctx context.Context, uc *auth.UserContext, in ReportInput) (Report, error) {
	if uc == nil {
		return Report{}, privacy.ErrNotOwner
	}
	if err := in.Normalize(); err != nil {
		return Report{}, err
	}
	if in.CardID != nil {
		if _, err := s.GetCard(ctx, uc, *in.CardID); err != nil {
			return Report{}, err
		}
	}
	return s.store.CreateReport(ctx, in, uc.UserID)
}

func (s *Service) DeleteReport(ctx context.Context, uc *auth.UserContext, id int64) error {
	if _, err := s.GetReport(ctx, uc, id); err != nil {
		return err
	}
	return s.store.DeleteReport(ctx, id)
}

func validateRange(f ReportFilter) error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return fmt.Errorf("%w: to must not be before from", ErrInvalidInput)
	}
	return nil
}

// foundOrErr folds store.ErrNotFound into a found flag for privacy.Guard.
func foundOrErr(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
