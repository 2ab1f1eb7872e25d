package adops

import (
	"context"

	"adops.io/internal/privacy"
)

// CardStore persists cards. Single-row reads are unscoped so the caller can tell
// a missing row from a foreign one; list and uniqueness queries take a Scope.
type CardStore interface {
	ListCards(ctx context.Context, scope privacy.Scope, f CardFilter) ([]Card, error)
	GetCard(ctx context.Context, id int64) (Card, error)
	// CardNameTaken reports whether a card with the same case-insensitive name is
	// visible in scope, ignoring excludeID.
	CardNameTaken(ctx context.Context, scope privacy.Scope, name string, excludeID int64) (bool, error)
	CreateCard(ctx context.Context, in CardInput, ownerID int64) (Card, error)
	UpdateCard(ctx context.Context, id int64, in CardInput) (Card, error)
	// DeleteCard returns store.ErrReferenced while reports or card users point at it.
	DeleteCard(ctx context.Context, id int64) error
}

type CardUserStore interface {
	ListCardUsers(ctx context.Context, cardID int64) ([]CardUser, error)
	GetCardUser(ctx context.Context, id int64) (CardUser, error)
	CreateCardUser(ctx context.Context, cardID int64, in CardUserInput, ownerID int64) (CardUser, error)
	DeleteCardUser(ctx context.Context, id int64) error
}

type ReportStore interface {
	ListReports(ctx context.Context, scope privacy.Scope, f ReportFilter) ([]Report, error)
	SummarizeReports(ctx context.Context, scope privacy.Scope, f ReportFilter) ([]ReportSummary, error)
	GetReport(ctx context.Context, id int64) (Report, error)
	CreateReport(ctx context.Context, in ReportInput, ownerID int64) (Report, error)
	DeleteReport(ctx context.Context, id int64) error
}

// Store is implemented by every backend.
type Store interface {
	CardStore
	CardUserStore
	ReportStore
}
