package adops

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardBlocked CardStatus = "blocked"
	CardClosed  CardStatus = "closed"
)

func (s CardStatus) Valid() bool {
	switch s {
	case CardActive, CardBlocked, CardClosed:
		return true
	}
	return false
}

// Card is a payment card used to fund ad accounts.
type Card struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Bank      string     `json:"bank" db:"bank"`
	LastFour  string     `json:"last_four" db:"last_four"`
	Status    CardStatus `json:"status" db:"status"`
	Notes     string     `json:"notes" db:"notes"`
	CreatedBy int64      `json:"created_by" db:"created_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// CardInput is the client-writable part of a card. The owner is never part of it.
type CardInput struct {
	Name     string     `json:"name"`
	Bank     string     `json:"bank"`
	LastFour string     `json:"last_four"`
	Status   CardStatus `json:"status"`
	Notes    string     `json:"notes"`
}

func (in *CardInput) Normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Bank = strings.TrimSpace(in.Bank)
	in.LastFour = strings.TrimSpace(in.LastFour)
	in.Notes = strings.TrimSpace(in.Notes)
	if in.Name == "" || utf8.RuneCountInString(in.Name) > 100 {
		return fmt.Errorf("%w: name is required and must be at most 100 characters", ErrInvalidInput)
	}
	if in.LastFour != "" && !digits(in.LastFour, 4) {
		return fmt.Errorf("%w: last_four must be 4 digits", ErrInvalidInput)
	}
	if in.Status == "" {
		in.Status = CardActive
	}
	if !in.Status.Valid() {
		return fmt.Errorf("%w: unsupported status %q", ErrInvalidInput, in.Status)
	}
	return nil
}

type CardFilter struct {
	Search string
	Status CardStatus
	Limit  int
	Offset int
}

// CardUser is a person assigned to use a card.
type CardUser struct {
	ID        int64     `json:"id" db:"id"`
	CardID    int64     `json:"card_id" db:"card_id"`
	FullName  string    `json:"full_name" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	CreatedBy int64     `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CardUserInput struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

func (in *CardUserInput) Normalize() error {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.FullName == "" {
		return fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return fmt.Errorf("%w: invalid email", ErrInvalidInput)
		}
	}
	return nil
}

// Report is one day of spend for a campaign, optionally tied to a card.
type Report struct {
	ID          int64     `json:"id" db:"id"`
	CardID      *int64    `json:"card_id,omitempty" db:"card_id"`
	Campaign    string    `json:"campaign" db:"campaign"`
	ReportDate  time.Time `json:"report_date" db:"report_date"`
	SpendCents  int64     `json:"spend_cents" db:"spend_cents"`
	Impressions int64     `json:"impressions" db:"impressions"`
	Clicks      int64     `json:"clicks" db:"clicks"`
	CreatedBy   int64     `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type ReportInput struct {
	CardID      *int64 `json:"card_id"`
	Campaign    string `json:"campaign"`
	ReportDate  string `json:"report_date"`
	SpendCents  int64  `json:"spend_cents"`
	Impressions int64  `json:"impressions"`
	Clicks      int64  `json:"clicks"`

	date time.Time
}

const dateLayout = "2006-01-02"

func (in *ReportInput) Normalize() error {
	in.Campaign = strings.TrimSpace(in.Campaign)
	if in.Campaign == "" {
		return fmt.Errorf("%w: campaign is required", ErrInvalidInput)
	}
	d, err := time.Parse(dateLayout, strings.TrimSpace(in.ReportDate))
	if err != nil {
		return fmt.Errorf("%w: report_date must be YYYY-MM-DD", ErrInvalidInput)
	}
	in.date = d
	if in.SpendCents < 0 || in.Impressions < 0 || in.Clicks < 0 {
		return fmt.Errorf("%w: metrics must not be negative", ErrInvalidInput)
	}
	if in.Clicks > in.Impressions {
		return fmt.Errorf("%w: clicks cannot exceed impressions", ErrInvalidInput)
	}
	if in.CardID != nil && *in.CardID <= 0 {
		return fmt.Errorf("%w: card_id must be positive", ErrInvalidInput)
	}
	return nil
}

// Date is the parsed report date, valid after Normalize.
func (in ReportInput) Date() time.Time { return in.date }

type ReportFilter struct {
	From     *time.Time
	To       *time.Time
	CardID   *int64
	Campaign string
	Limit    int
	Offset   int
}

// ParseDate parses an optional YYYY-MM-DD query value.
func ParseDate(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("%w: dates must be YYYY-MM-DD", ErrInvalidInput)
	}
	return &d, nil
}

// ReportSummary aggregates reports per card. Reports without a card are grouped
// under a nil CardID.
type ReportSummary struct {
	CardID      *int64 `json:"card_id" db:"card_id"`
	CardName    string `json:"card_name" db:"card_name"`
	Reports     int64  `json:"reports" db:"reports"`
	SpendCents  int64  `json:"spend_cents" db:"spend_cents"`
	Impressions int64  `json:"impressions" db:"impressions"`
	Clicks      int64  `json:"clicks" db:"clicks"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ClampPage normalizes limit and offset.
func ClampPage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
