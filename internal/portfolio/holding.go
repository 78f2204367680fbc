// Package portfolio holds the user's recorded purchase lots.
package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"portfoliotracker/internal/quote"
)

// DefaultCurrency is the single home currency every amount is expressed in.
const DefaultCurrency = "USD"

// DateLayout is the calendar-date format used for purchase dates.
const DateLayout = time.DateOnly

// ErrInvalidHolding rejects a submission that would break the holding
// invariants (non-positive shares or execution price, missing symbol).
var ErrInvalidHolding = errors.New("invalid holding")

// Holding is one recorded purchase lot. It is immutable once created.
type Holding struct {
	ID             uuid.UUID       `json:"id"`
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Exchange       string          `json:"exchange,omitempty"`
	Shares         decimal.Decimal `json:"shares"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewHolding is a user submission. The symbol, name and exchange come from
// the search result the user picked.
type NewHolding struct {
	Symbol         string
	Name           string
	Exchange       string
	Shares         decimal.Decimal
	ExecutionPrice decimal.Decimal
	PurchaseDate   time.Time
}

// Validate checks the holding invariants.
func (h Holding) Validate() error {
	return validate(h.Symbol, h.Shares, h.ExecutionPrice)
}

// Validate checks the submission against the holding invariants.
func (n NewHolding) Validate() error {
	return validate(quote.NormalizeSymbol(n.Symbol), n.Shares, n.ExecutionPrice)
}

func validate(symbol string, shares, price decimal.Decimal) error {
	switch {
	case symbol == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidHolding)
	case !shares.IsPositive():
		return fmt.Errorf("%w: shares must be positive, got %s", ErrInvalidHolding, shares)
	case !price.IsPositive():
		return fmt.Errorf("%w: execution price must be positive, got %s", ErrInvalidHolding, price)
	}
	return nil
}

// CostBasis is shares × execution price at full precision.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Shares.Mul(h.ExecutionPrice)
}

// DaysHeld returns whole days between the purchase date and now, never
// negative.
func (h Holding) DaysHeld(now time.Time) int {
	if h.PurchaseDate.IsZero() {
		return 0
	}
	d := int(now.Sub(h.PurchaseDate).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ParseDate parses a YYYY-MM-DD purchase date. An empty string yields
// today's date from now.
func ParseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return Day(now), nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: purchase date %q: %v", ErrInvalidHolding, s, err)
	}
	return t, nil
}

// Day truncates t to its calendar date at UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
