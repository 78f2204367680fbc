// Package quote defines the normalized quote shape and the contract every
// market-data feed implements.
package quote

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known market snapshot for one symbol.
// Price is mandatory; the remaining market fields are only valid when the
// upstream feed supplied them in a parseable form.
type Quote struct {
	Symbol        string              `json:"symbol"`
	Price         decimal.Decimal     `json:"price"`
	PreviousClose decimal.NullDecimal `json:"previous_close"`
	Change        decimal.NullDecimal `json:"change"`
	PercentChange decimal.NullDecimal `json:"percent_change"`
	IsMarketOpen  bool                `json:"is_market_open"`
	Source        string              `json:"source"`
	FetchedAt     time.Time           `json:"fetched_at"`
}

// Client fetches a point-in-time quote for a single symbol.
//
//go:generate mockgen -package=quotemock -destination=quotemock/client.go -source=quote.go Client
type Client interface {
	FetchQuote(ctx context.Context, symbol, apiKey string) (Quote, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, symbol, apiKey string) (Quote, error)

func (f ClientFunc) FetchQuote(ctx context.Context, symbol, apiKey string) (Quote, error) {
	return f(ctx, symbol, apiKey)
}

// NormalizeSymbol trims and upper-cases a ticker. Symbols share one global
// namespace, so equality on the normalized form is identity.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether q carries a usable last price.
func (q Quote) Valid() bool {
	return q.Symbol != "" && q.Price.IsPositive()
}
