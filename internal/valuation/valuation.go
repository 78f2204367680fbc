// Package valuation turns holdings plus cached quotes into per-holding and
// aggregate gain/loss figures. It performs no I/O and never rounds; rounding
// to two places happens at the presentation boundary.
package valuation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"portfoliotracker/internal/portfolio"
	"portfoliotracker/internal/quote"
)

var hundred = decimal.NewFromInt(100)

// QuoteSource is the read side of the quote cache.
type QuoteSource interface {
	Get(symbol string) (quote.Quote, bool)
}

// StaleSource is implemented by sources that can tell whether an entry
// survived a failed refresh.
type StaleSource interface {
	Stale(symbol string) bool
}

// HoldingValuation is the valuation of one holding.
type HoldingValuation struct {
	ID                 uuid.UUID           `json:"id"`
	Symbol             string              `json:"symbol"`
	Name               string              `json:"name"`
	Exchange           string              `json:"exchange,omitempty"`
	Shares             decimal.Decimal     `json:"shares"`
	ExecutionPrice     decimal.Decimal     `json:"execution_price"`
	PurchaseDate       time.Time           `json:"purchase_date"`
	CurrentPrice       decimal.Decimal     `json:"current_price"`
	MarketValue        decimal.Decimal     `json:"market_value"`
	CostBasis          decimal.Decimal     `json:"cost_basis"`
	GainLoss           decimal.Decimal     `json:"gain_loss"`
	GainLossPercent    decimal.Decimal     `json:"gain_loss_percent"`
	DailyChange        decimal.NullDecimal `json:"daily_change"`
	DailyPercentChange decimal.NullDecimal `json:"daily_percent_change"`
	Live               bool                `json:"live"`
	IsMarketOpen       bool                `json:"is_market_open"`
	Stale              bool                `json:"stale"`
	DaysHeld           int                 `json:"days_held"`
}

// PortfolioValuation aggregates every holding.
type PortfolioValuation struct {
	Holdings             []HoldingValuation `json:"holdings"`
	TotalMarketValue     decimal.Decimal    `json:"total_market_value"`
	TotalCost            decimal.Decimal    `json:"total_cost"`
	TotalGainLoss        decimal.Decimal    `json:"total_gain_loss"`
	TotalGainLossPercent decimal.Decimal    `json:"total_gain_loss_percent"`
	LastRefresh          time.Time          `json:"last_refresh"`
}

// Options tunes a valuation run.
type Options struct {
	// Now is used for DaysHeld. Zero means time.Now.
	Now time.Time
	// LastRefresh is copied into the portfolio result.
	LastRefresh time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// ValueHolding values h against quotes. Without a usable quote the current
// price falls back to the execution price. A holding that violates the
// creation invariants yields an error wrapping portfolio.ErrInvalidHolding
// together with a guarded valuation.
func ValueHolding(h portfolio.Holding, quotes QuoteSource) (HoldingValuation, error) {
	return ValueHoldingWith(h, quotes, Options{})
}

// ValueHoldingWith is ValueHolding with explicit options; only Now is used.
func ValueHoldingWith(h portfolio.Holding, quotes QuoteSource, opts Options) (HoldingValuation, error) {
	return valueHolding(h, quotes, opts.now())
}

func valueHolding(h portfolio.Holding, quotes QuoteSource, now time.Time) (HoldingValuation, error) {
	v := HoldingValuation{
		ID:             h.ID,
		Symbol:         h.Symbol,
		Name:           h.Name,
		Exchange:       h.Exchange,
		Shares:         h.Shares,
		ExecutionPrice: h.ExecutionPrice,
		PurchaseDate:   h.PurchaseDate,
		CurrentPrice:   h.ExecutionPrice,
		DaysHeld:       h.DaysHeld(now),
	}

	if quotes != nil {
		if q, ok := quotes.Get(h.Symbol); ok && q.Price.IsPositive() {
			v.CurrentPrice = q.Price
			v.DailyChange = q.Change
			v.DailyPercentChange = q.PercentChange
			v.IsMarketOpen = q.IsMarketOpen
			v.Live = true
			if ss, ok := quotes.(StaleSource); ok {
				v.Stale = ss.Stale(h.Symbol)
			}
		}
	}

	v.MarketValue = h.Shares.Mul(v.CurrentPrice)
	v.CostBasis = h.CostBasis()
	v.GainLoss = v.MarketValue.Sub(v.CostBasis)
	v.GainLossPercent = percentOf(v.GainLoss, v.CostBasis)

	if err := h.Validate(); err != nil {
		return v, fmt.Errorf("value holding %s: %w", h.ID, err)
	}
	return v, nil
}

// ValuePortfolio values every holding and sums the totals. Every holding is
// valued even when some are invalid; the joined errors are returned with
// the complete result.
func ValuePortfolio(holdings []portfolio.Holding, quotes QuoteSource) (PortfolioValuation, error) {
	return ValuePortfolioWith(holdings, quotes, Options{})
}

// ValuePortfolioWith is ValuePortfolio with explicit options.
func ValuePortfolioWith(holdings []portfolio.Holding, quotes QuoteSource, opts Options) (PortfolioValuation, error) {
	now := opts.now()

	out := PortfolioValuation{
		Holdings:    make([]HoldingValuation, 0, len(holdings)),
		LastRefresh: opts.LastRefresh,
	}
	var errs []error
	for _, h := range holdings {
		v, err := valueHolding(h, quotes, now)
		if err != nil {
			errs = append(errs, err)
		}
		out.Holdings = append(out.Holdings, v)
		out.TotalMarketValue = out.TotalMarketValue.Add(v.MarketValue)
		out.TotalCost = out.TotalCost.Add(v.CostBasis)
	}
	out.TotalGainLoss = out.TotalMarketValue.Sub(out.TotalCost)
	out.TotalGainLossPercent = percentOf(out.TotalGainLoss, out.TotalCost)
	return out, errors.Join(errs...)
}

// CostPreview is the total cost of a pending submission, zero when either
// input is not positive.
func CostPreview(shares, price decimal.Decimal) decimal.Decimal {
	if !shares.IsPositive() || !price.IsPositive() {
		return decimal.Zero
	}
	return shares.Mul(price)
}

func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Mul(hundred).Div(whole)
}
