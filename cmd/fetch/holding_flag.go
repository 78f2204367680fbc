package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"portfoliotracker/internal/portfolio"
)

// holdingList is a repeatable flag of SYMBOL:SHARES@PRICE values.
type holdingList []portfolio.NewHolding

func (l *holdingList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, len(*l))
	for _, h := range *l {
		parts = append(parts, fmt.Sprintf("%s:%s@%s", h.Symbol, h.Shares, h.ExecutionPrice))
	}
	return strings.Join(parts, ",")
}

func (l *holdingList) Set(v string) error {
	h, err := parseHolding(v)
	if err != nil {
		return err
	}
	*l = append(*l, h)
	return nil
}

// parseHolding parses "AAPL:10@150.25". Range checks are left to the
// store.
func parseHolding(v string) (portfolio.NewHolding, error) {
	symbol, rest, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || strings.TrimSpace(symbol) == "" {
		return portfolio.NewHolding{}, fmt.Errorf("holding %q: want SYMBOL:SHARES@PRICE", v)
	}
	sharesStr, priceStr, ok := strings.Cut(rest, "@")
	if !ok {
		return portfolio.NewHolding{}, fmt.Errorf("holding %q: missing @PRICE", v)
	}
	shares, err := decimal.NewFromString(strings.TrimSpace(sharesStr))
	if err != nil {
		return portfolio.NewHolding{}, fmt.Errorf("holding %q: shares: %w", v, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
	if err != nil {
		return portfolio.NewHolding{}, fmt.Errorf("holding %q: price: %w", v, err)
	}
	return portfolio.NewHolding{Symbol: strings.TrimSpace(symbol), Shares: shares, ExecutionPrice: price}, nil
}
