package main

import (
	"time"

	"portfoliotracker/internal/broker"
	"portfoliotracker/internal/format"
	"portfoliotracker/internal/portfolio"
	"portfoliotracker/internal/tracker"
	"portfoliotracker/internal/valuation"
)

// holdingView is a HoldingValuation plus its display strings.
type holdingView struct {
	valuation.HoldingValuation
	PurchaseDate string  `json:"purchase_date"`
	Display      display `json:"display"`
}

type display struct {
	CurrentPrice       string `json:"current_price"`
	ExecutionPrice     string `json:"execution_price"`
	MarketValue        string `json:"market_value"`
	CostBasis          string `json:"cost_basis"`
	GainLoss           string `json:"gain_loss"`
	GainLossPercent    string `json:"gain_loss_percent"`
	DailyChange        string `json:"daily_change,omitempty"`
	DailyPercentChange string `json:"daily_percent_change,omitempty"`
}

type totalsDisplay struct {
	MarketValue     string `json:"market_value"`
	Cost            string `json:"cost"`
	GainLoss        string `json:"gain_loss"`
	GainLossPercent string `json:"gain_loss_percent"`
}

type portfolioView struct {
	valuation.PortfolioValuation
	Holdings       []holdingView `json:"holdings"`
	LastRefresh    *time.Time    `json:"last_refresh"`
	Refreshing     bool          `json:"refreshing"`
	AutoRefreshing bool          `json:"auto_refreshing"`
	APIKeySet      bool          `json:"api_key_configured"`
	Currency       string        `json:"currency"`
	Broker         broker.Broker `json:"broker"`
	Display        totalsDisplay `json:"display"`
}

func newPortfolioView(v valuation.PortfolioValuation, tr *tracker.Tracker) portfolioView {
	cur := tr.Currency()
	out := portfolioView{
		PortfolioValuation: v,
		Holdings:           make([]holdingView, 0, len(v.Holdings)),
		Refreshing:         tr.Refreshing(),
		AutoRefreshing:     tr.AutoRefreshing(),
		APIKeySet:          tr.APIKeyConfigured(),
		Currency:           cur,
		Broker:             tr.Broker(),
		Display: totalsDisplay{
			MarketValue:     format.Currency(v.TotalMarketValue, cur),
			Cost:            format.Currency(v.TotalCost, cur),
			GainLoss:        format.SignedCurrency(v.TotalGainLoss, cur),
			GainLossPercent: format.Percent(v.TotalGainLossPercent),
		},
	}
	if !v.LastRefresh.IsZero() {
		lr := v.LastRefresh
		out.LastRefresh = &lr
	}
	for _, h := range v.Holdings {
		hv := holdingView{
			HoldingValuation: h,
			PurchaseDate:     h.PurchaseDate.Format(portfolio.DateLayout),
			Display: display{
				CurrentPrice:    format.Currency(h.CurrentPrice, cur),
				ExecutionPrice:  format.Currency(h.ExecutionPrice, cur),
				MarketValue:     format.Currency(h.MarketValue, cur),
				CostBasis:       format.Currency(h.CostBasis, cur),
				GainLoss:        format.SignedCurrency(h.GainLoss, cur),
				GainLossPercent: format.Percent(h.GainLossPercent),
			},
		}
		if h.Live {
			hv.Display.DailyChange = format.NullCurrency(h.DailyChange, cur)
			hv.Display.DailyPercentChange = format.NullPercent(h.DailyPercentChange)
		}
		out.Holdings = append(out.Holdings, hv)
	}
	return out
}
