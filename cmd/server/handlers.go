package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portfoliotracker/internal/broker"
	"portfoliotracker/internal/format"
	"portfoliotracker/internal/portfolio"
	"portfoliotracker/internal/quote"
	"portfoliotracker/internal/search"
	"portfoliotracker/internal/stream"
	"portfoliotracker/internal/tracker"
	"portfoliotracker/internal/valuation"
)

// api serves the JSON surface over a Tracker.
type api struct {
	tracker  *tracker.Tracker
	search   *search.Service
	log      *zap.Logger
	timeout  time.Duration
	validate bool
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/brokers", a.handleBrokers)
	mux.HandleFunc("GET /api/broker", a.handleGetBroker)
	mux.HandleFunc("PUT /api/broker", a.handleSetBroker)
	mux.HandleFunc("GET /api/apikey", a.handleGetAPIKey)
	mux.HandleFunc("PUT /api/apikey", a.handleSetAPIKey)
	mux.HandleFunc("DELETE /api/apikey", a.handleClearAPIKey)
	mux.HandleFunc("GET /api/search", a.handleSearch)
	mux.HandleFunc("GET /api/quote", a.handleQuote)
	mux.HandleFunc("GET /api/holdings", a.handleListHoldings)
	mux.HandleFunc("POST /api/holdings", a.handleAddHolding)
	mux.HandleFunc("POST /api/holdings/preview", a.handlePreview)
	mux.HandleFunc("DELETE /api/holdings/{id}", a.handleRemoveHolding)
	mux.HandleFunc("GET /api/portfolio", a.handlePortfolio)
	mux.HandleFunc("POST /api/refresh", a.handleRefresh)
	return mux
}

func (a *api) handleBrokers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, broker.All())
}

func (a *api) handleGetBroker(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.Broker())
}

type brokerBody struct {
	ID string `json:"id"`
}

func (a *api) handleSetBroker(w http.ResponseWriter, r *http.Request) {
	var b brokerBody
	if !decodeBody(w, r, &b) {
		return
	}
	br, err := a.tracker.SetBroker(b.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, br)
}

type apiKeyBody struct {
	APIKey string `json:"api_key"`
	// Validate overrides the server default when set.
	Validate *bool `json:"validate,omitempty"`
}

type apiKeyStatus struct {
	Configured bool `json:"configured"`
}

func (a *api) handleGetAPIKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, apiKeyStatus{Configured: a.tracker.APIKeyConfigured()})
}

func (a *api) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var b apiKeyBody
	if !decodeBody(w, r, &b) {
		return
	}
	if strings.TrimSpace(b.APIKey) == "" {
		writeError(w, http.StatusBadRequest, "api_key cannot be empty")
		return
	}
	validate := a.validate
	if b.Validate != nil {
		validate = *b.Validate
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	if err := a.tracker.SetAPIKey(ctx, b.APIKey, validate); err != nil {
		a.log.Info("api key rejected", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "invalid api key")
		return
	}
	writeJSON(w, http.StatusOK, apiKeyStatus{Configured: true})
}

func (a *api) handleClearAPIKey(w http.ResponseWriter, _ *http.Request) {
	a.tracker.ClearAPIKey()
	w.WriteHeader(http.StatusNoContent)
}

type searchResponse struct {
	Results []search.Result `json:"results"`
}

func (a *api) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	results := a.search.Search(ctx, r.URL.Query().Get("q"))
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type quoteView struct {
	quote.Quote
	PriceDisplay         string `json:"price_display"`
	ChangeDisplay        string `json:"change_display"`
	PercentChangeDisplay string `json:"percent_change_display"`
}

func (a *api) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if strings.TrimSpace(symbol) == "" {
		writeError(w, http.StatusBadRequest, "missing symbol query param")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()
	q, err := a.tracker.Quote(ctx, symbol)
	if err != nil {
		writeError(w, quoteStatus(err), err.Error())
		return
	}
	cur := a.tracker.Currency()
	writeJSON(w, http.StatusOK, quoteView{
		Quote:                q,
		PriceDisplay:         format.Currency(q.Price, cur),
		ChangeDisplay:        format.NullCurrency(q.Change, cur),
		PercentChangeDisplay: format.NullPercent(q.PercentChange),
	})
}

// quoteStatus maps a feed failure to an HTTP status.
func quoteStatus(err error) int {
	switch quote.KindOf(err) {
	case quote.Unconfigured:
		return http.StatusPreconditionFailed
	case quote.NotFound:
		return http.StatusNotFound
	case quote.RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

type holdingsResponse struct {
	Holdings []portfolio.Holding `json:"holdings"`
}

func (a *api) handleListHoldings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, holdingsResponse{Holdings: a.tracker.Holdings()})
}

type holdingBody struct {
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	Exchange       string          `json:"exchange"`
	Shares         decimal.Decimal `json:"shares"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
	PurchaseDate   string          `json:"purchase_date"`
}

func (a *api) handleAddHolding(w http.ResponseWriter, r *http.Request) {
	var b holdingBody
	if !decodeBody(w, r, &b) {
		return
	}
	date, err := portfolio.ParseDate(b.PurchaseDate, a.tracker.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h, err := a.tracker.AddHolding(portfolio.NewHolding{
		Symbol:         b.Symbol,
		Name:           b.Name,
		Exchange:       b.Exchange,
		Shares:         b.Shares,
		ExecutionPrice: b.ExecutionPrice,
		PurchaseDate:   date,
	})
	if errors.Is(err, portfolio.ErrInvalidHolding) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

type previewBody struct {
	Shares         decimal.Decimal `json:"shares"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
}

type previewResponse struct {
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalCostDisplay string          `json:"total_cost_display"`
}

func (a *api) handlePreview(w http.ResponseWriter, r *http.Request) {
	var b previewBody
	if !decodeBody(w, r, &b) {
		return
	}
	total := valuation.CostPreview(b.Shares, b.ExecutionPrice)
	writeJSON(w, http.StatusOK, previewResponse{
		TotalCost:        total,
		TotalCostDisplay: format.Currency(total, a.tracker.Currency()),
	})
}

func (a *api) handleRemoveHolding(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid holding id")
		return
	}
	if err := a.tracker.RemoveHolding(id); err != nil {
		if errors.Is(err, tracker.ErrHoldingNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	v, err := a.tracker.Valuation()
	if err != nil {
		// Every holding is still valued; the error only names the bad ones.
		a.log.Warn("valuation incomplete", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, newPortfolioView(v, a.tracker))
}

type refreshResponse struct {
	Started bool `json:"started"`
}

func (a *api) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if a.tracker.RequestRefresh() {
		writeJSON(w, http.StatusAccepted, refreshResponse{Started: true})
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Started: false})
}

// snapshotEvent is sent to each stream client on connect.
func (a *api) snapshotEvent() stream.Event {
	v, _ := a.tracker.Valuation()
	return stream.Event{Type: stream.TypeSnapshot, Data: newPortfolioView(v, a.tracker)}
}

// updateEvent converts a tracker update into a stream event.
func updateEvent(u tracker.Update, tr *tracker.Tracker) stream.Event {
	typ := stream.TypeSnapshot
	if u.Reason == tracker.ReasonRefresh {
		typ = stream.TypeRefresh
	}
	return stream.Event{Type: typ, Data: newPortfolioView(u.Valuation, tr)}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// decodeBody decodes a JSON request body into dst, writing a 400 and
// returning false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
