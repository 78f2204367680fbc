// Package search resolves a partial query into candidate symbols for the
// add-holding form.
package search

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"portfoliotracker/internal/quote"
	"portfoliotracker/internal/quote/twelvedata"
)

// MaxResults caps every search response.
const MaxResults = 8

// DefaultExchange labels results whose feed omitted the exchange.
const DefaultExchange = "US"

// Result is one candidate instrument. Symbol, Name and Exchange are what a
// new holding is created from.
type Result struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Type     string `json:"type,omitempty"`
	Sector   string `json:"sector,omitempty"`
}

// Fallback is served when no API key is configured or the remote search
// fails.
var Fallback = []Result{
	{Symbol: "GOOG", Name: "Alphabet Inc", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
	{Symbol: "AAPL", Name: "Apple Inc", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
	{Symbol: "MSFT", Name: "Microsoft Corp", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
	{Symbol: "AMZN", Name: "Amazon.com Inc", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
	{Symbol: "TSLA", Name: "Tesla Inc", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Automotive"},
	{Symbol: "NVDA", Name: "NVIDIA Corp", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
	{Symbol: "META", Name: "Meta Platforms", Exchange: "NASDAQ", Type: "Common Stock", Sector: "Technology"},
}

// allowedTypes are the instrument types a holding can be recorded for.
var allowedTypes = []string{"Common Stock", "ETF"}

// Remote is the feed-side symbol search.
type Remote interface {
	SymbolSearch(ctx context.Context, q string, outputSize int) ([]twelvedata.Instrument, error)
}

// Service answers symbol searches, coalescing identical concurrent queries.
type Service struct {
	remote Remote
	apiKey func() string
	log    *zap.Logger
	group  singleflight.Group
}

// New builds a Service. remote may be nil, in which case only the fallback
// list is searched.
func New(remote Remote, apiKey func() string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{remote: remote, apiKey: apiKey, log: log}
}

// Search returns at most MaxResults candidates for q. An empty query
// yields no results. Remote failures degrade to the fallback list.
func (s *Service) Search(ctx context.Context, q string) []Result {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	if s.remote == nil || s.apiKey == nil || s.apiKey() == "" {
		return SearchFallback(q)
	}

	v, err, shared := s.group.Do(strings.ToLower(q), func() (any, error) {
		return s.remote.SymbolSearch(ctx, q, MaxResults)
	})
	if err != nil {
		s.log.Warn("symbol search failed, using fallback list", zap.String("query", q), zap.Error(err))
		return SearchFallback(q)
	}
	if shared {
		s.log.Debug("symbol search coalesced", zap.String("query", q))
	}
	return fromInstruments(v.([]twelvedata.Instrument))
}

// SearchFallback matches q case-insensitively against the symbol or name
// of the built-in list.
func SearchFallback(q string) []Result {
	lq := strings.ToLower(strings.TrimSpace(q))
	if lq == "" {
		return nil
	}
	var out []Result
	for _, r := range Fallback {
		if strings.Contains(strings.ToLower(r.Symbol), lq) || strings.Contains(strings.ToLower(r.Name), lq) {
			out = append(out, r)
		}
		if len(out) == MaxResults {
			break
		}
	}
	return out
}

func fromInstruments(in []twelvedata.Instrument) []Result {
	out := make([]Result, 0, len(in))
	for _, inst := range in {
		if !slices.Contains(allowedTypes, inst.InstrumentType) {
			continue
		}
		exchange := NormalizeExchange(inst.Exchange)
		if exchange == "" {
			exchange = DefaultExchange
		}
		out = append(out, Result{
			Symbol:   quote.NormalizeSymbol(inst.Symbol),
			Name:     inst.InstrumentName,
			Exchange: exchange,
			Type:     inst.InstrumentType,
		})
	}
	out = Collapse(out)
	if len(out) > MaxResults {
		out = out[:MaxResults]
	}
	return out
}
