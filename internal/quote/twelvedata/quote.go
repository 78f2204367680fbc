package twelvedata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"portfoliotracker/internal/quote"
)

// quoteResponse is the subset of /quote the tracker reads.
//
//	{
//	  "symbol": "AAPL",
//	  "close": "165.00000",
//	  "previous_close": "160.00000",
//	  "change": "5.00000",
//	  "percent_change": "3.12500",
//	  "is_market_open": false
//	}
type quoteResponse struct {
	apiStatus
	Symbol        string      `json:"symbol"`
	Name          string      `json:"name"`
	Exchange      string      `json:"exchange"`
	Currency      string      `json:"currency"`
	Close         flexDecimal `json:"close"`
	PreviousClose flexDecimal `json:"previous_close"`
	Change        flexDecimal `json:"change"`
	PercentChange flexDecimal `json:"percent_change"`
	IsMarketOpen  flexBool    `json:"is_market_open"`
}

// apiStatus is embedded in every response; Twelve Data reports most errors
// in the body with a 200 status.
//
//	{"code": 429, "message": "You have run out of API credits", "status": "error"}
type apiStatus struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s apiStatus) failed() bool { return strings.EqualFold(s.Status, "error") }

// FetchQuote retrieves the latest quote for symbol. It implements
// quote.Client. An empty apiKey fails with quote.Unconfigured without any
// network call.
func (c *Client) FetchQuote(ctx context.Context, symbol, apiKey string) (quote.Quote, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if strings.TrimSpace(apiKey) == "" {
		return quote.Quote{}, quote.Fail(quote.Unconfigured, symbol, nil)
	}
	if symbol == "" {
		return quote.Quote{}, quote.Fail(quote.NotFound, symbol, fmt.Errorf("empty symbol"))
	}

	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("apikey", apiKey)

	var body quoteResponse
	if err := c.getJSON(ctx, symbol, "/quote", query, &body); err != nil {
		return quote.Quote{}, err
	}
	if body.failed() {
		return quote.Quote{}, statusFailure(symbol, body.Code, body.Message)
	}
	if !body.Close.Valid || !body.Close.Decimal.IsPositive() {
		return quote.Quote{}, quote.Fail(quote.NotFound, symbol, fmt.Errorf("no price in response"))
	}

	q := quote.Quote{
		Symbol:        symbol,
		Price:         body.Close.Decimal,
		PreviousClose: body.PreviousClose.NullDecimal,
		Change:        body.Change.NullDecimal,
		PercentChange: body.PercentChange.NullDecimal,
		IsMarketOpen:  body.IsMarketOpen.Valid && body.IsMarketOpen.Value,
		Source:        Name,
		FetchedAt:     c.now().UTC(),
	}
	return quote.Reconcile(q), nil
}

// getJSON performs a GET and decodes a 200 response into out. Failures are
// returned as *quote.FetchError.
func (c *Client) getJSON(ctx context.Context, symbol, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, query), http.NoBody)
	if err != nil {
		return quote.Fail(quote.Transport, symbol, fmt.Errorf("creating request: %w", err))
	}
	req = c.newRequest(req)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return quote.Fail(quote.Transport, symbol, fmt.Errorf("performing request: %w", err))
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusTooManyRequests:
		return quote.Fail(quote.RateLimited, symbol, fmt.Errorf("rate limited"))

	case http.StatusUnauthorized, http.StatusForbidden:
		return quote.Fail(quote.Unconfigured, symbol, fmt.Errorf("unauthorized"))

	case http.StatusNotFound:
		return quote.Fail(quote.NotFound, symbol, fmt.Errorf("symbol not found"))

	default:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return quote.Fail(quote.Transport, symbol, fmt.Errorf("unexpected status code: %d: %s", res.StatusCode, strings.TrimSpace(string(b))))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return quote.Fail(quote.Transport, symbol, fmt.Errorf("decoding %s response: %w", path, err))
	}
	return nil
}

// statusFailure maps an in-body error code to a failure kind.
func statusFailure(symbol string, code int, message string) error {
	err := fmt.Errorf("code=%d msg=%q", code, message)
	switch code {
	case http.StatusTooManyRequests:
		return quote.Fail(quote.RateLimited, symbol, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return quote.Fail(quote.Unconfigured, symbol, err)
	case http.StatusBadRequest, http.StatusNotFound:
		return quote.Fail(quote.NotFound, symbol, err)
	default:
		return quote.Fail(quote.Transport, symbol, err)
	}
}

var _ quote.Client = (*Client)(nil)
