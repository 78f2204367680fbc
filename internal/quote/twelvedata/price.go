package twelvedata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"portfoliotracker/internal/quote"
)

// ReferenceSymbol is the symbol used to check an API key.
const ReferenceSymbol = "AAPL"

type priceResponse struct {
	apiStatus
	Price flexDecimal `json:"price"`
}

// ValidateKey checks apiKey with a single /price call for ReferenceSymbol.
// It returns nil only when the feed answers with a parseable price.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return quote.Fail(quote.Unconfigured, ReferenceSymbol, nil)
	}

	query := url.Values{}
	query.Set("symbol", ReferenceSymbol)
	query.Set("apikey", apiKey)

	var body priceResponse
	if err := c.getJSON(ctx, ReferenceSymbol, "/price", query, &body); err != nil {
		return err
	}
	if body.failed() {
		return statusFailure(ReferenceSymbol, body.Code, body.Message)
	}
	if !body.Price.Valid {
		return quote.Fail(quote.Unconfigured, ReferenceSymbol, fmt.Errorf("no price returned for key check"))
	}
	return nil
}
