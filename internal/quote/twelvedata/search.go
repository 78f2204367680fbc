package twelvedata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Instrument is one /symbol_search match.
type Instrument struct {
	Symbol         string `json:"symbol"`
	InstrumentName string `json:"instrument_name"`
	Exchange       string `json:"exchange"`
	MICCode        string `json:"mic_code"`
	InstrumentType string `json:"instrument_type"`
	Country        string `json:"country"`
	Currency       string `json:"currency"`
}

type searchResponse struct {
	apiStatus
	Data []Instrument `json:"data"`
}

// SymbolSearch returns instruments matching a partial symbol or name.
// The endpoint does not require an API key.
func (c *Client) SymbolSearch(ctx context.Context, q string, outputSize int) ([]Instrument, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("symbol", q)
	if outputSize > 0 {
		query.Set("outputsize", strconv.Itoa(outputSize))
	}

	var body searchResponse
	if err := c.getJSON(ctx, q, "/symbol_search", query, &body); err != nil {
		return nil, err
	}
	if body.failed() {
		return nil, fmt.Errorf("symbol search: code=%d msg=%q", body.Code, body.Message)
	}
	return body.Data, nil
}
