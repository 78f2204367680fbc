package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"portfoliotracker/internal/quote"
)

// NewPerMinute builds a token bucket allowing rpm requests per minute with
// the given burst. rpm <= 0 disables limiting (nil limiter).
func NewPerMinute(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// TokenBucket wraps a client and gates calls using a token bucket.
// Calls without an API key pass straight through: they never reach the
// network and must not consume quota.
type TokenBucket struct {
	C  quote.Client
	TB *rate.Limiter
}

// Admit waits for a token.
func (t *TokenBucket) Admit(ctx context.Context, symbol, apiKey string) error {
	return wait(ctx, t.TB, symbol, apiKey)
}

// Next is the wrapped client.
func (t *TokenBucket) Next() quote.Client { return t.C }

func (t *TokenBucket) FetchQuote(ctx context.Context, symbol, apiKey string) (quote.Quote, error) {
	if err := t.Admit(ctx, symbol, apiKey); err != nil {
		return quote.Quote{}, err
	}
	return t.C.FetchQuote(ctx, symbol, apiKey)
}

// Wrap applies the configured limiting to c. A token bucket is preferred
// when rpm is set, otherwise a minimum interval; with neither c is returned
// unchanged.
func Wrap(c quote.Client, rpm, burst, minIntervalSec int) quote.Client {
	if tb := NewPerMinute(rpm, burst); tb != nil {
		return &TokenBucket{C: c, TB: tb}
	}
	if minIntervalSec > 0 {
		return &MinInterval{C: c, Interval: time.Duration(minIntervalSec) * time.Second}
	}
	return c
}
