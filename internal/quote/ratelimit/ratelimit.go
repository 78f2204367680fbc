// Package ratelimit gates calls to a quote.Client so a fan-out stays inside
// the feed's request quota.
//
// Both decorators split a call into Admit, which waits for quota, and the
// wrapped client's fetch. Callers that bound the fetch itself with a
// deadline (the refresh scheduler) admit first under their own context so
// queueing for quota does not eat into the fetch timeout.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"portfoliotracker/internal/quote"
)

// MinInterval wraps a client and enforces a minimum time between calls.
// Concurrent calls queue for successive slots; a caller whose context ends
// while queued gives its slot back.
type MinInterval struct {
	C        quote.Client
	Interval time.Duration

	once sync.Once
	lim  *rate.Limiter
}

func (m *MinInterval) limiter() *rate.Limiter {
	m.once.Do(func() {
		if m.Interval > 0 {
			m.lim = rate.NewLimiter(rate.Every(m.Interval), 1)
		}
	})
	return m.lim
}

// Admit waits for the next slot. Calls without an API key never reach the
// network and are admitted at once.
func (m *MinInterval) Admit(ctx context.Context, symbol, apiKey string) error {
	return wait(ctx, m.limiter(), symbol, apiKey)
}

// Next is the wrapped client.
func (m *MinInterval) Next() quote.Client { return m.C }

func (m *MinInterval) FetchQuote(ctx context.Context, symbol, apiKey string) (quote.Quote, error) {
	if err := m.Admit(ctx, symbol, apiKey); err != nil {
		return quote.Quote{}, err
	}
	return m.C.FetchQuote(ctx, symbol, apiKey)
}

// wait blocks on lim unless it is nil or the call carries no key.
// rate.Limiter cancels the reservation when ctx ends, returning the token.
func wait(ctx context.Context, lim *rate.Limiter, symbol, apiKey string) error {
	if lim == nil || strings.TrimSpace(apiKey) == "" {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return quote.Fail(quote.RateLimited, symbol, err)
	}
	return nil
}
