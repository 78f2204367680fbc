// Package tracker is the presentation boundary of the portfolio core. It
// owns the holdings store, the quote cache and the refresh scheduler, and
// keeps the periodic refresh running exactly while an API key is set and
// at least one holding exists.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"portfoliotracker/internal/broker"
	"portfoliotracker/internal/portfolio"
	"portfoliotracker/internal/quote"
	"portfoliotracker/internal/quote/cache"
	"portfoliotracker/internal/refresh"
	"portfoliotracker/internal/valuation"
)

var (
	// ErrInvalidAPIKey is returned when a key fails validation.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrHoldingNotFound is returned when removing an unknown holding.
	ErrHoldingNotFound = errors.New("holding not found")
)

// KeyValidator checks an API key against the feed.
type KeyValidator interface {
	ValidateKey(ctx context.Context, apiKey string) error
}

// Reasons attached to an Update.
const (
	ReasonRefresh  = "refresh"
	ReasonHoldings = "holdings"
	ReasonAPIKey   = "apikey"
)

// Update is delivered to subscribers whenever the valuation may have
// changed.
type Update struct {
	Reason    string
	Valuation valuation.PortfolioValuation
	Report    *refresh.Report
}

// Options configures a Tracker.
type Options struct {
	Refresh  refresh.Config
	Currency string
	Broker   string
	APIKey   string
	Logger   *zap.Logger
	Now      func() time.Time
}

// Tracker wires holdings, quotes and refreshes together.
type Tracker struct {
	store     *portfolio.Store
	cache     *cache.Cache
	sched     *refresh.Scheduler
	client    quote.Client
	validator KeyValidator
	log       *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	apiKey  string
	broker  broker.Broker
	handle  *refresh.Handle
	started bool

	// keyCtx lives as long as the current key; clearing or replacing the
	// key cancels it, which abandons retries and quota waits made with it.
	keyCtx    context.Context
	keyCancel context.CancelFunc

	subMu  sync.RWMutex
	subs   map[int]func(Update)
	nextID int
}

// New builds a Tracker. Call Start to enable automatic refreshes.
func New(client quote.Client, validator KeyValidator, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b, err := broker.Lookup(opts.Broker)
	if err != nil {
		b = broker.Default()
	}

	t := &Tracker{
		store: portfolio.NewStore(
			portfolio.WithCurrency(opts.Currency),
			portfolio.WithClock(opts.Now),
		),
		cache:     cache.New(),
		client:    client,
		validator: validator,
		log:       opts.Logger,
		now:       opts.Now,
		ctx:       context.Background(),
		apiKey:    strings.TrimSpace(opts.APIKey),
		broker:    b,
		subs:      map[int]func(Update){},
	}
	t.rekeyLocked()
	t.sched = refresh.New(client, t.store, t.APIKey, t.cache, opts.Refresh,
		refresh.WithLogger(opts.Logger.Named("refresh")),
		refresh.WithClock(opts.Now),
		refresh.WithOnRefresh(t.onRefresh),
	)
	return t
}

// Start enables automatic refreshes bound to ctx.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.started = true
	t.rekeyLocked()
	t.mu.Unlock()
	t.reconcile(false)
}

// Close stops automatic refreshes. A cycle already in flight completes
// without retries.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.keyCancel()
	if t.handle != nil {
		t.handle.Stop()
		t.handle = nil
	}
}

// rekeyLocked replaces keyCtx after the key or the parent context changed.
// With no key the new context is already cancelled. Callers hold mu.
func (t *Tracker) rekeyLocked() {
	if t.keyCancel != nil {
		t.keyCancel()
	}
	t.keyCtx, t.keyCancel = context.WithCancel(t.ctx)
	if t.apiKey == "" {
		t.keyCancel()
	}
}

// keyContext returns the context refreshes for the current key run under.
func (t *Tracker) keyContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyCtx
}

// reconcile starts or stops the periodic task to match the current key and
// holdings. restart forces a fresh task, and thus an immediate cycle, when
// one is already running.
func (t *Tracker) reconcile(restart bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ready := t.started && t.apiKey != "" && t.store.Len() > 0
	switch {
	case !ready && t.handle != nil:
		t.handle.Stop()
		t.handle = nil
		t.log.Info("automatic refresh stopped")
	case ready && t.handle != nil && restart:
		t.handle.Stop()
		t.handle = t.sched.Start(t.keyCtx)
		t.log.Info("automatic refresh restarted")
	case ready && t.handle == nil:
		t.handle = t.sched.Start(t.keyCtx)
		t.log.Info("automatic refresh started", zap.Duration("interval", t.sched.Interval()))
	}
}

// AutoRefreshing reports whether the periodic task is running.
func (t *Tracker) AutoRefreshing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle != nil
}

// APIKey returns the current key, empty when none is set.
func (t *Tracker) APIKey() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apiKey
}

// APIKeyConfigured reports whether a key is set.
func (t *Tracker) APIKeyConfigured() bool { return t.APIKey() != "" }

// SetAPIKey validates key (when validate is true and a validator exists)
// and activates it. An empty key clears the current one.
func (t *Tracker) SetAPIKey(ctx context.Context, key string, validate bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		t.ClearAPIKey()
		return nil
	}
	if validate && t.validator != nil {
		if err := t.validator.ValidateKey(ctx, key); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAPIKey, err)
		}
	}

	t.mu.Lock()
	changed := t.apiKey != key
	t.apiKey = key
	if changed {
		t.rekeyLocked()
	}
	t.mu.Unlock()

	if changed {
		t.log.Info("api key configured")
		t.reconcile(true)
		t.notify(ReasonAPIKey, nil)
	}
	return nil
}

// ClearAPIKey removes the key and stops automatic refreshes. Cached quotes
// are kept.
func (t *Tracker) ClearAPIKey() {
	t.mu.Lock()
	had := t.apiKey != ""
	t.apiKey = ""
	t.rekeyLocked()
	t.mu.Unlock()

	if had {
		t.log.Info("api key cleared")
		t.reconcile(false)
		t.notify(ReasonAPIKey, nil)
	}
}

// Broker returns the selected broker label.
func (t *Tracker) Broker() broker.Broker {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broker
}

// SetBroker selects a broker by id.
func (t *Tracker) SetBroker(id string) (broker.Broker, error) {
	b, err := broker.Lookup(id)
	if err != nil {
		return broker.Broker{}, err
	}
	t.mu.Lock()
	t.broker = b
	t.mu.Unlock()
	return b, nil
}

// AddHolding records a holding. A symbol with no cached quote triggers a
// background refresh, queued behind the current cycle when one is in
// flight.
func (t *Tracker) AddHolding(n portfolio.NewHolding) (portfolio.Holding, error) {
	h, err := t.store.Add(n)
	if err != nil {
		return portfolio.Holding{}, err
	}
	t.log.Info("holding added", zap.Stringer("id", h.ID), zap.String("symbol", h.Symbol))

	t.mu.Lock()
	running := t.handle != nil
	ctx := t.keyCtx
	t.mu.Unlock()

	t.reconcile(false)
	if _, cached := t.cache.Get(h.Symbol); running && !cached {
		t.sched.RefreshSoon(ctx)
	}
	t.notify(ReasonHoldings, nil)
	return h, nil
}

// RemoveHolding deletes a holding by id.
func (t *Tracker) RemoveHolding(id uuid.UUID) error {
	if !t.store.Remove(id) {
		return fmt.Errorf("%w: %s", ErrHoldingNotFound, id)
	}
	t.log.Info("holding removed", zap.Stringer("id", id))
	t.reconcile(false)
	t.notify(ReasonHoldings, nil)
	return nil
}

// Holdings lists holdings in insertion order.
func (t *Tracker) Holdings() []portfolio.Holding { return t.store.List() }

// Currency is the home currency.
func (t *Tracker) Currency() string { return t.store.Currency() }

// Valuation computes the current portfolio valuation from one consistent
// cache snapshot.
func (t *Tracker) Valuation() (valuation.PortfolioValuation, error) {
	snap := t.cache.Snapshot()
	return valuation.ValuePortfolioWith(t.store.List(), snap, valuation.Options{
		Now:         t.now(),
		LastRefresh: snap.LastRefresh(),
	})
}

// LastRefresh is the completion time of the latest refresh cycle.
func (t *Tracker) LastRefresh() time.Time { return t.cache.LastRefresh() }

// Refreshing reports whether a refresh cycle is in flight.
func (t *Tracker) Refreshing() bool { return t.sched.Refreshing() }

// RequestRefresh starts a cycle in the background. It returns false when
// there is nothing to fetch or a cycle is already in flight; the request
// is not queued. Clearing or changing the key stops the cycle's retries.
func (t *Tracker) RequestRefresh() bool {
	ctx := t.keyContext()
	if ctx.Err() != nil {
		return false
	}
	return t.sched.RefreshAsync(ctx)
}

// Now is the tracker's clock.
func (t *Tracker) Now() time.Time { return t.now() }

// Quote fetches a live quote for one symbol with the current key,
// bypassing the cache.
func (t *Tracker) Quote(ctx context.Context, symbol string) (quote.Quote, error) {
	symbol = quote.NormalizeSymbol(symbol)
	if symbol == "" {
		return quote.Quote{}, quote.Fail(quote.NotFound, symbol, errors.New("empty symbol"))
	}
	return t.client.FetchQuote(ctx, symbol, t.APIKey())
}

// Subscribe registers fn for updates and returns a function that removes
// it. fn runs on the goroutine that caused the update and must not block.
func (t *Tracker) Subscribe(fn func(Update)) (unsubscribe func()) {
	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.subMu.Unlock()

	return func() {
		t.subMu.Lock()
		delete(t.subs, id)
		t.subMu.Unlock()
	}
}

func (t *Tracker) onRefresh(r refresh.Report) {
	t.notify(ReasonRefresh, &r)
}

func (t *Tracker) notify(reason string, r *refresh.Report) {
	t.subMu.RLock()
	fns := make([]func(Update), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.RUnlock()
	if len(fns) == 0 {
		return
	}

	v, err := t.Valuation()
	if err != nil {
		t.log.Error("valuation failed", zap.Error(err))
	}
	u := Update{Reason: reason, Valuation: v, Report: r}
	for _, fn := range fns {
		fn(u)
	}
}
