// Package refresh decides when and for which symbols quotes are fetched,
// and publishes each fan-out as a single batch into the quote cache.
package refresh

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfoliotracker/internal/quote"
)

// Defaults applied by New when a Config field is zero.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultFetchTimeout   = 10 * time.Second
	DefaultMaxConcurrency = 4
	DefaultRetryBackoff   = time.Second
)

// SymbolSource yields the symbols currently held. Duplicates are allowed.
type SymbolSource interface {
	Symbols() []string
}

// KeySource returns the configured API key, empty when none is set.
type KeySource func() string

// Publisher receives a completed batch. The quote cache implements it.
type Publisher interface {
	MergeBatch(batch map[string]quote.Quote, at time.Time)
}

// Gate is implemented by rate-limiting clients. The scheduler waits for
// admission under the cycle context and only then starts the per-fetch
// timeout on Next, so time spent queueing for quota never counts against
// a fetch.
type Gate interface {
	Admit(ctx context.Context, symbol, apiKey string) error
	Next() quote.Client
}

// Config tunes the scheduler.
type Config struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	MaxConcurrency int
	// Retries is the number of extra attempts for Transport failures.
	Retries      int
	RetryBackoff time.Duration
}

// Report summarizes one completed refresh cycle.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Requested  []string
	Updated    []string
	Failed     map[string]quote.FailureKind
}

// Scheduler runs refresh cycles. Refresh and RefreshAsync drop a request
// made while another cycle is in flight; RefreshSoon queues a single
// follow-up instead.
type Scheduler struct {
	client  quote.Client
	symbols SymbolSource
	apiKey  KeySource
	pub     Publisher
	cfg     Config
	log     *zap.Logger
	now     func() time.Time

	onRefresh func(Report)
	inFlight  atomic.Bool

	mu     sync.Mutex
	queued context.Context // follow-up cycle requested while in flight
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock used for batch timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithOnRefresh registers a hook called after every published batch.
func WithOnRefresh(fn func(Report)) Option {
	return func(s *Scheduler) { s.onRefresh = fn }
}

// New builds a Scheduler.
func New(client quote.Client, symbols SymbolSource, apiKey KeySource, pub Publisher, cfg Config, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	s := &Scheduler{
		client:  client,
		symbols: symbols,
		apiKey:  apiKey,
		pub:     pub,
		cfg:     cfg,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refreshing reports whether a cycle is in flight.
func (s *Scheduler) Refreshing() bool { return s.inFlight.Load() }

// Interval is the configured period between automatic cycles.
func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// Ready reports whether a cycle would do any work: a key is configured and
// at least one symbol is held.
func (s *Scheduler) Ready() bool {
	return s.key() != "" && len(unique(s.symbols.Symbols())) > 0
}

// Refresh runs one cycle and reports whether it ran. It returns false
// without side effects when there is nothing to fetch or a cycle is already
// in flight.
//
// Fetches are detached from ctx cancellation so an issued fan-out always
// completes and publishes; cancelling ctx only stops further retries and
// abandons waits for rate-limit quota.
func (s *Scheduler) Refresh(ctx context.Context) bool {
	symbols, key, ok := s.acquire()
	if !ok {
		return false
	}
	report := s.run(ctx, symbols, key)
	s.inFlight.Store(false)
	s.notify(report)
	s.runQueued()
	return true
}

// RefreshAsync is Refresh in the background. It reports synchronously
// whether a cycle was started.
func (s *Scheduler) RefreshAsync(ctx context.Context) bool {
	symbols, key, ok := s.acquire()
	if !ok {
		return false
	}
	go func() {
		report := s.run(ctx, symbols, key)
		s.inFlight.Store(false)
		s.notify(report)
		s.runQueued()
	}()
	return true
}

// RefreshSoon is RefreshAsync for changes the next cycle must not miss,
// such as a newly held symbol or a new key. When a cycle is already in
// flight, one follow-up cycle is queued to start as soon as it finishes;
// later requests while one is queued collapse into it. It reports whether
// a cycle was started or queued.
func (s *Scheduler) RefreshSoon(ctx context.Context) bool {
	if s.RefreshAsync(ctx) {
		return true
	}
	return s.enqueue(ctx)
}

// enqueue records a follow-up cycle. The in-flight cycle may have released
// its flag before the request was recorded, in which case the follow-up is
// started here.
func (s *Scheduler) enqueue(ctx context.Context) bool {
	if !s.Ready() {
		return false
	}
	s.mu.Lock()
	s.queued = ctx
	s.mu.Unlock()
	if !s.inFlight.Load() {
		s.runQueued()
	}
	return true
}

func (s *Scheduler) runQueued() {
	s.mu.Lock()
	ctx := s.queued
	s.queued = nil
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.log.Debug("running queued refresh")
	s.RefreshAsync(ctx)
}

// acquire checks the preconditions and takes the in-flight flag.
func (s *Scheduler) acquire() ([]string, string, bool) {
	key := s.key()
	symbols := unique(s.symbols.Symbols())
	if key == "" || len(symbols) == 0 {
		return nil, "", false
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug("refresh already in flight, trigger ignored")
		return nil, "", false
	}
	return symbols, key, true
}

type result struct {
	symbol string
	quote  quote.Quote
	err    error
}

// run fans out, fans in and publishes one batch.
func (s *Scheduler) run(ctx context.Context, symbols []string, key string) Report {
	started := s.now()
	fetchCtx := context.WithoutCancel(ctx)

	results := make([]result, len(symbols))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			q, err := s.fetch(ctx, fetchCtx, sym, key)
			results[i] = result{symbol: sym, quote: q, err: err}
			return nil
		})
	}
	_ = g.Wait()

	batch := make(map[string]quote.Quote, len(results))
	report := Report{StartedAt: started, Requested: symbols, Failed: map[string]quote.FailureKind{}}
	for _, r := range results {
		if r.err != nil {
			kind := quote.KindOf(r.err)
			report.Failed[r.symbol] = kind
			s.log.Warn("quote fetch failed",
				zap.String("symbol", r.symbol),
				zap.Stringer("kind", kind),
				zap.Error(r.err),
			)
			continue
		}
		batch[r.symbol] = r.quote
		report.Updated = append(report.Updated, r.symbol)
	}

	report.FinishedAt = s.now()
	s.pub.MergeBatch(batch, report.FinishedAt)
	s.log.Info("refresh complete",
		zap.Int("requested", len(symbols)),
		zap.Int("updated", len(report.Updated)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("took", report.FinishedAt.Sub(started)),
	)
	return report
}

// notify runs the refresh hook once the in-flight flag is released, so a
// hook may trigger the next cycle.
func (s *Scheduler) notify(r Report) {
	if s.onRefresh != nil {
		s.onRefresh(r)
	}
}

// fetch performs one bounded attempt plus Transport retries while live is
// not cancelled and key is still the configured key.
func (s *Scheduler) fetch(live, ctx context.Context, symbol, key string) (quote.Quote, error) {
	for attempt := 0; ; attempt++ {
		q, err := s.fetchOnce(live, ctx, symbol, key)
		if err == nil {
			if !q.Valid() {
				return quote.Quote{}, quote.Fail(quote.NotFound, symbol, nil)
			}
			return q, nil
		}
		if quote.KindOf(err) != quote.Transport || attempt >= s.cfg.Retries || live.Err() != nil || s.key() != key {
			return quote.Quote{}, err
		}
		s.log.Debug("retrying quote fetch", zap.String("symbol", symbol), zap.Int("attempt", attempt+1), zap.Error(err))

		t := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-live.Done():
			t.Stop()
			return quote.Quote{}, err
		case <-t.C:
		}
		if s.key() != key {
			return quote.Quote{}, err
		}
	}
}

// fetchOnce waits for quota under live, then bounds the fetch itself by
// the fetch timeout.
func (s *Scheduler) fetchOnce(live, ctx context.Context, symbol, key string) (quote.Quote, error) {
	client := s.client
	if g, ok := client.(Gate); ok {
		if err := g.Admit(live, symbol, key); err != nil {
			return quote.Quote{}, err
		}
		client = g.Next()
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	q, err := client.FetchQuote(ctx, symbol, key)
	if err != nil {
		var fe *quote.FetchError
		if !errors.As(err, &fe) {
			err = quote.Fail(quote.Transport, symbol, err)
		}
		return quote.Quote{}, err
	}
	q.Symbol = symbol
	return q, nil
}

func (s *Scheduler) key() string {
	if s.apiKey == nil {
		return ""
	}
	return s.apiKey()
}

func unique(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym = quote.NormalizeSymbol(sym); sym != "" {
			out = append(out, sym)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
