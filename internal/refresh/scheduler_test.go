package refresh_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"portfoliotracker/internal/config"
	"portfoliotracker/internal/quote"
	"portfoliotracker/internal/quote/cache"
	"portfoliotracker/internal/quote/quotemock"
	"portfoliotracker/internal/quote/ratelimit"
	"portfoliotracker/internal/refresh"
)

type symbols []string

func (s symbols) Symbols() []string { return s }

func key(k string) refresh.KeySource { return func() string { return k } }

func price(sym, p string) quote.Quote {
	return quote.Quote{Symbol: sym, Price: decimal.RequireFromString(p)}
}

// heldSymbols is a SymbolSource whose contents change during a test.
type heldSymbols struct {
	mu   sync.Mutex
	syms []string
}

func (h *heldSymbols) Symbols() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.syms...)
}

func (h *heldSymbols) add(sym string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.syms = append(h.syms, sym)
}

// mutableKey is a KeySource that can be swapped mid-cycle.
type mutableKey struct{ v atomic.Value }

func newMutableKey(k string) *mutableKey {
	m := &mutableKey{}
	m.v.Store(k)
	return m
}

func (m *mutableKey) get() string  { return m.v.Load().(string) }
func (m *mutableKey) set(k string) { m.v.Store(k) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestRefresh_NothingToDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		symbols symbols
		key     string
	}{
		{name: "no holdings", symbols: nil, key: "k"},
		{name: "blank symbols", symbols: symbols{" ", ""}, key: "k"},
		{name: "no api key", symbols: symbols{"AAPL"}, key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: any call on the mock fails the test
			ctrl := gomock.NewController(t)
			c := quotemock.NewMockClient(ctrl)
			qc := cache.New()
			s := refresh.New(c, tt.symbols, key(tt.key), qc, refresh.Config{})

			// Act
			ran := s.Refresh(t.Context())

			// Assert: no calls, no state change
			require.False(t, ran)
			require.True(t, qc.LastRefresh().IsZero())
			require.Zero(t, qc.Len())
			require.False(t, s.Ready())
		})
	}
}

func TestRefresh_OneCallPerUniqueSymbol(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	c := quotemock.NewMockClient(ctrl)
	c.EXPECT().FetchQuote(gomock.Any(), "AAPL", "k").Return(price("AAPL", "165"), nil).Times(1)
	c.EXPECT().FetchQuote(gomock.Any(), "MSFT", "k").Return(price("MSFT", "290"), nil).Times(1)

	qc := cache.New()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := refresh.New(c, symbols{"AAPL", "msft", "AAPL", " aapl "}, key("k"), qc, refresh.Config{}, refresh.WithClock(fixedClock(at)))

	require.True(t, s.Refresh(t.Context()))

	require.Equal(t, []string{"AAPL", "MSFT"}, qc.Symbols())
	require.Equal(t, at, qc.LastRefresh())
	require.False(t, s.Refreshing())
}

func TestRefresh_TriggerWhileInFlightIsIgnored(t *testing.T) {
	t.Parallel()

	// Arrange: both fetches block until released
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	block := func(_ context.Context, sym, _ string) (quote.Quote, error) {
		started.Done()
		<-release
		return price(sym, "100"), nil
	}

	ctrl := gomock.NewController(t)
	c := quotemock.NewMockClient(ctrl)
	c.EXPECT().FetchQuote(gomock.Any(), "AAPL", "k").DoAndReturn(block).Times(1)
	c.EXPECT().FetchQuote(gomock.Any(), "MSFT", "k").DoAndReturn(block).Times(1)

	qc := cache.New()
	s := refresh.New(c, symbols{"AAPL", "MSFT"}, key("k"), qc, refresh.Config{})

	first := make(chan bool, 1)
	go func() { first <- s.Refresh(context.Background()) }()
	started.Wait()

	// Act: two more triggers while the first cycle is pending
	require.True(t, s.Refreshing())
	second := s.Refresh(t.Context())
	third := s.Refresh(t.Context())
	close(release)

	// Assert
	require.True(t, <-first)
	require.False(t, second)
	require.False(t, third)
	require.False(t, s.Refreshing())
	require.Equal(t, 2, qc.Len())
}

func TestRefresh_PartialFailureKeepsLastKnownGood(t *testing.T) {
	t.Parallel()

	// Arrange: AAPL cached from an earlier cycle
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)
	qc := cache.New()
	qc.MergeBatch(map[string]quote.Quote{"AAPL": price("AAPL", "160"), "MSFT": price("MSFT", "280")}, t0)

	ctrl := gomock.NewController(t)
	c := quotemock.NewMockClient(ctrl)
	c.EXPECT().FetchQuote(gomock.Any(), "AAPL", "k").
		Return(quote.Quote{}, quote.Fail(quote.Transport, "AAPL", errors.New("connection reset"))).Times(1)
	c.EXPECT().FetchQuote(gomock.Any(), "MSFT", "k").Return(price("MSFT", "290"), nil).Times(1)

	var report refresh.Report
	s := refresh.New(c, symbols{"AAPL", "MSFT"}, key("k"), qc, refresh.Config{},
		refresh.WithClock(fixedClock(t1)),
		refresh.WithOnRefresh(func(r refresh.Report) { report = r }),
	)

	// Act
	require.True(t, s.Refresh(t.Context()))

	// Assert
	aapl, ok := qc.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "160", aapl.Price.String())
	assert.True(t, qc.Stale("AAPL"))

	msft, ok := qc.Get("MSFT")
	require.True(t, ok)
	assert.Equal(t, "290", msft.Price.String())
	assert.False(t, qc.Stale("MSFT"))

	assert.Equal(t, t1, qc.LastRefresh())
	assert.Equal(t, []string{"MSFT"}, report.Updated)
	assert.Equal(t, map[string]quote.FailureKind{"AAPL": quote.Transport}, report.Failed)
}

func TestRefresh_AllFailStillAdvancesLastRefresh(t *testing.T) {
	t.Parallel()

	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		return quote.Quote{}, quote.Fail(quote.NotFound, sym, nil)
	})
	qc := cache.New()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := refresh.New(c, symbols{"ZZZZ"}, key("k"), qc, refresh.Config{}, refresh.WithClock(fixedClock(at)))

	require.True(t, s.Refresh(t.Context()))

	require.Zero(t, qc.Len())
	require.Equal(t, at, qc.LastRefresh())
}

func TestRefresh_HungFetchIsBounded(t *testing.T) {
	t.Parallel()

	c := quote.ClientFunc(func(ctx context.Context, sym, _ string) (quote.Quote, error) {
		if sym == "HUNG" {
			<-ctx.Done()
			return quote.Quote{}, ctx.Err()
		}
		return price(sym, "10"), nil
	})
	qc := cache.New()
	var report refresh.Report
	s := refresh.New(c, symbols{"HUNG", "OK"}, key("k"), qc,
		refresh.Config{FetchTimeout: 20 * time.Millisecond},
		refresh.WithOnRefresh(func(r refresh.Report) { report = r }),
	)

	require.True(t, s.Refresh(t.Context()))

	_, ok := qc.Get("OK")
	require.True(t, ok)
	_, ok = qc.Get("HUNG")
	require.False(t, ok)
	require.Equal(t, quote.Transport, report.Failed["HUNG"])
}

func TestRefresh_RetriesTransportOnly(t *testing.T) {
	t.Parallel()

	var flaky, limited atomic.Int32
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		switch sym {
		case "FLAKY":
			if flaky.Add(1) < 3 {
				return quote.Quote{}, quote.Fail(quote.Transport, sym, errors.New("timeout"))
			}
			return price(sym, "5"), nil
		default:
			limited.Add(1)
			return quote.Quote{}, quote.Fail(quote.RateLimited, sym, nil)
		}
	})
	qc := cache.New()
	s := refresh.New(c, symbols{"FLAKY", "LIMITED"}, key("k"), qc,
		refresh.Config{Retries: 2, RetryBackoff: time.Millisecond})

	require.True(t, s.Refresh(t.Context()))

	_, ok := qc.Get("FLAKY")
	require.True(t, ok)
	require.EqualValues(t, 3, flaky.Load())
	require.EqualValues(t, 1, limited.Load())
}

func TestRefresh_CancelledContextSuppressesRetriesButPublishes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := quote.ClientFunc(func(ctx context.Context, sym, _ string) (quote.Quote, error) {
		calls.Add(1)
		if sym == "AAPL" {
			return quote.Quote{}, quote.Fail(quote.Transport, sym, errors.New("reset"))
		}
		return price(sym, "1"), nil
	})
	qc := cache.New()
	s := refresh.New(c, symbols{"AAPL", "MSFT"}, key("k"), qc,
		refresh.Config{Retries: 5, RetryBackoff: time.Millisecond})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.True(t, s.Refresh(ctx))

	require.EqualValues(t, 2, calls.Load(), "no retry once stopped")
	_, ok := qc.Get("MSFT")
	require.True(t, ok, "issued fetches still publish")
}

func TestRefresh_LogsFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		return quote.Quote{}, quote.Fail(quote.RateLimited, sym, nil)
	})
	s := refresh.New(c, symbols{"AAPL"}, key("k"), cache.New(), refresh.Config{}, refresh.WithLogger(zap.New(core)))

	require.True(t, s.Refresh(t.Context()))

	entries := logs.FilterMessage("quote fetch failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "AAPL", fields["symbol"])
	require.Equal(t, "rate_limited", fields["kind"])
}

func TestStart_RunsImmediatelyAndStopIsIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		calls.Add(1)
		return price(sym, "1"), nil
	})
	done := make(chan refresh.Report, 8)
	s := refresh.New(c, symbols{"AAPL"}, key("k"), cache.New(),
		refresh.Config{Interval: time.Hour},
		refresh.WithOnRefresh(func(r refresh.Report) { done <- r }),
	)

	h := s.Start(t.Context())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no immediate refresh")
	}

	h.Stop()
	h.Stop()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle did not stop")
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestStart_TicksRecheckPreconditions(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var apiKey atomic.Value
	apiKey.Store("k")
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		calls.Add(1)
		return price(sym, "1"), nil
	})
	ticks := make(chan struct{}, 64)
	s := refresh.New(c, symbols{"AAPL"}, func() string { return apiKey.Load().(string) }, cache.New(),
		refresh.Config{Interval: 5 * time.Millisecond},
		refresh.WithOnRefresh(func(refresh.Report) { ticks <- struct{}{} }),
	)

	h := s.Start(t.Context())
	defer h.Stop()
	<-ticks
	<-ticks

	// Clearing the key turns later ticks into no-ops.
	apiKey.Store("")
	n := calls.Load()
	time.Sleep(40 * time.Millisecond)

	require.LessOrEqual(t, calls.Load(), n+1, "at most the cycle already in flight completes")
}

func TestRefreshAsync_ReportsStartSynchronously(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		<-release
		return price(sym, "1"), nil
	})
	done := make(chan struct{})
	qc := cache.New()
	s := refresh.New(c, symbols{"AAPL"}, key("k"), qc, refresh.Config{},
		refresh.WithOnRefresh(func(refresh.Report) { close(done) }))

	require.True(t, s.RefreshAsync(context.Background()))
	require.True(t, s.Refreshing())
	require.False(t, s.RefreshAsync(context.Background()))

	close(release)
	<-done
	require.Eventually(t, func() bool { return !s.Refreshing() }, time.Second, time.Millisecond)
	require.Equal(t, 1, qc.Len())
}

func TestRefresh_RateLimitWaitDoesNotCountAgainstFetchTimeout(t *testing.T) {
	t.Parallel()

	// Arrange: the shipped limiter shape (burst 1, concurrency 4) with the
	// token interval scaled down but still longer than the fetch timeout.
	cfg := config.Default()
	cfg.TwelveData.MaxRequestsPerMinute = 600 // one token every 100ms
	var calls atomic.Int32
	instant := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		calls.Add(1)
		return price(sym, "1"), nil
	})
	feed := ratelimit.Wrap(instant, cfg.TwelveData.MaxRequestsPerMinute, cfg.TwelveData.Burst, cfg.TwelveData.MinRequestIntervalSec)
	qc := cache.New()
	var report refresh.Report
	s := refresh.New(feed, symbols{"AAPL", "MSFT", "GOOG", "NVDA"}, key("k"), qc, refresh.Config{
		FetchTimeout:   50 * time.Millisecond,
		MaxConcurrency: cfg.Refresh.MaxConcurrency,
		Retries:        cfg.Refresh.Retries,
	}, refresh.WithOnRefresh(func(r refresh.Report) { report = r }))

	// Act
	require.True(t, s.Refresh(t.Context()))

	// Assert: every symbol was fetched once despite queueing for quota
	require.Empty(t, report.Failed)
	require.ElementsMatch(t, []string{"AAPL", "GOOG", "MSFT", "NVDA"}, report.Updated)
	require.EqualValues(t, 4, calls.Load())
	require.Equal(t, 4, qc.Len())
}

func TestRefreshSoon_QueuesFollowUpWhileInFlight(t *testing.T) {
	t.Parallel()

	// Arrange: the first AAPL fetch blocks until released
	release := make(chan struct{})
	var first sync.Once
	entered := make(chan struct{})
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		if sym == "AAPL" {
			first.Do(func() {
				close(entered)
				<-release
			})
		}
		return price(sym, "1"), nil
	})
	held := &heldSymbols{syms: []string{"AAPL"}}
	reports := make(chan refresh.Report, 8)
	qc := cache.New()
	s := refresh.New(c, held, key("k"), qc, refresh.Config{},
		refresh.WithOnRefresh(func(r refresh.Report) { reports <- r }))

	require.True(t, s.RefreshAsync(context.Background()))
	<-entered

	// Act: a new symbol arrives mid-cycle; repeated requests collapse
	held.add("MSFT")
	require.True(t, s.RefreshSoon(context.Background()))
	require.True(t, s.RefreshSoon(context.Background()))
	close(release)

	// Assert
	r1 := <-reports
	require.Equal(t, []string{"AAPL"}, r1.Requested)
	var r2 refresh.Report
	select {
	case r2 = <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("queued refresh never ran")
	}
	require.Contains(t, r2.Updated, "MSFT")
	_, ok := qc.Get("MSFT")
	require.True(t, ok)

	select {
	case r := <-reports:
		t.Fatalf("unexpected extra cycle: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRefreshSoon_CancelledRequestIsDropped(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return price(sym, "1"), nil
	})
	reports := make(chan refresh.Report, 8)
	s := refresh.New(c, symbols{"AAPL"}, key("k"), cache.New(), refresh.Config{},
		refresh.WithOnRefresh(func(r refresh.Report) { reports <- r }))

	require.True(t, s.RefreshAsync(context.Background()))
	<-entered
	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, s.RefreshSoon(ctx))
	cancel()
	close(release)

	<-reports
	select {
	case <-reports:
		t.Fatal("cancelled follow-up ran")
	case <-time.After(50 * time.Millisecond):
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestRefresh_KeyChangeStopsRetries(t *testing.T) {
	t.Parallel()

	// Arrange: every fetch fails with a retryable error
	var calls atomic.Int32
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		calls.Add(1)
		return quote.Quote{}, quote.Fail(quote.Transport, sym, errors.New("reset"))
	})
	k := newMutableKey("k")
	done := make(chan refresh.Report, 1)
	s := refresh.New(c, symbols{"AAPL"}, k.get, cache.New(), refresh.Config{
		Retries:      3,
		RetryBackoff: 200 * time.Millisecond,
	}, refresh.WithOnRefresh(func(r refresh.Report) { done <- r }))

	require.True(t, s.RefreshAsync(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// Act: the key is cleared during the backoff
	k.set("")

	// Assert: the cycle publishes without retrying under the old key
	select {
	case r := <-done:
		require.Equal(t, quote.Transport, r.Failed["AAPL"])
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish")
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestStart_FirstCycleQueuesBehindInFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32
	c := quote.ClientFunc(func(_ context.Context, sym, _ string) (quote.Quote, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return price(sym, "1"), nil
	})
	reports := make(chan refresh.Report, 8)
	s := refresh.New(c, symbols{"AAPL"}, key("k"), cache.New(), refresh.Config{Interval: time.Hour},
		refresh.WithOnRefresh(func(r refresh.Report) { reports <- r }))

	require.True(t, s.RefreshAsync(context.Background()))
	<-entered

	h := s.Start(t.Context())
	defer h.Stop()
	close(release)

	<-reports
	select {
	case <-reports:
	case <-time.After(2 * time.Second):
		t.Fatal("first periodic cycle was dropped")
	}
	require.EqualValues(t, 2, calls.Load())
}
