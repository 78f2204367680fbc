package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"portfoliotracker/internal/quote"
)

func q(sym, price string) quote.Quote {
	return quote.Quote{Symbol: sym, Price: decimal.RequireFromString(price)}
}

func TestGet_MissingSymbol(t *testing.T) {
	c := New()

	_, ok := c.Get("AAPL")
	require.False(t, ok)
	require.False(t, c.Stale("AAPL"))
	require.True(t, c.LastRefresh().IsZero())
}

func TestMerge_OverwritesUnconditionally(t *testing.T) {
	c := New()

	c.Merge("aapl", q("AAPL", "150"))
	c.Merge("AAPL", q("AAPL", "149"))

	got, ok := c.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, "149", got.Price.String())
	require.Equal(t, []string{"AAPL"}, c.Symbols())
}

func TestMergeBatch_KeepsUntouchedEntries(t *testing.T) {
	c := New()
	t1 := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)

	c.MergeBatch(map[string]quote.Quote{"AAPL": q("AAPL", "150"), "MSFT": q("MSFT", "300")}, t1)
	// AAPL failed in the second cycle; only MSFT is in the batch.
	c.MergeBatch(map[string]quote.Quote{"MSFT": q("MSFT", "290")}, t2)

	aapl, ok := c.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, "150", aapl.Price.String())
	msft, _ := c.Get("MSFT")
	require.Equal(t, "290", msft.Price.String())
	require.Equal(t, t2, c.LastRefresh())
	require.True(t, c.Stale("AAPL"))
	require.False(t, c.Stale("MSFT"))
}

func TestMergeBatch_EmptyBatchStillAdvancesRefresh(t *testing.T) {
	c := New()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	c.MergeBatch(nil, at)

	require.Equal(t, at, c.LastRefresh())
	require.Equal(t, 0, c.Len())
}

func TestMergeBatch_IgnoresNonPositivePrice(t *testing.T) {
	c := New()

	c.MergeBatch(map[string]quote.Quote{"AAPL": q("AAPL", "0")}, time.Now())

	_, ok := c.Get("AAPL")
	require.False(t, ok)
}

func TestSnapshot_IsolatedFromLaterMerges(t *testing.T) {
	c := New()
	c.MergeBatch(map[string]quote.Quote{"AAPL": q("AAPL", "150")}, time.Now())

	snap := c.Snapshot()
	c.MergeBatch(map[string]quote.Quote{"AAPL": q("AAPL", "165"), "MSFT": q("MSFT", "290")}, time.Now())

	got, _ := snap.Get("AAPL")
	require.Equal(t, "150", got.Price.String())
	_, ok := snap.Get("MSFT")
	require.False(t, ok)
	require.Equal(t, 1, snap.Len())
}

func TestSnapshot_SeesWholeBatches(t *testing.T) {
	c := New()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 200; i++ {
			p := decimal.NewFromInt(int64(i))
			c.MergeBatch(map[string]quote.Quote{
				"AAPL": {Price: p},
				"MSFT": {Price: p},
			}, time.Now())
		}
	}()

	for i := 0; i < 200; i++ {
		snap := c.Snapshot()
		a, okA := snap.Get("AAPL")
		m, okM := snap.Get("MSFT")
		require.Equal(t, okA, okM)
		if okA {
			require.True(t, a.Price.Equal(m.Price), "torn batch: %s vs %s", a.Price, m.Price)
		}
	}
	wg.Wait()
}
