package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"portfoliotracker/internal/config"
	"portfoliotracker/internal/format"
	"portfoliotracker/internal/httpx"
	"portfoliotracker/internal/logging"
	"portfoliotracker/internal/portfolio"
	"portfoliotracker/internal/quote"
	"portfoliotracker/internal/quote/cache"
	"portfoliotracker/internal/quote/ratelimit"
	"portfoliotracker/internal/quote/twelvedata"
	"portfoliotracker/internal/refresh"
	"portfoliotracker/internal/search"
	"portfoliotracker/internal/valuation"
)

// feedFlags are shared by every command that talks to the feed.
type feedFlags struct {
	configPath string
	apiKey     string
	timeout    int
}

func (f *feedFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	fs.StringVar(&f.apiKey, "key", "", "Twelve Data API key (defaults to config / TWELVEDATA_API_KEY)")
	fs.IntVar(&f.timeout, "timeout", 0, "request timeout seconds (defaults to config)")
}

type session struct {
	cfg  config.Config
	td   *twelvedata.Client
	feed quote.Client
	log  *zap.Logger
}

func (f *feedFlags) open() (*session, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if f.apiKey != "" {
		cfg.TwelveData.APIKey = strings.TrimSpace(f.apiKey)
	}
	if f.timeout > 0 {
		cfg.TwelveData.TimeoutSec = f.timeout
	}
	// Log to stderr in console form so stdout stays clean for results.
	log, err := logging.New(cfg.Logging.Level, logging.FormatConsole)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	td := twelvedata.NewClient(
		twelvedata.WithBaseURL(cfg.TwelveData.BaseURL),
		twelvedata.WithHTTPClient(httpx.New(time.Duration(cfg.TwelveData.TimeoutSec)*time.Second)),
	)
	return &session{
		cfg:  cfg,
		td:   td,
		feed: ratelimit.Wrap(td, cfg.TwelveData.MaxRequestsPerMinute, cfg.TwelveData.Burst, cfg.TwelveData.MinRequestIntervalSec),
		log:  log,
	}, nil
}

func (s *session) timeout() time.Duration {
	return time.Duration(s.cfg.TwelveData.TimeoutSec) * time.Second
}

// quoteCmd prints live quotes as JSON.
type quoteCmd struct{ feedFlags }

func (*quoteCmd) Name() string               { return "quote" }
func (*quoteCmd) Synopsis() string           { return "fetch live quotes for one or more symbols" }
func (*quoteCmd) Usage() string              { return "fetch quote [-key K] <symbol>[,<symbol>...] ...\n" }
func (c *quoteCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	symbols := splitCSV(strings.Join(f.Args(), ","))
	if len(symbols) == 0 {
		fmt.Fprintln(os.Stderr, "at least one symbol is required")
		return subcommands.ExitUsageError
	}
	s, err := c.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	var out []quote.Quote
	status := subcommands.ExitSuccess
	for _, sym := range symbols {
		qctx, cancel := context.WithTimeout(ctx, s.timeout())
		q, err := s.feed.FetchQuote(qctx, quote.NormalizeSymbol(sym), s.cfg.TwelveData.APIKey)
		cancel()
		if err != nil {
			s.log.Warn("quote failed", zap.String("symbol", sym), zap.Stringer("kind", quote.KindOf(err)), zap.Error(err))
			status = subcommands.ExitFailure
			continue
		}
		out = append(out, q)
	}

	b, _ := json.MarshalIndent(struct {
		Quotes []quote.Quote `json:"quotes"`
	}{Quotes: out}, "", "  ")
	fmt.Println(string(b))
	return status
}

// searchCmd lists candidate instruments for a query.
type searchCmd struct{ feedFlags }

func (*searchCmd) Name() string               { return "search" }
func (*searchCmd) Synopsis() string           { return "search symbols by ticker or company name" }
func (*searchCmd) Usage() string              { return "fetch search [-key K] <query>\n" }
func (c *searchCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	q := strings.TrimSpace(strings.Join(f.Args(), " "))
	if q == "" {
		fmt.Fprintln(os.Stderr, "a query is required")
		return subcommands.ExitUsageError
	}
	s, err := c.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	key := s.cfg.TwelveData.APIKey
	svc := search.New(s.td, func() string { return key }, s.log)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tEXCHANGE\tTYPE")
	for _, r := range svc.Search(ctx, q) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Symbol, r.Name, r.Exchange, r.Type)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// validateCmd checks an API key with one reference price.
type validateCmd struct{ feedFlags }

func (*validateCmd) Name() string               { return "validate" }
func (*validateCmd) Synopsis() string           { return "check that an API key is accepted by the feed" }
func (*validateCmd) Usage() string              { return "fetch validate [-key K]\n" }
func (c *validateCmd) SetFlags(f *flag.FlagSet) { c.register(f) }

func (c *validateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := c.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if s.cfg.TwelveData.APIKey == "" {
		fmt.Fprintln(os.Stderr, "no API key: pass -key or set TWELVEDATA_API_KEY")
		return subcommands.ExitUsageError
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	if err := s.td.ValidateKey(ctx, s.cfg.TwelveData.APIKey); err != nil {
		fmt.Printf("key rejected (%s): %v\n", quote.KindOf(err), err)
		return subcommands.ExitFailure
	}
	fmt.Printf("key ok (checked %s)\n", twelvedata.ReferenceSymbol)
	return subcommands.ExitSuccess
}

// valueCmd values an ad-hoc portfolio with one refresh cycle.
type valueCmd struct {
	feedFlags
	holdings holdingList
}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "value holdings given on the command line" }
func (*valueCmd) Usage() string {
	return "fetch value [-key K] -holding SYMBOL:SHARES@PRICE [-holding ...]\n"
}

func (c *valueCmd) SetFlags(f *flag.FlagSet) {
	c.register(f)
	f.Var(&c.holdings, "holding", "holding as SYMBOL:SHARES@PRICE; repeatable")
}

func (c *valueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if len(c.holdings) == 0 {
		fmt.Fprintln(os.Stderr, "at least one -holding is required")
		return subcommands.ExitUsageError
	}
	s, err := c.open()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	store := portfolio.NewStore(portfolio.WithCurrency(s.cfg.Portfolio.Currency))
	for _, n := range c.holdings {
		if _, err := store.Add(n); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitUsageError
		}
	}

	quotes := cache.New()
	key := s.cfg.TwelveData.APIKey
	sched := refresh.New(s.feed, store, func() string { return key }, quotes, refresh.Config{
		FetchTimeout:   s.cfg.Refresh.FetchTimeout(),
		MaxConcurrency: s.cfg.Refresh.MaxConcurrency,
		Retries:        s.cfg.Refresh.Retries,
	}, refresh.WithLogger(s.log))
	if !sched.Refresh(ctx) {
		s.log.Info("no API key; valuing at execution prices")
	}

	snap := quotes.Snapshot()
	v, err := valuation.ValuePortfolioWith(store.List(), snap, valuation.Options{LastRefresh: snap.LastRefresh()})
	if err != nil {
		s.log.Warn("valuation incomplete", zap.Error(err))
	}
	if err := printValuation(os.Stdout, v, store.Currency()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printValuation(out *os.File, v valuation.PortfolioValuation, cur string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "SYMBOL\tSHARES\tCOST\tPRICE\tVALUE\tGAIN/LOSS\t%\tDAY\t")
	for _, h := range v.Holdings {
		price := format.Currency(h.CurrentPrice, cur)
		if !h.Live {
			price += "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			h.Symbol, h.Shares.String(), format.Currency(h.CostBasis, cur), price,
			format.Currency(h.MarketValue, cur), format.SignedCurrency(h.GainLoss, cur),
			format.Percent(h.GainLossPercent), format.NullPercent(h.DailyPercentChange))
	}
	fmt.Fprintf(w, "TOTAL\t\t%s\t\t%s\t%s\t%s\t\t\n",
		format.Currency(v.TotalCost, cur), format.Currency(v.TotalMarketValue, cur),
		format.SignedCurrency(v.TotalGainLoss, cur), format.Percent(v.TotalGainLossPercent))
	return w.Flush()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
