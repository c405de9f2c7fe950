// Package refresh runs the fetch-and-merge loops that keep the watchlist
// current: one-off refreshes, the scheduled poller, the ticker batch and the
// debounced search.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"watchboard/internal/provider"
)

// Source is the read side of the quote client.
type Source interface {
	GetQuote(ctx context.Context, symbol string) (provider.Quote, bool)
	GetHistory(ctx context.Context, symbol string, interval provider.Interval) []provider.HistoryPoint
	GetCompanyProfile(ctx context.Context, symbol string) (provider.CompanyProfile, bool)
}

// Sink is the write side of the watchlist store.
type Sink interface {
	Symbols() []string
	MergeQuote(symbol string, q provider.Quote)
	MergeHistory(symbol string, series []provider.HistoryPoint)
	MergeProfile(symbol string, p provider.CompanyProfile)
	SetLoading(loading bool)
	SetError(message string)
}

// ErrAllFailed is the message shown when a full refresh produced no data.
const ErrAllFailed = "Unable to fetch watchlist data"

type Config struct {
	// Interval is the history bar size fetched on refresh.
	Interval provider.Interval
	// CallTimeout bounds each upstream call; 0 means no bound beyond ctx.
	CallTimeout time.Duration
	// MaxConcurrency caps symbols refreshed at once; <= 0 means 1.
	MaxConcurrency int
}

// Refresher fetches from a Source and merges into a Sink.
type Refresher struct {
	src  Source
	sink Sink
	cfg  Config
	log  *slog.Logger
}

func New(src Source, sink Sink, cfg Config, log *slog.Logger) *Refresher {
	if cfg.Interval == "" {
		cfg.Interval = provider.IntervalDaily
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{src: src, sink: sink, cfg: cfg, log: log}
}

// Result reports which parts of a symbol refresh produced data.
type Result struct {
	Symbol  string `json:"symbol"`
	Quote   bool   `json:"quote"`
	History bool   `json:"history"`
}

// OK reports whether anything was merged.
func (r Result) OK() bool { return r.Quote || r.History }

func (r *Refresher) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.CallTimeout)
}

// RefreshSymbol fetches quote and history concurrently, waits for both, then
// merges each one that succeeded. A partial result is merged as is.
func (r *Refresher) RefreshSymbol(ctx context.Context, symbol string) Result {
	sym := provider.Canonical(symbol)
	var (
		quote   provider.Quote
		quoteOK bool
		history []provider.HistoryPoint
	)
	var g errgroup.Group
	g.Go(func() error {
		cctx, cancel := r.callCtx(ctx)
		defer cancel()
		quote, quoteOK = r.src.GetQuote(cctx, sym)
		return nil
	})
	g.Go(func() error {
		cctx, cancel := r.callCtx(ctx)
		defer cancel()
		history = r.src.GetHistory(cctx, sym, r.cfg.Interval)
		return nil
	})
	_ = g.Wait()

	res := Result{Symbol: sym, Quote: quoteOK, History: len(history) > 0}
	if res.Quote {
		r.sink.MergeQuote(sym, quote)
	}
	if res.History {
		r.sink.MergeHistory(sym, history)
	}
	r.log.Debug("refreshed symbol", "symbol", sym, "quote", res.Quote, "history", res.History)
	return res
}

// RefreshProfile fetches and merges fundamentals for symbol.
func (r *Refresher) RefreshProfile(ctx context.Context, symbol string) bool {
	sym := provider.Canonical(symbol)
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	p, ok := r.src.GetCompanyProfile(cctx, sym)
	if ok {
		r.sink.MergeProfile(sym, p)
	}
	return ok
}

// RefreshAll refreshes every tracked symbol with bounded concurrency. The
// loading flag is held for the duration; the error slot is set only when
// every symbol came back empty.
func (r *Refresher) RefreshAll(ctx context.Context) []Result {
	symbols := r.sink.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	r.sink.SetLoading(true)
	defer r.sink.SetLoading(false)

	results := make([]Result, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			results[i] = r.RefreshSymbol(gctx, sym)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, res := range results {
		if !res.OK() {
			failed++
		}
	}
	if failed == len(results) {
		r.sink.SetError(ErrAllFailed)
	} else {
		r.sink.SetError("")
	}
	r.log.Info("refreshed watchlist", "symbols", len(symbols), "failed", failed)
	return results
}

// FetchBatch fetches quotes for a ticker tape without touching the store.
// Each call gets its own timeout, so one hung symbol yields no quote rather
// than stalling the batch. Quotes come back in input order; symbols with no
// data are left out.
func (r *Refresher) FetchBatch(ctx context.Context, symbols []string) []provider.Quote {
	slots := make([]*provider.Quote, len(symbols))
	sem := make(chan struct{}, r.cfg.MaxConcurrency)
	var g errgroup.Group
	for i, s := range symbols {
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return nil
			}
			cctx, cancel := r.callCtx(ctx)
			defer cancel()
			if q, ok := r.src.GetQuote(cctx, s); ok {
				slots[i] = &q
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]provider.Quote, 0, len(symbols))
	for _, q := range slots {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}
