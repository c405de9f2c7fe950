package alphavantage

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"watchboard/internal/provider"
)

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 4 << 20

// GetQuote returns the latest quote for symbol. It never fails: upstream
// errors, transport errors and malformed payloads are logged and reported as
// absent.
func (c *Client) GetQuote(ctx context.Context, symbol string) (provider.Quote, bool) {
	sym := provider.Canonical(symbol)
	if sym == "" || c.apiKey == "" {
		return provider.Quote{}, false
	}
	key := "quote:" + sym
	if q, ok := c.quotes.Get(key); ok {
		return q, true
	}
	v, err := c.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {sym}})
		if err != nil {
			return nil, err
		}
		q, err := ParseQuote(body)
		if err != nil {
			return nil, err
		}
		c.quotes.Set(key, q)
		return q, nil
	})
	if err != nil {
		c.log.Warn("quote unavailable", "op", "quote", "symbol", sym, "error", err)
		return provider.Quote{}, false
	}
	return v.(provider.Quote), true
}

// GetHistory returns up to provider.MaxHistoryPoints bars for symbol in
// ascending date order. On any failure it returns an empty, non-nil slice.
func (c *Client) GetHistory(ctx context.Context, symbol string, interval provider.Interval) []provider.HistoryPoint {
	empty := []provider.HistoryPoint{}
	sym := provider.Canonical(symbol)
	if sym == "" || c.apiKey == "" {
		return empty
	}
	interval, err := provider.ParseInterval(string(interval))
	if err != nil {
		c.log.Warn("history unavailable", "op", "history", "symbol", sym, "error", err)
		return empty
	}
	key := "history:" + sym + ":" + string(interval)
	if h, ok := c.history.Get(key); ok {
		return h
	}
	params := url.Values{"symbol": {sym}}
	if interval.Intraday() {
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", string(interval))
	} else {
		params.Set("function", "TIME_SERIES_DAILY")
	}
	v, err := c.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, params)
		if err != nil {
			return nil, err
		}
		h, err := ParseHistory(body, interval)
		if err != nil {
			return nil, err
		}
		c.history.Set(key, h)
		return h, nil
	})
	if err != nil {
		c.log.Warn("history unavailable", "op", "history", "symbol", sym, "interval", string(interval), "error", err)
		return empty
	}
	return v.([]provider.HistoryPoint)
}

// GetCompanyProfile returns fundamentals for symbol, or false when none are
// available.
func (c *Client) GetCompanyProfile(ctx context.Context, symbol string) (provider.CompanyProfile, bool) {
	sym := provider.Canonical(symbol)
	if sym == "" || c.apiKey == "" {
		return provider.CompanyProfile{}, false
	}
	key := "profile:" + sym
	if p, ok := c.profiles.Get(key); ok {
		return p, true
	}
	v, err := c.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, url.Values{"function": {"OVERVIEW"}, "symbol": {sym}})
		if err != nil {
			return nil, err
		}
		p, err := ParseProfile(body)
		if err != nil {
			return nil, err
		}
		c.profiles.Set(key, p)
		return p, nil
	})
	if err != nil {
		c.log.Warn("profile unavailable", "op", "profile", "symbol", sym, "error", err)
		return provider.CompanyProfile{}, false
	}
	return v.(provider.CompanyProfile), true
}

// SearchSymbols looks up symbols matching keyword. Unlike the other
// operations it returns every failure to the caller so the UI can explain an
// empty result.
func (c *Client) SearchSymbols(ctx context.Context, keyword string) ([]provider.SearchResult, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return []provider.SearchResult{}, nil
	}
	key := "search:" + kw
	if r, ok := c.search.Get(key); ok {
		return r, nil
	}
	v, err := c.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		body, err := c.get(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {kw}})
		if err != nil {
			return nil, err
		}
		r, err := ParseSearch(body)
		if err != nil {
			return nil, err
		}
		c.search.Set(key, r)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]provider.SearchResult), nil
}

// coalesce runs fn once per key among concurrent callers. A caller whose ctx
// ends stops waiting; the shared call keeps running for the others.
func (c *Client) coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.sf.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// get performs one GET against the query endpoint and returns the raw body.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	query := maps.Clone(c.query)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	u := fmt.Sprintf("%s?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
