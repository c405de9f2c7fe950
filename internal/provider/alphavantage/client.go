package alphavantage

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
	"watchboard/internal/provider"
	"watchboard/internal/provider/cache"
	"watchboard/internal/provider/ratelimit"
)

// DefaultBaseURL is the single query endpoint every function goes through.
const DefaultBaseURL = "https://www.alphavantage.co/query"

// DefaultTTL is how long any cached response is served.
const DefaultTTL = 60 * time.Second

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alphavantage_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TTLs sets the cache lifetime per operation kind.
type TTLs struct {
	Quote   time.Duration
	History time.Duration
	Profile time.Duration
	Search  time.Duration
}

// DefaultTTLs uses DefaultTTL for every kind.
func DefaultTTLs() TTLs {
	return TTLs{Quote: DefaultTTL, History: DefaultTTL, Profile: DefaultTTL, Search: DefaultTTL}
}

// Client is a client for the Alpha Vantage query API. It owns its credential
// and a response cache per operation kind.
type Client struct {
	// baseURL is the query endpoint.
	baseURL string
	// apiKey is the credential; empty means every call short-circuits.
	apiKey string
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// limiter paces upstream calls when set.
	limiter ratelimit.Limiter
	log     *slog.Logger
	ttls    TTLs
	now     func() time.Time

	quotes   *cache.Cache[provider.Quote]
	history  *cache.Cache[[]provider.HistoryPoint]
	profiles *cache.Cache[provider.CompanyProfile]
	search   *cache.Cache[[]provider.SearchResult]

	// coalesces concurrent fetches of the same cache key
	sf singleflight.Group
}

// Option is a configuration option for the client.
type Option func(*Client)

// WithBaseURL sets the query endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithLogger sets the logger used for warnings.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLimiter paces upstream calls.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTTLs overrides the per-kind cache lifetimes.
func WithTTLs(ttls TTLs) Option {
	return func(c *Client) { c.ttls = ttls }
}

// WithClock replaces time.Now for the caches.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client. An empty key is allowed: search then fails with
// ErrMissingAPIKey and every other operation returns no data.
func New(key string, options ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     key,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
		log:        slog.Default(),
		ttls:       DefaultTTLs(),
		now:        time.Now,
	}
	if key != "" {
		c.query.Set("apikey", key)
	}
	for _, option := range options {
		option(c)
	}
	clock := cache.WithClock(c.now)
	c.quotes = cache.New[provider.Quote](c.ttls.Quote, clock)
	c.history = cache.New[[]provider.HistoryPoint](c.ttls.History, clock)
	c.profiles = cache.New[provider.CompanyProfile](c.ttls.Profile, clock)
	c.search = cache.New[[]provider.SearchResult](c.ttls.Search, clock)

	if key == "" {
		c.log.Warn("alphavantage: API key not set; search will fail and quotes, history and profiles will be empty")
	}
	return c
}

// HasAPIKey reports whether a credential was configured.
func (c *Client) HasAPIKey() bool { return c.apiKey != "" }
