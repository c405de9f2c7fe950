package main

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/gorilla/mux"
    "github.com/rs/cors"

    "watchboard/internal/aggregate"
    "watchboard/internal/provider"
    "watchboard/internal/provider/alphavantage"
    "watchboard/internal/refresh"
    "watchboard/internal/watchlist"
)

// maxTickerSymbols caps /api/ticker.
const maxTickerSymbols = 50

// quoteClient is the part of the Alpha Vantage client the handlers use.
type quoteClient interface {
    GetQuote(ctx context.Context, symbol string) (provider.Quote, bool)
    GetHistory(ctx context.Context, symbol string, interval provider.Interval) []provider.HistoryPoint
    GetCompanyProfile(ctx context.Context, symbol string) (provider.CompanyProfile, bool)
    SearchSymbols(ctx context.Context, keyword string) ([]provider.SearchResult, error)
}

type serverOptions struct {
    Tickers        []string
    Interval       provider.Interval
    Debounce       time.Duration
    RequestTimeout time.Duration
}

type server struct {
    ctx       context.Context
    client    quoteClient
    store     *watchlist.Store
    refresher *refresh.Refresher
    hub       *hub
    opts      serverOptions
    log       *slog.Logger
    validate  *validator.Validate

    unsubscribe func()
}

// newServer wires the handlers. ctx parents background refreshes and the
// WebSocket searches; cancel it on shutdown.
func newServer(ctx context.Context, client quoteClient, store *watchlist.Store, r *refresh.Refresher, opts serverOptions, log *slog.Logger) *server {
    if log == nil { log = slog.Default() }
    if opts.Interval == "" { opts.Interval = provider.IntervalDaily }
    if opts.RequestTimeout <= 0 { opts.RequestTimeout = 10 * time.Second }
    s := &server{
        ctx:       ctx,
        client:    client,
        store:     store,
        refresher: r,
        hub:       newHub(),
        opts:      opts,
        log:       log,
        validate:  validator.New(validator.WithRequiredStructEnabled()),
    }
    s.unsubscribe = store.Subscribe(func(st watchlist.State) {
        s.hub.broadcast(stateMsg{Type: "state", State: st})
    })
    return s
}

func (s *server) close() { s.unsubscribe() }

func (s *server) routes() http.Handler {
    r := mux.NewRouter()
    r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    }).Methods(http.MethodGet)
    r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)

    api := r.PathPrefix("/api").Subrouter()
    api.HandleFunc("/watchlist", s.handleGetWatchlist).Methods(http.MethodGet)
    api.HandleFunc("/watchlist", s.handleAddSymbol).Methods(http.MethodPost)
    api.HandleFunc("/watchlist/{symbol}", s.handleRemoveSymbol).Methods(http.MethodDelete)
    api.HandleFunc("/watchlist/{symbol}/refresh", s.handleRefreshSymbol).Methods(http.MethodPost)
    api.HandleFunc("/selection", s.handleSelect).Methods(http.MethodPut)
    api.HandleFunc("/selection", s.handleClearSelection).Methods(http.MethodDelete)
    api.HandleFunc("/quote/{symbol}", s.handleQuote).Methods(http.MethodGet)
    api.HandleFunc("/history/{symbol}", s.handleHistory).Methods(http.MethodGet)
    api.HandleFunc("/profile/{symbol}", s.handleProfile).Methods(http.MethodGet)
    api.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)
    api.HandleFunc("/ticker", s.handleTicker).Methods(http.MethodGet)
    api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)

    r.Use(withRequestLog(s.log), recoverPanic(s.log), withGzip, limitBody)

    c := cors.New(cors.Options{
        AllowedOrigins: []string{"*"},
        AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
        AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
        ExposedHeaders: []string{"X-Request-ID"},
    })
    return c.Handler(r)
}

type errorResponse struct {
    Error     string `json:"error"`
    Detail    string `json:"detail,omitempty"`
    RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.Header().Set("Content-Type", "application/json; charset=utf-8")
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg, detail string) {
    writeJSON(w, status, errorResponse{Error: msg, Detail: detail, RequestID: requestID(r.Context())})
}

// decodeBody decodes a JSON body into v and validates it.
func (s *server) decodeBody(r *http.Request, v any) error {
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(v); err != nil {
        return errors.New("invalid JSON body")
    }
    if err := s.validate.Struct(v); err != nil {
        var verrs validator.ValidationErrors
        if errors.As(err, &verrs) && len(verrs) > 0 {
            return errors.New(strings.ToLower(verrs[0].Field()) + " failed " + verrs[0].Tag() + " validation")
        }
        return err
    }
    return nil
}

func symbolVar(r *http.Request) string {
    return provider.Canonical(mux.Vars(r)["symbol"])
}

func (s *server) upstreamCtx(r *http.Request) (context.Context, context.CancelFunc) {
    return context.WithTimeout(r.Context(), s.opts.RequestTimeout)
}

func (s *server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, s.store.State())
}

type addSymbolBody struct {
    Symbol string `json:"symbol" validate:"required,max=20,excludesall=/?#"`
    Name   string `json:"name" validate:"max=200"`
}

// handleAddSymbol tracks a symbol and fetches its data in the background.
func (s *server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
    var b addSymbolBody
    if err := s.decodeBody(r, &b); err != nil {
        writeError(w, r, http.StatusBadRequest, err.Error(), "")
        return
    }
    sym := provider.Canonical(b.Symbol)
    name := strings.TrimSpace(b.Name)
    if name == "" { name = sym }

    if !s.store.Add(sym, name) {
        e, _ := s.store.Lookup(sym)
        writeJSON(w, http.StatusOK, e)
        return
    }
    go func() {
        s.refresher.RefreshSymbol(s.ctx, sym)
        s.refresher.RefreshProfile(s.ctx, sym)
    }()
    e, _ := s.store.Lookup(sym)
    writeJSON(w, http.StatusCreated, e)
}

func (s *server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
    if !s.store.Remove(symbolVar(r)) {
        writeError(w, r, http.StatusNotFound, "symbol is not in the watchlist", "")
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

type refreshResponse struct {
    Result  refresh.Result  `json:"result"`
    Profile bool            `json:"profile"`
    Entry   watchlist.Entry `json:"entry"`
}

func (s *server) handleRefreshSymbol(w http.ResponseWriter, r *http.Request) {
    sym := symbolVar(r)
    if _, ok := s.store.Lookup(sym); !ok {
        writeError(w, r, http.StatusNotFound, "symbol is not in the watchlist", "")
        return
    }
    ctx, cancel := s.upstreamCtx(r)
    defer cancel()
    res := s.refresher.RefreshSymbol(ctx, sym)
    profile := s.refresher.RefreshProfile(ctx, sym)
    e, ok := s.store.Lookup(sym)
    if !ok {
        // removed while the refresh was running
        writeError(w, r, http.StatusNotFound, "symbol is not in the watchlist", "")
        return
    }
    writeJSON(w, http.StatusOK, refreshResponse{Result: res, Profile: profile, Entry: e})
}

type selectBody struct {
    Symbol string `json:"symbol" validate:"required,max=20"`
}

func (s *server) handleSelect(w http.ResponseWriter, r *http.Request) {
    var b selectBody
    if err := s.decodeBody(r, &b); err != nil {
        writeError(w, r, http.StatusBadRequest, err.Error(), "")
        return
    }
    s.store.Select(b.Symbol)
    writeJSON(w, http.StatusOK, s.store.State())
}

func (s *server) handleClearSelection(w http.ResponseWriter, r *http.Request) {
    s.store.Select("")
    w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := s.upstreamCtx(r)
    defer cancel()
    q, ok := s.client.GetQuote(ctx, symbolVar(r))
    if !ok {
        writeError(w, r, http.StatusNotFound, "no quote available", "")
        return
    }
    writeJSON(w, http.StatusOK, q)
}

type historyResponse struct {
    Symbol   string                  `json:"symbol"`
    Interval provider.Interval       `json:"interval"`
    Points   []provider.HistoryPoint `json:"points"`
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
    interval := s.opts.Interval
    if raw := r.URL.Query().Get("interval"); raw != "" {
        it, err := provider.ParseInterval(raw)
        if err != nil {
            writeError(w, r, http.StatusBadRequest, err.Error(), "")
            return
        }
        interval = it
    }
    ctx, cancel := s.upstreamCtx(r)
    defer cancel()
    sym := symbolVar(r)
    writeJSON(w, http.StatusOK, historyResponse{Symbol: sym, Interval: interval, Points: s.client.GetHistory(ctx, sym, interval)})
}

func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := s.upstreamCtx(r)
    defer cancel()
    p, ok := s.client.GetCompanyProfile(ctx, symbolVar(r))
    if !ok {
        writeError(w, r, http.StatusNotFound, "no company profile available", "")
        return
    }
    writeJSON(w, http.StatusOK, p)
}

type searchResponse struct {
    Keyword string                  `json:"keyword"`
    Results []provider.SearchResult `json:"results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
    kw := strings.TrimSpace(r.URL.Query().Get("q"))
    ctx, cancel := s.upstreamCtx(r)
    defer cancel()
    results, err := s.client.SearchSymbols(ctx, kw)
    if err != nil {
        s.log.Warn("search failed", "request_id", requestID(r.Context()), "keyword", kw, "error", err)
        writeError(w, r, http.StatusBadGateway, alphavantage.Describe(err), err.Error())
        return
    }
    writeJSON(w, http.StatusOK, searchResponse{Keyword: kw, Results: results})
}

type tickerResponse struct {
    Quotes []provider.Quote `json:"quotes"`
}

func (s *server) handleTicker(w http.ResponseWriter, r *http.Request) {
    symbols := s.opts.Tickers
    if q := r.URL.Query().Get("symbols"); strings.TrimSpace(q) != "" {
        symbols = splitCSV(q)
    }
    if len(symbols) > maxTickerSymbols {
        writeError(w, r, http.StatusBadRequest, "too many symbols (max "+strconv.Itoa(maxTickerSymbols)+")", "")
        return
    }
    writeJSON(w, http.StatusOK, tickerResponse{Quotes: s.refresher.FetchBatch(r.Context(), symbols)})
}

func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
    n := aggregate.DefaultTop
    if v := r.URL.Query().Get("n"); v != "" {
        x, err := strconv.Atoi(v)
        if err != nil || x <= 0 {
            writeError(w, r, http.StatusBadRequest, "n must be a positive integer", "")
            return
        }
        n = x
    }
    writeJSON(w, http.StatusOK, aggregate.Summarize(s.store.Entries(), n))
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
