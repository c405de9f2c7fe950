package main

import (
    "context"
    "errors"
    "flag"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "watchboard/internal/config"
    "watchboard/internal/httpx"
    "watchboard/internal/logging"
    "watchboard/internal/provider"
    "watchboard/internal/provider/alphavantage"
    "watchboard/internal/provider/ratelimit"
    "watchboard/internal/refresh"
    "watchboard/internal/storage"
    "watchboard/internal/watchlist"
)

func main() {
    var configPath string
    flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil {
        slog.Error("config", "error", err)
        os.Exit(1)
    }
    log := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    // Storage
    st, err := storage.Open(ctx, storage.Options{
        Driver:    cfg.Storage.Driver,
        Path:      cfg.Storage.Path,
        RedisAddr: cfg.Storage.RedisAddr,
    })
    if err != nil {
        log.Warn("storage unavailable; watchlist will not persist this session", "driver", cfg.Storage.Driver, "error", err)
        st = nil
    }
    var store *watchlist.Store
    if st != nil {
        defer st.Close()
        store = watchlist.New(st, watchlist.WithKey(cfg.Storage.Key), watchlist.WithLogger(log))
    } else {
        store = watchlist.New(nil, watchlist.WithLogger(log))
    }

    // Quote client
    av := cfg.AlphaVantage
    httpClient := httpx.New(config.Seconds(cfg.Server.RequestTimeoutSec))
    client := alphavantage.New(av.APIKey,
        alphavantage.WithBaseURL(av.BaseURL),
        alphavantage.WithHTTPClient(httpClient),
        alphavantage.WithLogger(log),
        alphavantage.WithLimiter(ratelimit.New(av.MaxRequestsPerMinute, av.Burst, config.Seconds(av.MinRequestIntervalSec))),
        alphavantage.WithTTLs(alphavantage.TTLs{
            Quote:   config.Seconds(av.Cache.QuoteTTLSec),
            History: config.Seconds(av.Cache.HistoryTTLSec),
            Profile: config.Seconds(av.Cache.ProfileTTLSec),
            Search:  config.Seconds(av.Cache.SearchTTLSec),
        }),
    )

    // Refresh
    interval, _ := provider.ParseInterval(cfg.Refresh.Interval)
    refresher := refresh.New(client, store, refresh.Config{
        Interval:       interval,
        CallTimeout:    config.Seconds(cfg.Refresh.CallTimeoutSec),
        MaxConcurrency: cfg.Refresh.MaxConcurrency,
    }, log)
    poller, err := refresh.NewPoller(ctx, refresher, cfg.Refresh.Schedule, log)
    if err != nil {
        log.Error("refresh schedule", "error", err)
        os.Exit(1)
    }
    if client.HasAPIKey() {
        go refresher.RefreshAll(ctx)
        poller.Start()
    }

    srv := newServer(ctx, client, store, refresher, serverOptions{
        Tickers:        cfg.Refresh.TickerSymbols,
        Interval:       interval,
        Debounce:       time.Duration(cfg.Refresh.SearchDebounceMS) * time.Millisecond,
        RequestTimeout: config.Seconds(cfg.Server.RequestTimeoutSec),
    }, log)
    defer srv.close()

    httpSrv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           srv.routes(),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Info("server listening", "addr", httpSrv.Addr, "storage", cfg.Storage.Driver, "watchlist", len(store.Symbols()))
        if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error("server", "error", err)
            stop()
        }
    }()

    // graceful shutdown
    <-ctx.Done()
    <-poller.Stop().Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = httpSrv.Shutdown(shutdownCtx)
    log.Info("server stopped")
}
