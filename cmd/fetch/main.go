// Command fetch queries Alpha Vantage once through the same client the
// server uses and prints the normalized result as JSON.
//
//	fetch -op quote -symbols AAPL,MSFT
//	fetch -op history -symbols IBM -interval 5min
//	fetch -op profile -symbols IBM
//	fetch -op search -q tesco
package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"
    "strings"
    "time"

    "watchboard/internal/config"
    "watchboard/internal/httpx"
    "watchboard/internal/logging"
    "watchboard/internal/provider"
    "watchboard/internal/provider/alphavantage"
    "watchboard/internal/provider/ratelimit"
    "watchboard/internal/refresh"
)

func main() {
    var op string
    var symbolsCSV string
    var keyword string
    var interval string
    var timeout int
    var configPath string

    flag.StringVar(&op, "op", getenv("OP", "quote"), "quote | history | profile | search")
    flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL"), "comma-separated ticker symbols")
    flag.StringVar(&keyword, "q", getenv("KEYWORD", ""), "search keyword")
    flag.StringVar(&interval, "interval", getenv("HISTORY_INTERVAL", string(provider.IntervalDaily)), "history interval (1min, 5min, 15min, 30min, 60min, daily)")
    flag.IntVar(&timeout, "timeout", getenvInt("REQUEST_TIMEOUT_SEC", 15), "overall timeout seconds")
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.yaml (optional)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatalf("config: %v", err) }
    logger := logging.Setup(cfg.Logging.Level, "text")

    av := cfg.AlphaVantage
    if av.APIKey == "" && op != "search" {
        log.Fatal("no API key configured; set ALPHA_VANTAGE_API_KEY or alphavantage.api_key")
    }
    client := alphavantage.New(av.APIKey,
        alphavantage.WithBaseURL(av.BaseURL),
        alphavantage.WithHTTPClient(httpx.New(config.Seconds(cfg.Server.RequestTimeoutSec))),
        alphavantage.WithLogger(logger),
        alphavantage.WithLimiter(ratelimit.New(av.MaxRequestsPerMinute, av.Burst, config.Seconds(av.MinRequestIntervalSec))),
    )

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
    defer cancel()

    symbols := splitCSV(symbolsCSV)
    var out any
    switch strings.ToLower(op) {
    case "quote":
        r := refresh.New(client, nil, refresh.Config{
            CallTimeout:    config.Seconds(cfg.Refresh.CallTimeoutSec),
            MaxConcurrency: cfg.Refresh.MaxConcurrency,
        }, logger)
        quotes := r.FetchBatch(ctx, symbols)
        if len(quotes) == 0 { log.Fatal("no quotes received") }
        out = struct{ Quotes []provider.Quote `json:"quotes"` }{Quotes: quotes}
    case "history":
        it, err := provider.ParseInterval(interval)
        if err != nil { log.Fatal(err) }
        series := make(map[string][]provider.HistoryPoint, len(symbols))
        for _, s := range symbols {
            series[provider.Canonical(s)] = client.GetHistory(ctx, s, it)
        }
        out = series
    case "profile":
        profiles := make(map[string]*provider.CompanyProfile, len(symbols))
        for _, s := range symbols {
            if p, ok := client.GetCompanyProfile(ctx, s); ok {
                profiles[provider.Canonical(s)] = &p
            } else {
                profiles[provider.Canonical(s)] = nil
            }
        }
        out = profiles
    case "search":
        results, err := client.SearchSymbols(ctx, keyword)
        if err != nil { log.Fatalf("search: %s (%v)", alphavantage.Describe(err), err) }
        out = struct{ Results []provider.SearchResult `json:"results"` }{Results: results}
    default:
        log.Fatalf("unknown op %q", op)
    }

    b, _ := json.MarshalIndent(out, "", "  ")
    fmt.Println(string(b))
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

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        var x int
        _, _ = fmt.Sscanf(v, "%d", &x)
        if x != 0 { return x }
    }
    return def
}
