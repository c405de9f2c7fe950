package config

import (
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"
    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"
)

type Server struct {
    Port              string `yaml:"port" validate:"required"`
    RequestTimeoutSec int    `yaml:"request_timeout_sec" validate:"gte=1"`
}

type Cache struct {
    QuoteTTLSec   int `yaml:"quote_ttl_sec" validate:"gte=0"`
    HistoryTTLSec int `yaml:"history_ttl_sec" validate:"gte=0"`
    ProfileTTLSec int `yaml:"profile_ttl_sec" validate:"gte=0"`
    SearchTTLSec  int `yaml:"search_ttl_sec" validate:"gte=0"`
}

type AlphaVantage struct {
    APIKey                string `yaml:"api_key"`
    BaseURL               string `yaml:"base_url" validate:"required,url"`
    MaxRequestsPerMinute  int    `yaml:"max_requests_per_minute" validate:"gte=0"`
    MinRequestIntervalSec int    `yaml:"min_request_interval_sec" validate:"gte=0"`
    Burst                 int    `yaml:"burst" validate:"gte=0"`
    Cache                 Cache  `yaml:"cache"`
}

type Storage struct {
    Driver    string `yaml:"driver" validate:"oneof=memory file sqlite redis"`
    Path      string `yaml:"path" validate:"required_if=Driver file,required_if=Driver sqlite"`
    RedisAddr string `yaml:"redis_addr" validate:"required_if=Driver redis"`
    Key       string `yaml:"key" validate:"required"`
}

type Refresh struct {
    Schedule         string   `yaml:"schedule" validate:"required"`
    CallTimeoutSec   int      `yaml:"call_timeout_sec" validate:"gte=0"`
    Interval         string   `yaml:"interval" validate:"oneof=1min 5min 15min 30min 60min daily"`
    MaxConcurrency   int      `yaml:"max_concurrency" validate:"gte=1"`
    TickerSymbols    []string `yaml:"ticker_symbols" validate:"dive,required"`
    SearchDebounceMS int      `yaml:"search_debounce_ms" validate:"gte=0"`
}

type Logging struct {
    Level  string `yaml:"level" validate:"oneof=debug info warn error"`
    Format string `yaml:"format" validate:"oneof=json text"`
}

type Config struct {
    Server       Server       `yaml:"server"`
    AlphaVantage AlphaVantage `yaml:"alphavantage"`
    Storage      Storage      `yaml:"storage"`
    Refresh      Refresh      `yaml:"refresh"`
    Logging      Logging      `yaml:"logging"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 10},
        AlphaVantage: AlphaVantage{
            BaseURL: "https://www.alphavantage.co/query",
            Burst:   1,
            Cache:   Cache{QuoteTTLSec: 60, HistoryTTLSec: 60, ProfileTTLSec: 60, SearchTTLSec: 60},
        },
        Storage: Storage{
            Driver:    "file",
            Path:      "data/watchlist.json",
            RedisAddr: "localhost:6379",
            Key:       "watchboard-storage",
        },
        Refresh: Refresh{
            Schedule:         "@every 60s",
            CallTimeoutSec:   10,
            Interval:         "daily",
            MaxConcurrency:   4,
            TickerSymbols:    []string{"SPY", "QQQ", "DIA", "AAPL", "MSFT"},
            SearchDebounceMS: 300,
        },
        Logging: Logging{Level: "info", Format: "json"},
    }
}

// Load reads YAML config from path. If path is empty or the file does not
// exist, it starts from defaults. A .env file in the working directory is
// loaded first; environment variables then override select fields.
func Load(path string) (Config, error) {
    _ = godotenv.Load(".env")

    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.yaml"); err == nil {
            path = "config.yaml"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := yaml.Unmarshal(b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    normalize(&cfg)
    if err := cfg.Validate(); err != nil {
        return cfg, err
    }
    return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
    err := validate.Struct(c)
    if err == nil { return nil }
    var verrs validator.ValidationErrors
    if !errors.As(err, &verrs) {
        return fmt.Errorf("validate config: %w", err)
    }
    msgs := make([]string, 0, len(verrs))
    for _, fe := range verrs {
        msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
    }
    return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func normalize(cfg *Config) {
    cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
    cfg.Refresh.Interval = strings.ToLower(strings.TrimSpace(cfg.Refresh.Interval))
    cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
    cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
    for i, s := range cfg.Refresh.TickerSymbols {
        cfg.Refresh.TickerSymbols[i] = strings.ToUpper(strings.TrimSpace(s))
    }
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }

    if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" { cfg.AlphaVantage.APIKey = v }
    if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" { cfg.AlphaVantage.APIKey = v }
    if v := os.Getenv("ALPHA_VANTAGE_BASE_URL"); v != "" { cfg.AlphaVantage.BaseURL = v }
    if v := os.Getenv("ALPHA_VANTAGE_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.AlphaVantage.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("ALPHA_VANTAGE_MIN_INTERVAL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.AlphaVantage.MinRequestIntervalSec = x }
    }
    if v := os.Getenv("ALPHA_VANTAGE_BURST"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.AlphaVantage.Burst = x }
    }
    if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
        var x int
        if _, err := fmt.Sscanf(v, "%d", &x); err == nil && x >= 0 {
            cfg.AlphaVantage.Cache = Cache{QuoteTTLSec: x, HistoryTTLSec: x, ProfileTTLSec: x, SearchTTLSec: x}
        }
    }

    if v := os.Getenv("STORAGE_DRIVER"); v != "" { cfg.Storage.Driver = v }
    if v := os.Getenv("STORAGE_PATH"); v != "" { cfg.Storage.Path = v }
    if v := os.Getenv("REDIS_ADDR"); v != "" { cfg.Storage.RedisAddr = v }
    if v := os.Getenv("STORAGE_KEY"); v != "" { cfg.Storage.Key = v }

    if v := os.Getenv("REFRESH_SCHEDULE"); v != "" { cfg.Refresh.Schedule = v }
    if v := os.Getenv("REFRESH_CALL_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Refresh.CallTimeoutSec = x }
    }
    if v := os.Getenv("REFRESH_INTERVAL"); v != "" { cfg.Refresh.Interval = v }
    if v := os.Getenv("REFRESH_MAX_CONCURRENCY"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Refresh.MaxConcurrency = x }
    }
    if v := os.Getenv("TICKER_SYMBOLS"); v != "" { cfg.Refresh.TickerSymbols = splitCSV(v) }
    if v := os.Getenv("SEARCH_DEBOUNCE_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Refresh.SearchDebounceMS = x }
    }

    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.Logging.Level = v }
    if v := os.Getenv("LOG_FORMAT"); v != "" { cfg.Logging.Format = v }
}

// Seconds converts a config value in seconds to a Duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
