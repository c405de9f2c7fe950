package config

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "config.yaml")
    require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
    return path
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
    // Act
    cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))

    // Assert
    require.NoError(t, err)
    want := Default()
    applyEnv(&want)
    normalize(&want)
    require.Equal(t, want, cfg)
}

func TestDefault_IsValid(t *testing.T) {
    require.NoError(t, Default().Validate())
    require.Equal(t, 60, Default().AlphaVantage.Cache.ProfileTTLSec)
}

func TestLoad_YAML(t *testing.T) {
    // Arrange
    path := writeFile(t, `
server:
  port: "9090"
alphavantage:
  api_key: from-file
  cache:
    profile_ttl_sec: 3600
storage:
  driver: SQLite
  path: /tmp/watchboard.db
refresh:
  interval: 5min
  ticker_symbols: [spy, " qqq "]
logging:
  format: text
`)
    t.Setenv("PORT", "")
    t.Setenv("ALPHA_VANTAGE_API_KEY", "")
    t.Setenv("ALPHAVANTAGE_API_KEY", "")
    t.Setenv("CACHE_TTL_SEC", "")
    t.Setenv("STORAGE_DRIVER", "")
    t.Setenv("STORAGE_PATH", "")
    t.Setenv("TICKER_SYMBOLS", "")
    t.Setenv("REFRESH_INTERVAL", "")
    t.Setenv("LOG_FORMAT", "")

    // Act
    cfg, err := Load(path)

    // Assert
    require.NoError(t, err)
    require.Equal(t, "9090", cfg.Server.Port)
    require.Equal(t, "from-file", cfg.AlphaVantage.APIKey)
    require.Equal(t, 3600, cfg.AlphaVantage.Cache.ProfileTTLSec)
    require.Equal(t, 60, cfg.AlphaVantage.Cache.QuoteTTLSec)
    require.Equal(t, "sqlite", cfg.Storage.Driver)
    require.Equal(t, "5min", cfg.Refresh.Interval)
    require.Equal(t, []string{"SPY", "QQQ"}, cfg.Refresh.TickerSymbols)
    require.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
    // Arrange
    path := writeFile(t, "alphavantage:\n  api_key: from-file\n")
    t.Setenv("ALPHAVANTAGE_API_KEY", "legacy")
    t.Setenv("ALPHA_VANTAGE_API_KEY", "from-env")
    t.Setenv("PORT", "7000")
    t.Setenv("CACHE_TTL_SEC", "15")
    t.Setenv("STORAGE_DRIVER", "memory")
    t.Setenv("TICKER_SYMBOLS", "aapl, msft ,")
    t.Setenv("REFRESH_MAX_CONCURRENCY", "8")
    t.Setenv("LOG_LEVEL", "DEBUG")

    // Act
    cfg, err := Load(path)

    // Assert
    require.NoError(t, err)
    require.Equal(t, "from-env", cfg.AlphaVantage.APIKey)
    require.Equal(t, "7000", cfg.Server.Port)
    require.Equal(t, Cache{QuoteTTLSec: 15, HistoryTTLSec: 15, ProfileTTLSec: 15, SearchTTLSec: 15}, cfg.AlphaVantage.Cache)
    require.Equal(t, "memory", cfg.Storage.Driver)
    require.Equal(t, []string{"AAPL", "MSFT"}, cfg.Refresh.TickerSymbols)
    require.Equal(t, 8, cfg.Refresh.MaxConcurrency)
    require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_BadYAML(t *testing.T) {
    path := writeFile(t, "server: [")

    _, err := Load(path)
    require.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
    tests := []struct {
        name    string
        mutate  func(*Config)
        wantErr string
    }{
        {name: "defaults"},
        {name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "etcd" }, wantErr: "Storage.Driver"},
        {name: "file without path", mutate: func(c *Config) { c.Storage.Path = "" }, wantErr: "Storage.Path"},
        {name: "memory without path", mutate: func(c *Config) { c.Storage.Driver = "memory"; c.Storage.Path = "" }},
        {name: "redis without addr", mutate: func(c *Config) { c.Storage.Driver = "redis"; c.Storage.RedisAddr = "" }, wantErr: "Storage.RedisAddr"},
        {name: "bad interval", mutate: func(c *Config) { c.Refresh.Interval = "2min" }, wantErr: "Refresh.Interval"},
        {name: "negative ttl", mutate: func(c *Config) { c.AlphaVantage.Cache.SearchTTLSec = -1 }, wantErr: "SearchTTLSec"},
        {name: "bad base url", mutate: func(c *Config) { c.AlphaVantage.BaseURL = "not a url" }, wantErr: "BaseURL"},
        {name: "zero concurrency", mutate: func(c *Config) { c.Refresh.MaxConcurrency = 0 }, wantErr: "MaxConcurrency"},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            cfg := Default()
            if tt.mutate != nil { tt.mutate(&cfg) }

            err := cfg.Validate()

            if tt.wantErr == "" {
                require.NoError(t, err)
                return
            }
            require.ErrorContains(t, err, tt.wantErr)
        })
    }
}
