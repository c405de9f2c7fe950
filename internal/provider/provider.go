package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
)

// Quote is the normalized latest-price snapshot for one symbol.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name,omitempty"`
	Price            float64 `json:"price"`
	Change           float64 `json:"change"`
	ChangePercent    float64 `json:"changePercent"`
	Volume           float64 `json:"volume"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Open             float64 `json:"open"`
	PreviousClose    float64 `json:"previousClose"`
	LatestTradingDay string  `json:"latestTradingDay,omitempty"`
}

// HistoryPoint is one OHLCV bar. Date is either a calendar day
// ("2006-01-02") or an intraday timestamp ("2006-01-02 15:04:05").
type HistoryPoint struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// CompanyProfile holds fundamentals. Everything except Symbol depends on what
// the upstream has for the company and may be null.
type CompanyProfile struct {
	Symbol        string      `json:"symbol"`
	Name          null.String `json:"name"`
	Description   null.String `json:"description"`
	Sector        null.String `json:"sector"`
	Industry      null.String `json:"industry"`
	MarketCap     null.Float  `json:"marketCap"`
	PERatio       null.Float  `json:"peRatio"`
	DividendYield null.Float  `json:"dividendYield"`
	EPS           null.Float  `json:"eps"`
	Beta          null.Float  `json:"beta"`
	High52Week    null.Float  `json:"high52Week"`
	Low52Week     null.Float  `json:"low52Week"`
}

// SearchResult is one symbol-search match.
type SearchResult struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Type       string  `json:"type,omitempty"`
	Region     string  `json:"region,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	MatchScore float64 `json:"matchScore"`
}

// Interval is the bar size of a history series.
type Interval string

const (
	Interval1Min  Interval = "1min"
	Interval5Min  Interval = "5min"
	Interval15Min Interval = "15min"
	Interval30Min Interval = "30min"
	Interval60Min Interval = "60min"
	IntervalDaily Interval = "daily"
)

// Intervals lists every supported Interval, shortest first.
var Intervals = []Interval{Interval1Min, Interval5Min, Interval15Min, Interval30Min, Interval60Min, IntervalDaily}

// Intraday reports whether the interval is shorter than a day.
func (i Interval) Intraday() bool {
	return i != IntervalDaily
}

// ParseInterval accepts the canonical names plus a few common spellings
// ("1d", "day", "1m", "60m", "1h").
func ParseInterval(s string) (Interval, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "daily", "day", "1d", "d":
		return IntervalDaily, nil
	case "1h", "60m":
		return Interval60Min, nil
	}
	v = strings.TrimSuffix(v, "in")
	if !strings.HasSuffix(v, "m") {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	for _, it := range Intervals {
		if strings.TrimSuffix(string(it), "in") == v {
			return it, nil
		}
	}
	return "", fmt.Errorf("unknown interval %q", s)
}

// Canonical returns the symbol in the form used for every comparison.
func Canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// MaxHistoryPoints caps every history series.
const MaxHistoryPoints = 30

// HistoryLayouts are the date layouts an upstream series may use.
var HistoryLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04", "2006-01-02"}

// ParseHistoryDate parses a HistoryPoint date in any of HistoryLayouts.
func ParseHistoryDate(s string) (time.Time, error) {
	for _, layout := range HistoryLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
