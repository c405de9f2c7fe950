package alphavantage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"watchboard/internal/provider"
)

// errorEnvelope holds the two reserved failure fields every response may carry.
type errorEnvelope struct {
	ErrorMessage *string `json:"Error Message"`
	Note         *string `json:"Note"`
}

// checkUpstream returns an *UpstreamError when body carries a failure marker.
func checkUpstream(body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if env.ErrorMessage != nil {
		return &UpstreamError{Field: FieldErrorMessage, Message: *env.ErrorMessage}
	}
	if env.Note != nil {
		return &UpstreamError{Field: FieldNote, Message: *env.Note}
	}
	return nil
}

// {
//   "Global Quote": {
//     "01. symbol": "IBM",
//     "02. open": "168.3000",
//     "03. high": "169.6500",
//     "04. low": "167.6800",
//     "05. price": "169.1600",
//     "06. volume": "3341862",
//     "07. latest trading day": "2024-05-10",
//     "08. previous close": "167.1500",
//     "09. change": "2.0100",
//     "10. change percent": "1.2025%"
//   }
// }
type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
}

// ParseQuote normalizes a GLOBAL_QUOTE response.
func ParseQuote(body []byte) (provider.Quote, error) {
	if err := checkUpstream(body); err != nil {
		return provider.Quote{}, err
	}
	var res globalQuoteResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return provider.Quote{}, fmt.Errorf("decoding quote: %w", err)
	}
	if res.GlobalQuote == nil {
		return provider.Quote{}, &ParseError{Op: "quote", Field: "Global Quote"}
	}
	f := fields{op: "quote", m: res.GlobalQuote}
	q := provider.Quote{
		Symbol:           provider.Canonical(f.str("01. symbol")),
		Open:             f.num("02. open"),
		High:             f.num("03. high"),
		Low:              f.num("04. low"),
		Price:            f.num("05. price"),
		Volume:           f.num("06. volume"),
		LatestTradingDay: strings.TrimSpace(res.GlobalQuote["07. latest trading day"]),
		PreviousClose:    f.num("08. previous close"),
		Change:           f.num("09. change"),
		ChangePercent:    f.num("10. change percent"),
	}
	if f.err != nil {
		return provider.Quote{}, f.err
	}
	return q, nil
}

// seriesKey is the envelope name the upstream uses for a given interval.
func seriesKey(interval provider.Interval) string {
	if interval.Intraday() {
		return fmt.Sprintf("Time Series (%s)", interval)
	}
	return "Time Series (Daily)"
}

// ParseHistory normalizes a TIME_SERIES_* response into an ascending series
// holding at most provider.MaxHistoryPoints of the most recent bars.
func ParseHistory(body []byte, interval provider.Interval) ([]provider.HistoryPoint, error) {
	if err := checkUpstream(body); err != nil {
		return nil, err
	}
	var res map[string]json.RawMessage
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	key := seriesKey(interval)
	raw, ok := res[key]
	if !ok {
		return nil, &ParseError{Op: "history", Field: key}
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}

	type dated struct {
		at    time.Time
		point provider.HistoryPoint
	}
	points := make([]dated, 0, len(series))
	for date, bar := range series {
		at, err := provider.ParseHistoryDate(date)
		if err != nil {
			return nil, &ParseError{Op: "history", Field: "date", Value: date}
		}
		f := fields{op: "history " + date, m: bar}
		p := provider.HistoryPoint{
			Date:   date,
			Open:   f.num("1. open"),
			High:   f.num("2. high"),
			Low:    f.num("3. low"),
			Close:  f.num("4. close"),
			Volume: f.num("5. volume"),
		}
		if f.err != nil {
			return nil, f.err
		}
		points = append(points, dated{at: at, point: p})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	if len(points) > provider.MaxHistoryPoints {
		points = points[len(points)-provider.MaxHistoryPoints:]
	}

	out := make([]provider.HistoryPoint, len(points))
	for i, d := range points {
		out[i] = d.point
	}
	return out, nil
}

// ParseProfile normalizes an OVERVIEW response. A response without "Symbol"
// is treated like an upstream error.
func ParseProfile(body []byte) (provider.CompanyProfile, error) {
	if err := checkUpstream(body); err != nil {
		return provider.CompanyProfile{}, err
	}
	var res map[string]any
	if err := json.Unmarshal(body, &res); err != nil {
		return provider.CompanyProfile{}, fmt.Errorf("decoding profile: %w", err)
	}
	m := make(map[string]string, len(res))
	for k, v := range res {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	f := fields{op: "profile", m: m}
	symbol := provider.Canonical(f.str("Symbol"))
	if f.err != nil {
		return provider.CompanyProfile{}, f.err
	}
	p := provider.CompanyProfile{
		Symbol:        symbol,
		Name:          f.optStr("Name"),
		Description:   f.optStr("Description"),
		Sector:        f.optStr("Sector"),
		Industry:      f.optStr("Industry"),
		MarketCap:     f.optNum("MarketCapitalization"),
		PERatio:       f.optNum("PERatio"),
		DividendYield: f.optNum("DividendYield"),
		EPS:           f.optNum("EPS"),
		Beta:          f.optNum("Beta"),
		High52Week:    f.optNum("52WeekHigh"),
		Low52Week:     f.optNum("52WeekLow"),
	}
	if f.err != nil {
		return provider.CompanyProfile{}, f.err
	}
	return p, nil
}

// {
//   "bestMatches": [
//     {
//       "1. symbol": "TSCO.LON",
//       "2. name": "Tesco PLC",
//       "3. type": "Equity",
//       "4. region": "United Kingdom",
//       "8. currency": "GBX",
//       "9. matchScore": "0.7273"
//     }
//   ]
// }
type searchResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`
}

// ParseSearch normalizes a SYMBOL_SEARCH response, dropping matches that lack
// a symbol or a name.
func ParseSearch(body []byte) ([]provider.SearchResult, error) {
	if err := checkUpstream(body); err != nil {
		return nil, err
	}
	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decoding search: %w", err)
	}
	if res.BestMatches == nil {
		return nil, &ParseError{Op: "search", Field: "bestMatches"}
	}
	out := make([]provider.SearchResult, 0, len(res.BestMatches))
	for _, m := range res.BestMatches {
		symbol := strings.TrimSpace(m["1. symbol"])
		name := strings.TrimSpace(m["2. name"])
		if symbol == "" || name == "" {
			continue
		}
		f := fields{op: "search " + symbol, m: m}
		r := provider.SearchResult{
			Symbol:   symbol,
			Name:     name,
			Type:     strings.TrimSpace(m["3. type"]),
			Region:   strings.TrimSpace(m["4. region"]),
			Currency: strings.TrimSpace(m["8. currency"]),
		}
		if score := f.optNum("9. matchScore"); score.Valid {
			r.MatchScore = score.Float64
		}
		if f.err != nil {
			return nil, f.err
		}
		out = append(out, r)
	}
	return out, nil
}

// fields reads string-valued response fields and keeps the first error.
type fields struct {
	op  string
	m   map[string]string
	err error
}

func (f *fields) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func (f *fields) str(key string) string {
	v, ok := f.m[key]
	if !ok || strings.TrimSpace(v) == "" {
		f.fail(&ParseError{Op: f.op, Field: key})
		return ""
	}
	return strings.TrimSpace(v)
}

func (f *fields) num(key string) float64 {
	v := f.str(key)
	if v == "" {
		return 0
	}
	n, err := parseNumber(v)
	if err != nil {
		f.fail(&ParseError{Op: f.op, Field: key, Value: v})
		return 0
	}
	return n
}

func (f *fields) optStr(key string) null.String {
	v := strings.TrimSpace(f.m[key])
	if isNullValue(v) {
		return null.String{}
	}
	return null.StringFrom(v)
}

func (f *fields) optNum(key string) null.Float {
	v := strings.TrimSpace(f.m[key])
	if isNullValue(v) {
		return null.Float{}
	}
	n, err := parseNumber(v)
	if err != nil {
		f.fail(&ParseError{Op: f.op, Field: key, Value: v})
		return null.Float{}
	}
	return null.FloatFrom(n)
}

// isNullValue matches the placeholders the upstream uses for unknown values.
func isNullValue(v string) bool {
	switch v {
	case "", "None", "-", "N/A":
		return true
	}
	return false
}

func parseNumber(v string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "%"), 64)
}
