package aggregate

import (
    "math"
    "sort"

    "watchboard/internal/watchlist"
)

// DefaultTop is used when Summarize is asked for n <= 0.
const DefaultTop = 5

// Mover is one row of a ranking.
type Mover struct {
    Symbol        string  `json:"symbol"`
    Name          string  `json:"name"`
    Price         float64 `json:"price"`
    Change        float64 `json:"change"`
    ChangePercent float64 `json:"changePercent"`
    Volume        float64 `json:"volume"`
}

// Summary is the market overview of a watchlist.
type Summary struct {
    Tracked    int     `json:"tracked"`
    Quoted     int     `json:"quoted"`
    Advancing  int     `json:"advancing"`
    Declining  int     `json:"declining"`
    Unchanged  int     `json:"unchanged"`
    Gainers    []Mover `json:"gainers"`
    Losers     []Mover `json:"losers"`
    MostActive []Mover `json:"mostActive"`
}

// Summarize ranks the quoted entries.
// Rules:
// - entries without a quote, or whose change percent is NaN, are skipped
// - Gainers: change percent > 0, highest first
// - Losers: change percent < 0, lowest first
// - MostActive: every quoted entry, highest volume first
// - ties break on symbol so the output is stable
// - each list holds at most n rows
func Summarize(entries []watchlist.Entry, n int) Summary {
    if n <= 0 { n = DefaultTop }
    s := Summary{Tracked: len(entries)}

    movers := make([]Mover, 0, len(entries))
    for _, e := range entries {
        if e.Quote == nil { continue }
        q := e.Quote
        if math.IsNaN(q.ChangePercent) { continue }
        name := e.Name
        if name == "" { name = q.Name }
        movers = append(movers, Mover{
            Symbol:        e.Symbol,
            Name:          name,
            Price:         q.Price,
            Change:        q.Change,
            ChangePercent: q.ChangePercent,
            Volume:        q.Volume,
        })
    }
    s.Quoted = len(movers)

    var gainers, losers []Mover
    for _, m := range movers {
        switch {
        case m.ChangePercent > 0:
            s.Advancing++
            gainers = append(gainers, m)
        case m.ChangePercent < 0:
            s.Declining++
            losers = append(losers, m)
        default:
            s.Unchanged++
        }
    }

    sort.Slice(gainers, func(i, j int) bool {
        if gainers[i].ChangePercent != gainers[j].ChangePercent { return gainers[i].ChangePercent > gainers[j].ChangePercent }
        return gainers[i].Symbol < gainers[j].Symbol
    })
    sort.Slice(losers, func(i, j int) bool {
        if losers[i].ChangePercent != losers[j].ChangePercent { return losers[i].ChangePercent < losers[j].ChangePercent }
        return losers[i].Symbol < losers[j].Symbol
    })
    active := append([]Mover(nil), movers...)
    sort.Slice(active, func(i, j int) bool {
        if active[i].Volume != active[j].Volume { return active[i].Volume > active[j].Volume }
        return active[i].Symbol < active[j].Symbol
    })

    s.Gainers = top(gainers, n)
    s.Losers = top(losers, n)
    s.MostActive = top(active, n)
    return s
}

func top(ms []Mover, n int) []Mover {
    if len(ms) > n { ms = ms[:n] }
    if ms == nil { return []Mover{} }
    return ms
}
