package watchlist

import (
	"slices"
	"time"

	"watchboard/internal/provider"
)

// Entry is one tracked symbol plus everything fetched for it so far. Quote,
// History and Profile stay nil until the first successful merge.
type Entry struct {
	Symbol      string                   `json:"symbol"`
	Name        string                   `json:"name"`
	Quote       *provider.Quote          `json:"quote,omitempty"`
	History     []provider.HistoryPoint  `json:"history,omitempty"`
	Profile     *provider.CompanyProfile `json:"profile,omitempty"`
	LastUpdated time.Time                `json:"lastUpdated"`
}

func (e Entry) clone() Entry {
	if e.Quote != nil {
		q := *e.Quote
		e.Quote = &q
	}
	if e.Profile != nil {
		p := *e.Profile
		e.Profile = &p
	}
	e.History = slices.Clone(e.History)
	return e
}

// State is what subscribers observe. Selected is "" when nothing is selected
// and Error is "" when there is no error.
type State struct {
	Watchlist []Entry `json:"watchlist"`
	Selected  string  `json:"selected,omitempty"`
	Loading   bool    `json:"loading"`
	Error     string  `json:"error,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Watchlist = make([]Entry, len(s.Watchlist))
	for i, e := range s.Watchlist {
		out.Watchlist[i] = e.clone()
	}
	return out
}

func (s *State) index(symbol string) int {
	return slices.IndexFunc(s.Watchlist, func(e Entry) bool { return e.Symbol == symbol })
}

// persisted is the blob written to storage. Selection, loading and error are
// session-only and never saved.
type persisted struct {
	Watchlist []Entry `json:"watchlist"`
}
