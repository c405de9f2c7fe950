// Package watchlist holds the user's tracked symbols and the data fetched for
// them. The Store is the single source of truth: views read its State,
// fetchers merge into it, and subscribers are told about every change.
package watchlist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"watchboard/internal/provider"
	"watchboard/internal/storage"
)

// DefaultKey is the storage slot the watchlist is saved under.
const DefaultKey = "watchboard-storage"

const defaultStorageTimeout = 5 * time.Second

type listener struct {
	id int
	fn func(State)
}

// Store is safe for concurrent use. Mutations are applied one at a time and
// each one is persisted and announced to subscribers before the next starts,
// so listeners see states in mutation order.
type Store struct {
	storage storage.Storage
	key     string
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration

	// seq serializes mutate, save and notify.
	seq sync.Mutex

	mu        sync.Mutex
	state     State
	listeners []listener
	nextID    int
}

type Option func(*Store)

// WithKey overrides DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock replaces time.Now for LastUpdated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStorageTimeout bounds each load and save.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a store seeded from st. A nil st gives an in-memory store for
// the session. Load failures are logged and leave the watchlist empty.
func New(st storage.Storage, opts ...Option) *Store {
	s := &Store{
		storage: st,
		key:     DefaultKey,
		log:     slog.Default(),
		now:     time.Now,
		timeout: defaultStorageTimeout,
		state:   State{Watchlist: []Entry{}},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Watchlist = s.load()
	return s
}

func (s *Store) load() []Entry {
	if s.storage == nil {
		return []Entry{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	data, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []Entry{}
	}
	if err != nil {
		s.log.Warn("watchlist: load failed; starting empty", "key", s.key, "error", err)
		return []Entry{}
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Warn("watchlist: stored data is unreadable; starting empty", "key", s.key, "error", err)
		return []Entry{}
	}
	out := make([]Entry, 0, len(p.Watchlist))
	for _, e := range p.Watchlist {
		e.Symbol = provider.Canonical(e.Symbol)
		if e.Symbol == "" || slices.ContainsFunc(out, func(x Entry) bool { return x.Symbol == e.Symbol }) {
			continue
		}
		out = append(out, e)
	}
	s.log.Debug("watchlist: loaded", "key", s.key, "entries", len(out))
	return out
}

func (s *Store) save(entries []Entry) {
	if s.storage == nil {
		return
	}
	data, err := json.Marshal(persisted{Watchlist: entries})
	if err != nil {
		s.log.Warn("watchlist: encode failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.storage.Set(ctx, s.key, data); err != nil {
		s.log.Warn("watchlist: save failed", "key", s.key, "error", err)
	}
}

// update applies fn under the lock. When fn reports a change, the new state
// is saved (if persist) and handed to every listener after the lock is
// released.
func (s *Store) update(persist bool, fn func(st *State) bool) bool {
	s.seq.Lock()
	defer s.seq.Unlock()

	s.mu.Lock()
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	snap := s.state.clone()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if persist {
		s.save(snap.Watchlist)
	}
	for _, l := range listeners {
		l.fn(snap)
	}
	return true
}

// Subscribe registers fn to receive the state after every change, in
// subscription order. Listeners may read the store but must not mutate it
// from inside the callback, and must treat the State as read-only. The
// returned func unsubscribes and is safe to call more than once.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l listener) bool { return l.id == id })
			s.mu.Unlock()
		})
	}
}

// Add appends symbol unless it is already tracked; the first name wins.
// It reports whether an entry was added.
func (s *Store) Add(symbol, name string) bool {
	sym := provider.Canonical(symbol)
	if sym == "" {
		return false
	}
	return s.update(true, func(st *State) bool {
		if st.index(sym) >= 0 {
			return false
		}
		st.Watchlist = append(st.Watchlist, Entry{Symbol: sym, Name: name, LastUpdated: s.now()})
		return true
	})
}

// Remove deletes symbol and clears the selection if it pointed at it.
func (s *Store) Remove(symbol string) bool {
	sym := provider.Canonical(symbol)
	return s.update(true, func(st *State) bool {
		i := st.index(sym)
		if i < 0 {
			return false
		}
		st.Watchlist = slices.Delete(st.Watchlist, i, i+1)
		if st.Selected == sym {
			st.Selected = ""
		}
		return true
	})
}

// merge edits the entry for symbol. Untracked symbols are ignored: a fetch
// may finish after its symbol was removed.
func (s *Store) merge(symbol string, fn func(e *Entry)) {
	sym := provider.Canonical(symbol)
	s.update(true, func(st *State) bool {
		i := st.index(sym)
		if i < 0 {
			return false
		}
		fn(&st.Watchlist[i])
		st.Watchlist[i].LastUpdated = s.now()
		return true
	})
}

func (s *Store) MergeQuote(symbol string, q provider.Quote) {
	s.merge(symbol, func(e *Entry) { e.Quote = &q })
}

func (s *Store) MergeHistory(symbol string, series []provider.HistoryPoint) {
	series = slices.Clone(series)
	if series == nil {
		series = []provider.HistoryPoint{}
	}
	s.merge(symbol, func(e *Entry) { e.History = series })
}

func (s *Store) MergeProfile(symbol string, p provider.CompanyProfile) {
	s.merge(symbol, func(e *Entry) { e.Profile = &p })
}

// Select points the detail view at symbol, tracked or not. An empty symbol
// clears the selection.
func (s *Store) Select(symbol string) {
	sym := provider.Canonical(symbol)
	s.update(false, func(st *State) bool {
		if st.Selected == sym {
			return false
		}
		st.Selected = sym
		return true
	})
}

func (s *Store) SetLoading(loading bool) {
	s.update(false, func(st *State) bool {
		if st.Loading == loading {
			return false
		}
		st.Loading = loading
		return true
	})
}

// SetError sets the UI-facing error message; "" clears it.
func (s *Store) SetError(message string) {
	s.update(false, func(st *State) bool {
		if st.Error == message {
			return false
		}
		st.Error = message
		return true
	})
}

// Lookup returns a copy of the entry for symbol.
func (s *Store) Lookup(symbol string) (Entry, bool) {
	sym := provider.Canonical(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.state.index(sym)
	if i < 0 {
		return Entry{}, false
	}
	return s.state.Watchlist[i].clone(), true
}

// Entries returns a copy of the watchlist in insertion order.
func (s *Store) Entries() []Entry {
	return s.State().Watchlist
}

// Symbols returns the tracked symbols in insertion order.
func (s *Store) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.state.Watchlist))
	for i, e := range s.state.Watchlist {
		out[i] = e.Symbol
	}
	return out
}

// State returns a copy of the full state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}
