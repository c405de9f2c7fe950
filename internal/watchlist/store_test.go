package watchlist_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"watchboard/internal/provider"
	"watchboard/internal/storage"
	"watchboard/internal/watchlist"
)

var t0 = time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore(t *testing.T) (*watchlist.Store, *clock) {
	t.Helper()
	c := &clock{now: t0}
	return watchlist.New(nil, watchlist.WithClock(c.Now)), c
}

func TestAdd_IdempotentFirstNameWins(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)

	// Act
	first := s.Add("aapl", "Apple Inc")
	second := s.Add("AAPL", "Apple Renamed")

	// Assert
	require.True(t, first)
	require.False(t, second)
	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "AAPL", entries[0].Symbol)
	require.Equal(t, "Apple Inc", entries[0].Name)
	require.Nil(t, entries[0].Quote)
	require.Nil(t, entries[0].History)
	require.Nil(t, entries[0].Profile)
	require.Equal(t, t0, entries[0].LastUpdated)
}

func TestAdd_EmptySymbolIgnored(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	require.False(t, s.Add("  ", "Nothing"))
	require.Empty(t, s.Entries())
}

func TestAdd_PreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.Add("msft", "Microsoft")
	s.Add("aapl", "Apple")
	s.Add("goog", "Alphabet")

	require.Equal(t, []string{"MSFT", "AAPL", "GOOG"}, s.Symbols())
}

func TestLookup_Canonical(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)
	s.Add("Aapl", "Apple")

	// Act
	lower, okLower := s.Lookup("aapl")
	upper, okUpper := s.Lookup("AAPL")

	// Assert
	require.True(t, okLower)
	require.True(t, okUpper)
	require.Equal(t, lower, upper)

	_, ok := s.Lookup("MSFT")
	require.False(t, ok)
}

func TestRemove_ClearsMatchingSelection(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)
	s.Add("AAPL", "Apple")
	s.Add("MSFT", "Microsoft")
	s.Select("aapl")
	require.Equal(t, "AAPL", s.State().Selected)

	// Act
	removed := s.Remove("Aapl")

	// Assert
	require.True(t, removed)
	require.Empty(t, s.State().Selected)
	require.Equal(t, []string{"MSFT"}, s.Symbols())
}

func TestRemove_KeepsOtherSelection(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.Add("AAPL", "Apple")
	s.Add("MSFT", "Microsoft")
	s.Select("MSFT")

	s.Remove("AAPL")

	require.Equal(t, "MSFT", s.State().Selected)
}

func TestRemove_Unknown(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	require.False(t, s.Remove("NOPE"))
}

func TestMerge_UpdatesFieldsAndTimestamp(t *testing.T) {
	t.Parallel()

	// Arrange
	s, c := newStore(t)
	s.Add("IBM", "IBM")
	quote := provider.Quote{Symbol: "IBM", Price: 169.16, ChangePercent: 1.2}
	history := []provider.HistoryPoint{{Date: "2024-05-09", Close: 167.15}, {Date: "2024-05-10", Close: 169.16}}
	profile := provider.CompanyProfile{Symbol: "IBM"}

	// Act
	c.Advance(time.Minute)
	s.MergeQuote("ibm", quote)
	c.Advance(time.Minute)
	s.MergeHistory("ibm", history)
	c.Advance(time.Minute)
	s.MergeProfile("ibm", profile)

	// Assert
	e, ok := s.Lookup("IBM")
	require.True(t, ok)
	require.Equal(t, &quote, e.Quote)
	require.Equal(t, history, e.History)
	require.Equal(t, &profile, e.Profile)
	require.Equal(t, t0.Add(3*time.Minute), e.LastUpdated)
}

func TestMerge_UnknownSymbolIsNoop(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)
	s.Add("AAPL", "Apple")
	before := s.State()
	calls := 0
	s.Subscribe(func(watchlist.State) { calls++ })

	// Act
	s.MergeQuote("MSFT", provider.Quote{Symbol: "MSFT", Price: 1})
	s.MergeHistory("MSFT", []provider.HistoryPoint{{Date: "2024-01-01"}})
	s.MergeProfile("MSFT", provider.CompanyProfile{Symbol: "MSFT"})

	// Assert
	require.Equal(t, before, s.State())
	require.Zero(t, calls)
}

func TestMergeHistory_EmptySeriesIsRecorded(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.Add("AAPL", "Apple")

	s.MergeHistory("AAPL", nil)

	e, _ := s.Lookup("AAPL")
	require.NotNil(t, e.History)
	require.Empty(t, e.History)
}

func TestSelect_UntrackedAllowed(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.Select("tsla")
	require.Equal(t, "TSLA", s.State().Selected)

	s.Select("")
	require.Empty(t, s.State().Selected)
}

func TestFlags(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.SetLoading(true)
	s.SetError("Unable to fetch watchlist data")

	st := s.State()
	require.True(t, st.Loading)
	require.Equal(t, "Unable to fetch watchlist data", st.Error)

	s.SetLoading(false)
	s.SetError("")
	st = s.State()
	require.False(t, st.Loading)
	require.Empty(t, st.Error)
}

func TestSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)
	s.Add("AAPL", "Apple")
	s.MergeQuote("AAPL", provider.Quote{Symbol: "AAPL", Price: 1})

	// Act: mutate what the store handed out
	e, _ := s.Lookup("AAPL")
	e.Quote.Price = 999
	st := s.State()
	st.Watchlist[0].Name = "changed"

	// Assert
	again, _ := s.Lookup("AAPL")
	require.InDelta(t, 1.0, again.Quote.Price, 0)
	require.Equal(t, "Apple", again.Name)
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	t.Parallel()

	// Arrange
	s, _ := newStore(t)
	var got []string
	unsubA := s.Subscribe(func(st watchlist.State) { got = append(got, "a:"+st.Selected) })
	s.Subscribe(func(st watchlist.State) { got = append(got, "b:"+st.Selected) })

	// Act
	s.Select("AAPL")
	unsubA()
	unsubA()
	s.Select("MSFT")

	// Assert
	require.Equal(t, []string{"a:AAPL", "b:AAPL", "b:MSFT"}, got)
}

func TestSubscribe_ListenerCanReadStore(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	var symbols []string
	s.Subscribe(func(watchlist.State) { symbols = s.Symbols() })

	s.Add("AAPL", "Apple")

	require.Equal(t, []string{"AAPL"}, symbols)
}

func TestSubscribe_NoNotifyWithoutChange(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	s.Add("AAPL", "Apple")
	calls := 0
	s.Subscribe(func(watchlist.State) { calls++ })

	s.Add("AAPL", "Apple")
	s.Remove("MSFT")
	s.SetLoading(false)
	s.SetError("")
	s.Select("")

	require.Zero(t, calls)
}

func TestPersistence_SavesWatchlistOnly(t *testing.T) {
	t.Parallel()

	// Arrange: an empty slot
	ctrl := gomock.NewController(t)
	st := NewMockStorage(ctrl)
	st.EXPECT().Get(gomock.Any(), "custom-key").Return(nil, storage.ErrNotFound)

	var saved [][]byte
	st.EXPECT().
		Set(gomock.Any(), "custom-key", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, value []byte) error {
			saved = append(saved, value)
			return nil
		}).
		Times(3)

	s := watchlist.New(st, watchlist.WithKey("custom-key"), watchlist.WithClock(func() time.Time { return t0 }))

	// Act: three watchlist mutations and three session-only ones
	s.Add("aapl", "Apple")
	s.MergeQuote("AAPL", provider.Quote{Symbol: "AAPL", Price: 150.25})
	s.Select("AAPL")
	s.SetLoading(true)
	s.SetError("boom")
	s.Remove("AAPL")

	// Assert
	require.Len(t, saved, 3)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(saved[1], &doc))
	require.Len(t, doc, 1, "only the watchlist is persisted")
	require.JSONEq(t, `[{"symbol":"AAPL","name":"Apple","lastUpdated":"2025-03-04T14:30:00Z",
		"quote":{"symbol":"AAPL","price":150.25,"change":0,"changePercent":0,"volume":0,"high":0,"low":0,"open":0,"previousClose":0}}]`,
		string(doc["watchlist"]))
	require.JSONEq(t, `{"watchlist":[]}`, string(saved[2]))
}

func TestPersistence_Rehydrates(t *testing.T) {
	t.Parallel()

	// Arrange: a slot holding a saved watchlist with a duplicate and a blank
	ctrl := gomock.NewController(t)
	st := NewMockStorage(ctrl)
	st.EXPECT().
		Get(gomock.Any(), watchlist.DefaultKey).
		Return([]byte(`{"watchlist":[
			{"symbol":"msft","name":"Microsoft","lastUpdated":"2025-03-01T00:00:00Z"},
			{"symbol":"AAPL","name":"Apple","quote":{"symbol":"AAPL","price":150.25}},
			{"symbol":"MSFT","name":"Duplicate"},
			{"symbol":"","name":"Blank"}
		]}`), nil)

	// Act
	s := watchlist.New(st)

	// Assert
	require.Equal(t, []string{"MSFT", "AAPL"}, s.Symbols())
	e, ok := s.Lookup("msft")
	require.True(t, ok)
	require.Equal(t, "Microsoft", e.Name)
	aapl, _ := s.Lookup("AAPL")
	require.InDelta(t, 150.25, aapl.Quote.Price, 1e-9)
}

func TestPersistence_LoadFailureStartsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{name: "backend error", err: errors.New("connection refused")},
		{name: "corrupt blob", data: []byte("{not json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			st := NewMockStorage(ctrl)
			st.EXPECT().Get(gomock.Any(), gomock.Any()).Return(tt.data, tt.err)

			s := watchlist.New(st)
			require.Empty(t, s.Entries())
		})
	}
}

func TestPersistence_SaveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	st := NewMockStorage(ctrl)
	st.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, storage.ErrNotFound)
	st.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	s := watchlist.New(st)
	notified := false
	s.Subscribe(func(watchlist.State) { notified = true })

	// Act
	added := s.Add("AAPL", "Apple")

	// Assert: the in-memory state still changed
	require.True(t, added)
	require.True(t, notified)
	require.Equal(t, []string{"AAPL"}, s.Symbols())
}

func TestPersistence_RoundTripWithFileBackend(t *testing.T) {
	t.Parallel()

	// Arrange
	path := t.TempDir() + "/watchlist.json"
	first, err := storage.NewFile(path)
	require.NoError(t, err)
	s := watchlist.New(first, watchlist.WithClock(func() time.Time { return t0 }))
	s.Add("AAPL", "Apple")
	s.MergeHistory("AAPL", []provider.HistoryPoint{{Date: "2024-05-10", Close: 1}})

	// Act: a new process reading the same file
	second, err := storage.NewFile(path)
	require.NoError(t, err)
	restored := watchlist.New(second)

	// Assert
	require.Equal(t, s.Entries(), restored.Entries())
}

func TestConcurrentMutations(t *testing.T) {
	t.Parallel()

	// Arrange
	s := watchlist.New(storage.NewMemory())
	var mu sync.Mutex
	lengths := []int{}
	s.Subscribe(func(st watchlist.State) {
		mu.Lock()
		lengths = append(lengths, len(st.Watchlist))
		mu.Unlock()
	})

	// Act
	var wg sync.WaitGroup
	for _, sym := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(sym, sym)
			s.MergeQuote(sym, provider.Quote{Symbol: sym})
		}()
	}
	wg.Wait()

	// Assert: every add notified once with a growing list
	require.Len(t, s.Entries(), 8)
	adds := 0
	prev := 0
	for _, n := range lengths {
		require.GreaterOrEqual(t, n, prev)
		if n > prev {
			adds++
		}
		prev = n
	}
	require.Equal(t, 8, adds)
}
