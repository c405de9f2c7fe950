package main

import (
    "encoding/json"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/websocket"

    "watchboard/internal/provider"
    "watchboard/internal/provider/alphavantage"
    "watchboard/internal/refresh"
    "watchboard/internal/watchlist"
)

const (
    wsPingEvery    = 45 * time.Second
    wsReadDeadline = 90 * time.Second
    wsWriteTimeout = 10 * time.Second
)

var wsUpgrader = websocket.Upgrader{
    CheckOrigin:       func(*http.Request) bool { return true },
    EnableCompression: true,
}

// Outgoing messages.
type stateMsg struct {
    Type  string          `json:"type"` // "state"
    State watchlist.State `json:"state"`
}

type searchResultsMsg struct {
    Type    string                  `json:"type"` // "search_results"
    Keyword string                  `json:"keyword"`
    Results []provider.SearchResult `json:"results"`
}

type searchErrorMsg struct {
    Type    string `json:"type"` // "search_error"
    Keyword string `json:"keyword"`
    Error   string `json:"error"`
    Detail  string `json:"detail,omitempty"`
}

// inMsg is any message a browser sends.
type inMsg struct {
    Type    string `json:"type"` // "search" | "select"
    Keyword string `json:"keyword,omitempty"`
    Symbol  string `json:"symbol,omitempty"`
}

type client struct {
    c    *websocket.Conn
    out  chan any
    done chan struct{}
}

// send queues v without blocking; a client too slow to drain its queue
// misses messages rather than stalling the store.
func (cl *client) send(v any) {
    select {
    case cl.out <- v:
    default:
    }
}

type hub struct {
    mu      sync.RWMutex
    clients map[*client]struct{}
}

func newHub() *hub {
    return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) broadcast(v any) {
    h.mu.RLock()
    defer h.mu.RUnlock()
    for c := range h.clients {
        c.send(v)
    }
}

func (h *hub) add(c *client) {
    h.mu.Lock()
    h.clients[c] = struct{}{}
    h.mu.Unlock()
}

func (h *hub) remove(c *client) {
    h.mu.Lock()
    delete(h.clients, c)
    h.mu.Unlock()
}

func (h *hub) len() int {
    h.mu.RLock()
    defer h.mu.RUnlock()
    return len(h.clients)
}

// serveWS pushes the store state on connect and after every change, and
// answers debounced search requests.
func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
    conn, err := wsUpgrader.Upgrade(w, r, nil)
    if err != nil {
        s.log.Warn("websocket upgrade failed", "request_id", requestID(r.Context()), "error", err)
        return
    }
    defer conn.Close()
    cl := &client{c: conn, out: make(chan any, 256), done: make(chan struct{})}

    // writer
    go func() {
        ping := time.NewTicker(wsPingEvery)
        defer ping.Stop()
        for {
            select {
            case v := <-cl.out:
                _ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
                if err := conn.WriteJSON(v); err != nil {
                    s.log.Debug("websocket write failed", "error", err)
                }
            case <-ping.C:
                _ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
            case <-cl.done:
                return
            }
        }
    }()

    // join before reading the greeting state so no change falls between
    s.hub.add(cl)
    cl.send(stateMsg{Type: "state", State: s.store.State()})

    deb := refresh.NewDebouncer(s.ctx, s.opts.Debounce, s.client.SearchSymbols,
        func(kw string, results []provider.SearchResult, err error) {
            if err != nil {
                cl.send(searchErrorMsg{Type: "search_error", Keyword: kw, Error: alphavantage.Describe(err), Detail: err.Error()})
                return
            }
            cl.send(searchResultsMsg{Type: "search_results", Keyword: kw, Results: results})
        })

    // reader
    _ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
    conn.SetPongHandler(func(string) error {
        _ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
        return nil
    })
    for {
        mt, data, err := conn.ReadMessage()
        if err != nil { break }
        if mt != websocket.TextMessage { continue }
        var m inMsg
        if err := json.Unmarshal(data, &m); err != nil { continue }
        switch strings.ToLower(m.Type) {
        case "search":
            deb.Trigger(m.Keyword)
        case "select":
            s.store.Select(m.Symbol)
        }
    }
    deb.Stop()
    s.hub.remove(cl)
    close(cl.done)
}
