package refresh

import (
	"context"
	"strings"
	"sync"
	"time"

	"watchboard/internal/provider"
)

// DefaultDebounce is the quiet period before a search is issued.
const DefaultDebounce = 300 * time.Millisecond

// SearchFunc performs one search.
type SearchFunc func(ctx context.Context, keyword string) ([]provider.SearchResult, error)

// DeliverFunc receives the outcome of the latest search.
type DeliverFunc func(keyword string, results []provider.SearchResult, err error)

// Debouncer issues a search only after input has been quiet for the delay.
// Each Trigger cancels the pending search, so at most the latest keyword is
// delivered and results are never delivered out of order.
type Debouncer struct {
	ctx     context.Context
	delay   time.Duration
	search  SearchFunc
	deliver DeliverFunc

	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	cancel  context.CancelFunc
	stopped bool

	// held while delivering so a newer result cannot overtake an older one
	deliverMu sync.Mutex
}

func NewDebouncer(ctx context.Context, delay time.Duration, search SearchFunc, deliver DeliverFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{ctx: ctx, delay: delay, search: search, deliver: deliver}
}

// Trigger schedules a search for keyword. A blank keyword cancels whatever
// is pending and delivers an empty result immediately.
func (d *Debouncer) Trigger(keyword string) {
	kw := strings.TrimSpace(keyword)

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.resetLocked()
	d.gen++
	gen := d.gen
	if kw == "" {
		d.mu.Unlock()
		d.finish(gen, kw, []provider.SearchResult{}, nil)
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.cancel = cancel
	d.timer = time.AfterFunc(d.delay, func() {
		defer cancel()
		results, err := d.search(ctx, kw)
		if ctx.Err() != nil {
			return
		}
		d.finish(gen, kw, results, err)
	})
	d.mu.Unlock()
}

func (d *Debouncer) finish(gen uint64, kw string, results []provider.SearchResult, err error) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	current := gen == d.gen && !d.stopped
	d.mu.Unlock()
	if !current {
		return
	}
	d.deliver(kw, results, err)
}

func (d *Debouncer) resetLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Stop cancels any pending search. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.resetLocked()
}
