package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule refetches the watchlist once a minute.
const DefaultSchedule = "@every 60s"

// Poller runs RefreshAll on a cron schedule. Overlapping ticks are skipped.
//
// Stop only halts scheduling: a refresh already running keeps going and its
// merges for symbols removed in the meantime are no-ops. Cancelling the ctx
// given to NewPoller aborts in-flight fetches as well.
type Poller struct {
	ctx       context.Context
	cron      *cron.Cron
	refresher *Refresher
	log       *slog.Logger
}

func NewPoller(ctx context.Context, r *Refresher, schedule string, log *slog.Logger) (*Poller, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	p := &Poller{
		ctx:       ctx,
		cron:      cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		refresher: r,
		log:       log,
	}
	if _, err := p.cron.AddFunc(schedule, p.tick); err != nil {
		return nil, fmt.Errorf("register refresh schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Poller) tick() {
	if p.ctx.Err() != nil {
		return
	}
	p.refresher.RefreshAll(p.ctx)
}

func (p *Poller) Start() {
	p.cron.Start()
	p.log.Info("refresh poller started")
}

// Stop halts scheduling. The returned context is done once any running
// refresh has finished.
func (p *Poller) Stop() context.Context {
	p.log.Info("refresh poller stopping")
	return p.cron.Stop()
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
