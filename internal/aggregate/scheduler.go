package aggregate

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// Start refreshes once, then schedules Refresh every interval until ctx is
// cancelled. A run that is still going when the next one is due is skipped.
// The returned func stops the schedule and waits for a running refresh.
func (e *Engine) Start(ctx context.Context) (stop func(), err error) {
	if err := e.Refresh(ctx); err != nil {
		e.logger.Warn(ctx, "initial aggregate refresh failed", "error", err)
	}

	cl := cronLogger{ctx: ctx, L: e.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	spec := fmt.Sprintf("@every %s", e.interval)
	if _, err := c.AddFunc(spec, func() {
		rctx, cancel := context.WithTimeout(ctx, e.interval*2)
		defer cancel()
		if err := e.Refresh(rctx); err != nil && ctx.Err() == nil {
			e.logger.Warn(ctx, "aggregate refresh failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule refresh %q: %w", spec, err)
	}
	c.Start()

	e.logger.Info(ctx, "aggregate refresh scheduled", "interval", e.interval.String())

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		<-c.Stop().Done()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopped)
			<-c.Stop().Done()
		})
	}, nil
}

// cronLogger adapts log.Logger to cron.Logger.
type cronLogger struct {
	ctx context.Context
	L   log.Logger
}

// Info drops cron's per-run chatter.
func (cronLogger) Info(string, ...any) {}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.L.Error(l.ctx, err, "cron: "+msg, keysAndValues...)
}
