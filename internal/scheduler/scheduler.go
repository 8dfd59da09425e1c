package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"hlfleet/internal/logger"
)

// TickFunc performs one unit of work. It may return a positive delay to
// override the loop interval before the next tick.
type TickFunc func(ctx context.Context) (time.Duration, error)

// Loop runs a task back to back with a delay between runs. A tick that errors
// or panics is logged and followed by ErrorBackoff instead of Interval; the
// loop itself only stops when its context is done.
type Loop struct {
	Name         string
	Interval     time.Duration
	ErrorBackoff time.Duration
	// OnTick, when set, observes every finished tick.
	OnTick func(name string, at time.Time, err error)

	ctx   context.Context
	nowFn func() time.Time
}

func NewLoop(ctx context.Context, name string, interval, errorBackoff time.Duration) *Loop {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Loop{
		Name:         name,
		Interval:     interval,
		ErrorBackoff: errorBackoff,
		ctx:          ctx,
		nowFn:        time.Now,
	}
}

// Start blocks until the loop's context is cancelled.
func (l *Loop) Start(task TickFunc) {
	if l == nil {
		return
	}
	prefix := "Loop"
	if l.Name != "" {
		prefix = prefix + "[" + l.Name + "]"
	}
	if task == nil {
		logger.Warnf("%s: task is nil, exit", prefix)
		return
	}
	if l.Interval <= 0 {
		logger.Warnf("%s: invalid interval=%s, exit", prefix, l.Interval)
		return
	}
	if l.ErrorBackoff <= 0 {
		l.ErrorBackoff = l.Interval
	}
	if l.ctx == nil {
		l.ctx = context.Background()
	}
	if l.nowFn == nil {
		l.nowFn = time.Now
	}
	logger.Infof("%s: started interval=%s error_backoff=%s", prefix, l.Interval, l.ErrorBackoff)

	for {
		if l.ctx.Err() != nil {
			logger.Infof("%s: ctx done, exit", prefix)
			return
		}
		next, err := l.runOnce(task)
		if l.OnTick != nil {
			l.OnTick(l.Name, l.nowFn(), err)
		}
		wait := l.Interval
		switch {
		case err != nil:
			if l.ctx.Err() == nil {
				logger.Errorf("%s: tick failed: %v", prefix, err)
			}
			wait = l.ErrorBackoff
		case next > 0:
			wait = next
		}
		timer := time.NewTimer(wait)
		select {
		case <-l.ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-timer.C:
		}
	}
}

func (l *Loop) runOnce(task TickFunc) (next time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task(l.ctx)
}
