package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// Cycler runs one pipeline pass. *Orchestrator implements it.
type Cycler interface {
	RunOnce(ctx context.Context) (Stats, error)
}

// Marker records liveness for an external supervisor.
type Marker interface {
	Touch() error
}

// Runner repeats cycles until its context is cancelled.
type Runner struct {
	cycle     Cycler
	publisher Publisher
	interval  time.Duration
	marker    Marker
	logger    log.Logger
	hooks     Hooks

	sleep func(context.Context, time.Duration) error
}

// NewRunner creates a Runner that waits interval between cycles. marker may
// be nil.
func NewRunner(cycle Cycler, publisher Publisher, interval time.Duration, marker Marker, logger log.Logger, hooks Hooks) *Runner {
	if cycle == nil {
		panic(xerrors.New("cycler is required"))
	}
	if publisher == nil {
		panic(xerrors.New("publisher is required"))
	}
	return &Runner{
		cycle:     cycle,
		publisher: publisher,
		interval:  interval,
		marker:    marker,
		logger:    logger,
		hooks:     hooks,
		sleep:     sleepCtx,
	}
}

// Run loops RunOnce → sleep(interval). Cycle errors and panics count toward
// a consecutive failure streak; at AlertThreshold and above every further
// failure sends an operator alert. A successful cycle resets the streak and
// touches the liveness marker. Run returns nil once ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info(ctx, "starting worker", "interval", r.interval.String())

	failures := 0
	for {
		stats, err := r.runCycle(ctx)
		if ctx.Err() != nil {
			r.logger.Info(ctx, "worker stopping")
			return nil
		}

		if err != nil {
			failures++
			r.logger.Error(ctx, err, "worker cycle failed", "consecutive", failures, "cycle_id", stats.CycleID)
			if failures >= AlertThreshold {
				r.hooks.alert("cycle")
				r.publisher.SendAlert(ctx, fmt.Sprintf(
					"❌ Цикл воркера упал %d раз подряд.\nПоследняя ошибка: `%s`", failures, err,
				))
			}
		} else {
			failures = 0
			if r.marker != nil {
				if err := r.marker.Touch(); err != nil {
					r.logger.Warn(ctx, "liveness touch failed", "error", err)
				}
			}
		}

		if err := r.sleep(ctx, r.interval); err != nil {
			r.logger.Info(ctx, "worker stopping")
			return nil
		}
	}
}

// runCycle converts a panicking cycle into an error.
func (r *Runner) runCycle(ctx context.Context) (stats Stats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
			r.logger.Error(ctx, err, "recovered cycle panic", "stack", string(debug.Stack()))
		}
	}()
	return r.cycle.RunOnce(ctx)
}
