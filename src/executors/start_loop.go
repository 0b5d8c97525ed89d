package executors

import (
	"context"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionguard/src/controller"
	"positionguard/src/reconcile"
)

type StateStore interface {
	Load(ctx context.Context) error
	ResetForNewTradingDay(ctx context.Context, force bool) (bool, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

type Cycler interface {
	RunCycle(ctx context.Context) controller.CycleResult
}

type SessionCalendar interface {
	IsOpen(t time.Time) bool
}

type Deps struct {
	Store      StateStore
	Reconciler Reconciler
	Cycle      Cycler
	Calendar   SessionCalendar
	Now        func() time.Time
}

// newTicker is swapped in tests to drive the loop by hand.
var newTicker = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// StartLoop loads the trading state, reconciles once, then on every tick
// checks for a day rollover, reconciles when due and runs a management
// cycle while the session is open. It returns when ctx is done.
func StartLoop(ctx context.Context, deps Deps, config Config) error {
	if deps.Store == nil || deps.Reconciler == nil || deps.Cycle == nil || deps.Calendar == nil {
		return errors.New("executors: incomplete dependencies")
	}
	if config.LoopPeriod <= 0 {
		return fmt.Errorf("executors: invalid loop period %s", config.LoopPeriod)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	if err := deps.Store.Load(ctx); err != nil {
		return fmt.Errorf("load trading state: %w", err)
	}
	runReconcile(ctx, deps.Reconciler, "startup")

	ticks, stop := newTicker(config.LoopPeriod)
	defer stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			logger.Info("loop stopped")
			return nil

		case <-ticks:
			n++
			log := logger.WithField("tick", n)

			rolled, err := deps.Store.ResetForNewTradingDay(ctx, false)
			if err != nil {
				log.WithError(err).Error("Rollover check failed")
			}
			switch {
			case rolled:
				runReconcile(ctx, deps.Reconciler, "rollover")
			case config.ReconcileEvery > 0 && n%config.ReconcileEvery == 0:
				runReconcile(ctx, deps.Reconciler, "periodic")
			}

			if !deps.Calendar.IsOpen(now()) {
				log.Debug("session closed, skipping cycle")
				continue
			}
			deps.Cycle.RunCycle(ctx)
		}
	}
}

func runReconcile(ctx context.Context, r Reconciler, trigger string) {
	rep, err := r.Reconcile(ctx)
	entry := logger.WithFields(logger.Fields{
		"action":  "reconcile",
		"trigger": trigger,
		"changes": rep.Changes(),
	})
	if err != nil {
		entry.WithError(err).Error("Reconciliation failed")
		return
	}
	entry.Info("Reconciled with broker")
}
