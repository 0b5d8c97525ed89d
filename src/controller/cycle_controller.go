package controller

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"positionguard/src/metrics"
	"positionguard/src/model"
	"positionguard/src/tp_sl"
)

type StopManager interface {
	Manage(ctx context.Context, ticker string) (tp_sl.Outcome, error)
}

type PositionLister interface {
	GetOpenPositions() []model.Position
}

// CycleResult summarises one management pass.
type CycleResult struct {
	Outcomes map[string]tp_sl.Outcome `json:"outcomes"`
	Failures map[string]string        `json:"failures,omitempty"`
	Duration time.Duration            `json:"duration"`
}

// CycleController runs one stop-loss pass per open position. A failure or
// panic on one ticker never stops the others.
type CycleController struct {
	log        *logrus.Entry
	positions  PositionLister
	engine     StopManager
	exceptions ExceptionStore
	cfg        Config
}

func NewCycleController(log *logrus.Entry, positions PositionLister, engine StopManager, exceptions ExceptionStore, cfg Config) *CycleController {
	return &CycleController{
		log:        log.WithField("component", "cycle"),
		positions:  positions,
		engine:     engine,
		exceptions: exceptions,
		cfg:        cfg,
	}
}

func (c *CycleController) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	res := CycleResult{Outcomes: map[string]tp_sl.Outcome{}, Failures: map[string]string{}}

	for _, p := range c.positions.GetOpenPositions() {
		if ctx.Err() != nil {
			c.log.WithError(ctx.Err()).Warn("Cycle interrupted")
			break
		}

		out, stack, err := c.manageOne(ctx, p.Ticker)
		res.Outcomes[p.Ticker] = out
		if err == nil {
			continue
		}

		stage := "manage"
		if stack != "" {
			stage = "panic"
		}
		res.Failures[p.Ticker] = err.Error()
		metrics.TickerFailures.WithLabelValues(stage).Inc()

		c.log.WithError(err).WithFields(logrus.Fields{
			"ticker": p.Ticker,
			"action": string(out),
			"stage":  stage,
		}).Error("Position management failed")

		Capture(ctx, c.exceptions, Exception{
			Service: c.cfg.ServiceName,
			Module:  "tp_sl",
			Method:  "Manage",
			Ticker:  p.Ticker,
			Level:   "error",
			Stack:   stack,
		}, err, map[string]interface{}{
			"outcome":   string(out),
			"direction": string(p.Direction),
			"quantity":  p.Quantity,
		})
	}

	res.Duration = time.Since(start)
	metrics.CycleDuration.Observe(res.Duration.Seconds())
	metrics.OpenPositions.Set(float64(len(c.positions.GetOpenPositions())))

	c.log.WithFields(logrus.Fields{
		"action":    "cycle",
		"positions": len(res.Outcomes),
		"failures":  len(res.Failures),
		"duration":  res.Duration.String(),
	}).Debug("Cycle finished")
	return res
}

func (c *CycleController) manageOne(ctx context.Context, ticker string) (out tp_sl.Outcome, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = tp_sl.OutcomeSkipped
			stack = string(debug.Stack())
			err = fmt.Errorf("panic managing %s: %v", ticker, r)
		}
	}()
	out, err = c.engine.Manage(ctx, ticker)
	return out, "", err
}
