package tp_sl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"positionguard/src/connectors"
	"positionguard/src/metrics"
	"positionguard/src/model"
)

var ErrPlacementExhausted = errors.New("trigger placement exhausted")

// PlacementState is the state of one protective-order placement.
type PlacementState int

const (
	StateAttempt PlacementState = iota
	StateAdjust
	StateExhausted
)

func (s PlacementState) String() string {
	switch s {
	case StateAttempt:
		return "ATTEMPT"
	case StateAdjust:
		return "ADJUST"
	default:
		return "EXHAUSTED"
	}
}

// NextCandidate moves a rejected trigger price further from the market.
// attempt starts at 1. TRIGGER_EQUALS_LAST_PRICE nudges by attempt ticks,
// TRIGGER_TOO_CLOSE widens by attempt*TooCloseWidenPct of lastPrice. Any
// other kind leaves base unchanged.
func NextCandidate(attempt int, base decimal.Decimal, kind connectors.ErrorKind, dir model.Direction, lastPrice decimal.Decimal, cfg Config) decimal.Decimal {
	if attempt < 1 {
		return base
	}
	n := decimal.NewFromInt(int64(attempt))

	var dist decimal.Decimal
	switch kind {
	case connectors.KindTriggerEqualsLastPrice:
		dist = cfg.tick().Mul(n)
	case connectors.KindTriggerTooClose:
		ref := lastPrice
		if !ref.IsPositive() {
			ref = base
		}
		dist = ref.Mul(decimal.NewFromFloat(cfg.TooCloseWidenPct)).Div(hundred).Mul(n)
		if dist.LessThan(cfg.tick()) {
			dist = cfg.tick()
		}
	default:
		return base
	}

	if dir == model.DirectionShort {
		return RoundToTick(dir, base.Add(dist), cfg.tick())
	}
	return RoundToTick(dir, base.Sub(dist), cfg.tick())
}

type placement struct {
	ticker    string
	dir       model.Direction
	quantity  int64
	class     model.SettlementClass
	stop      decimal.Decimal
	lastPrice decimal.Decimal
	reason    string

	// floor is the price of the trigger being replaced; zero on a first
	// placement. Adjusted candidates never loosen past it.
	floor decimal.Decimal
}

type placementResult struct {
	triggerID string
	price     decimal.Decimal
	attempts  int
}

// place runs ATTEMPT -> ADJUST -> ... -> EXHAUSTED. Price rejections are
// adjusted up to MaxAdjustAttempts times; rate limits and other failures
// are retried unchanged up to MaxPlaceRetries times with exponential backoff.
func (e *Engine) place(ctx context.Context, p placement) (placementResult, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryBackoff
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	log := e.log.WithFields(logrus.Fields{"ticker": p.ticker, "action": "place_trigger"})

	state := StateAttempt
	candidate := p.stop
	var adjustments, retries, attempts int
	var lastErr error
	for {
		switch state {
		case StateAttempt:
			attempts++
			id, err := e.submitTrigger(ctx, p, candidate)
			if err == nil {
				metrics.TriggerPlacements.WithLabelValues("placed").Inc()
				return placementResult{triggerID: id, price: candidate, attempts: attempts}, nil
			}
			lastErr = err

			kind := connectors.KindOf(err)
			entry := log.WithError(err).WithFields(logrus.Fields{
				"price": candidate.String(),
				"kind":  kind.String(),
			})
			switch kind {
			case connectors.KindTriggerEqualsLastPrice, connectors.KindTriggerTooClose:
				if adjustments >= e.cfg.MaxAdjustAttempts {
					state = StateExhausted
					continue
				}
				adjustments++
				next := NextCandidate(adjustments, p.stop, kind, p.dir, p.lastPrice, e.cfg)
				if p.floor.IsPositive() && IsImprovement(p.dir, p.floor, next) {
					if candidate.Equal(p.floor) {
						entry.Warn("Trigger rejected at the replaced level")
						state = StateExhausted
						continue
					}
					next = p.floor
				}
				entry.WithField("next", next.String()).Warn("Trigger rejected, adjusting price")
				candidate = next
				state = StateAdjust
			default:
				if retries >= e.cfg.MaxPlaceRetries || ctx.Err() != nil {
					state = StateExhausted
					continue
				}
				retries++
				wait := bo.NextBackOff()
				entry.WithField("retry_in", wait.String()).Warn("Trigger placement failed, retrying")
				metrics.TriggerPlacements.WithLabelValues("retried").Inc()
				if err := sleepCtx(ctx, wait); err != nil {
					lastErr = err
					state = StateExhausted
				}
			}

		case StateAdjust:
			metrics.TriggerPlacements.WithLabelValues("adjusted").Inc()
			// a widened stop that the market has already crossed would fill instantly
			if IsBreached(p.dir, p.lastPrice, candidate) {
				log.WithField("price", candidate.String()).Warn("Adjusted trigger is through the market")
				state = StateExhausted
				continue
			}
			state = StateAttempt

		case StateExhausted:
			metrics.TriggerPlacements.WithLabelValues("exhausted").Inc()
			return placementResult{price: candidate, attempts: attempts},
				fmt.Errorf("%s after %d attempts: %w: %v", p.ticker, attempts, ErrPlacementExhausted, lastErr)
		}
	}
}

func (e *Engine) submitTrigger(ctx context.Context, p placement, price decimal.Decimal) (string, error) {
	side := p.dir.ExitSide()
	px := price
	j := e.journal.Begin(ctx, model.Order{
		Ticker:   p.ticker,
		Side:     string(side),
		Kind:     model.OrderKindTrigger,
		Quantity: p.quantity,
		Price:    &px,
		Reason:   p.reason,
	})

	id, err := e.broker.PlaceTriggerOrder(ctx, model.TriggerOrderRequest{
		Ticker:       p.ticker,
		Side:         side,
		Quantity:     p.quantity,
		TriggerPrice: price,
		Settlement:   p.class,
		ClientTag:    j.ClientTag,
	})
	if err != nil {
		j.Finish(ctx, model.OrderStatusError, "", err)
		return "", err
	}
	j.Finish(ctx, model.OrderStatusPlaced, id, nil)
	return id, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 || d == backoff.Stop {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
