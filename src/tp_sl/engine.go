// Package tp_sl computes protective stop levels and keeps exactly one
// broker-side trigger order per open position.
package tp_sl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"positionguard/src/connectors"
	"positionguard/src/journal"
	"positionguard/src/metrics"
	"positionguard/src/model"
)

type Outcome string

const (
	OutcomeSkipped          Outcome = "skipped"
	OutcomeTakeProfitExit   Outcome = "take_profit_exit"
	OutcomeStopBreachedExit Outcome = "stop_breached_exit"
	OutcomePlaced           Outcome = "placed"
	OutcomeReplaced         Outcome = "replaced"
	OutcomeReplaceAborted   Outcome = "replace_aborted"
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeFallbackExit     Outcome = "fallback_exit"
)

// Exit reasons recorded on the closed position.
const (
	ReasonTakeProfit        = "take_profit"
	ReasonStopBreached      = "stop_breached"
	ReasonPlacementFallback = "placement_fallback"
)

type PriceService interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
	PreviousCompletedCandle(ctx context.Context, ticker string, timeframe time.Duration) (*model.Candle, error)
	HistoricalCandles(ctx context.Context, ticker string, timeframe time.Duration, n int) ([]model.Candle, error)
}

type TriggerBroker interface {
	PlaceTriggerOrder(ctx context.Context, req model.TriggerOrderRequest) (string, error)
	CancelTriggerOrder(ctx context.Context, triggerID string) error
}

// Exiter closes a position at market and records the exit.
type Exiter interface {
	Close(ctx context.Context, ticker, reason string) error
}

type PositionStore interface {
	GetPosition(ticker string) (model.Position, bool)
	UpdateBestPrice(ctx context.Context, ticker string, price decimal.Decimal) (bool, error)
	AddTrigger(ctx context.Context, ticker string, binding model.TriggerBinding) (bool, error)
	RemoveTrigger(ctx context.Context, ticker string) (bool, error)
}

type Engine struct {
	log     *logrus.Entry
	store   PositionStore
	prices  PriceService
	broker  TriggerBroker
	exiter  Exiter
	journal *journal.Recorder
	cfg     Config
}

func NewEngine(
	log *logrus.Entry,
	store PositionStore,
	prices PriceService,
	broker TriggerBroker,
	exiter Exiter,
	rec *journal.Recorder,
	cfg Config,
) *Engine {
	return &Engine{
		log:     log.WithField("component", "stop_loss"),
		store:   store,
		prices:  prices,
		broker:  broker,
		exiter:  exiter,
		journal: rec,
		cfg:     cfg,
	}
}

// Manage runs one protective pass over a single position. When err is
// non-nil the outcome names the step that failed.
func (e *Engine) Manage(ctx context.Context, ticker string) (Outcome, error) {
	ticker = model.NormalizeTicker(ticker)
	out, err := e.manage(ctx, ticker)
	metrics.CycleOutcomes.WithLabelValues(string(out)).Inc()
	return out, err
}

func (e *Engine) manage(ctx context.Context, ticker string) (Outcome, error) {
	log := e.log.WithField("ticker", ticker)

	pos, ok := e.store.GetPosition(ticker)
	if !ok || !pos.IsOpen() {
		return OutcomeSkipped, nil
	}

	price, err := e.prices.CurrentPrice(ctx, ticker)
	if err != nil || !price.IsPositive() {
		log.WithError(err).WithField("action", "quote").Warn("Price unavailable, skipping position")
		return OutcomeSkipped, nil
	}

	ret := UnrealizedReturnPct(pos.Direction, pos.EntryPrice, price)
	if ret.GreaterThan(e.cfg.takeProfit()) {
		log.WithFields(logrus.Fields{
			"action": "take_profit",
			"price":  price.String(),
			"return": ret.StringFixed(2),
		}).Info("Take-profit target reached")
		return e.exit(ctx, pos, ReasonTakeProfit, OutcomeTakeProfitExit)
	}

	best, moved := BestPriceAfter(pos.Direction, pos.BestPrice, price)
	if moved {
		if _, err := e.store.UpdateBestPrice(ctx, ticker, best); err != nil {
			return OutcomeSkipped, fmt.Errorf("update best price %s: %w", ticker, err)
		}
	}

	stop, ok := e.candidateStop(ctx, log, pos, price, best)
	if !ok {
		return OutcomeSkipped, nil
	}

	if IsBreached(pos.Direction, price, stop) {
		log.WithFields(logrus.Fields{
			"action": "stop_breached",
			"price":  price.String(),
			"stop":   stop.String(),
		}).Warn("Price already through stop, exiting at market")
		return e.exit(ctx, pos, ReasonStopBreached, OutcomeStopBreachedExit)
	}

	if pos.Trigger == nil {
		return e.protect(ctx, pos, stop, price, OutcomePlaced)
	}

	if !IsImprovement(pos.Direction, stop, pos.Trigger.TriggerPrice) {
		return OutcomeUnchanged, nil
	}

	old := *pos.Trigger
	if err := e.cancelTrigger(ctx, pos, old, "replace"); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"action":     "replace",
			"trigger_id": old.TriggerID,
		}).Warn("Cancel failed, keeping existing trigger")
		return OutcomeReplaceAborted, fmt.Errorf("cancel trigger %s for %s: %w", old.TriggerID, ticker, err)
	}
	log.WithFields(logrus.Fields{
		"action":     "replace",
		"trigger_id": old.TriggerID,
		"from":       old.TriggerPrice.String(),
		"to":         stop.String(),
	}).Info("Existing trigger cancelled for a tighter stop")
	return e.protect(ctx, pos, stop, price, OutcomeReplaced)
}

// candidateStop is the structural stop (previous candle, or ATR fallback)
// combined with the trailing mark and snapped to the tick grid.
func (e *Engine) candidateStop(ctx context.Context, log *logrus.Entry, pos model.Position, price, best decimal.Decimal) (decimal.Decimal, bool) {
	var stop decimal.Decimal

	candle, err := e.prices.PreviousCompletedCandle(ctx, pos.Ticker, e.cfg.StopTimeframe)
	if err == nil && candle != nil {
		stop = CandidateFromCandle(pos.Direction, *candle)
	} else {
		if err != nil {
			log.WithError(err).Warn("Previous candle unavailable, falling back to ATR")
		}
		candles, err := e.prices.HistoricalCandles(ctx, pos.Ticker, e.cfg.StopTimeframe, e.cfg.ATRPeriod+1)
		if err != nil {
			log.WithError(err).Warn("Candles unavailable, skipping position")
			return decimal.Zero, false
		}
		atr, ok := ATR(candles, e.cfg.ATRPeriod)
		if !ok {
			log.WithField("candles", len(candles)).Warn("Not enough candles for ATR, skipping position")
			return decimal.Zero, false
		}
		stop = VolatilityStop(pos.Direction, price, atr, e.cfg.atrMultiplier())
	}

	if floor, ok := TrailingFloor(pos.Direction, pos.EntryPrice, best, e.cfg.trailingMargin()); ok {
		stop = CombineStops(pos.Direction, stop, floor)
	}
	stop = RoundToTick(pos.Direction, stop, e.cfg.tick())
	if !stop.IsPositive() {
		log.WithField("stop", stop.String()).Warn("Computed stop is not positive, skipping position")
		return decimal.Zero, false
	}
	return stop, true
}

// protect places a trigger at stop and binds it. A binding still present on
// pos refers to an order that has already been cancelled; its price bounds
// any price adjustment, and it is overwritten on success and dropped before
// the fallback exit otherwise.
func (e *Engine) protect(ctx context.Context, pos model.Position, stop, price decimal.Decimal, success Outcome) (Outcome, error) {
	log := e.log.WithField("ticker", pos.Ticker)

	p := placement{
		ticker:    pos.Ticker,
		dir:       pos.Direction,
		quantity:  pos.Quantity,
		class:     pos.Settlement,
		stop:      stop,
		lastPrice: price,
		reason:    string(success),
	}
	if pos.Trigger != nil {
		p.floor = pos.Trigger.TriggerPrice
	}
	res, err := e.place(ctx, p)
	if err != nil {
		log.WithError(err).WithField("action", "fallback_exit").Error("Protective trigger could not be placed, exiting at market")
		if pos.Trigger != nil {
			if _, rerr := e.store.RemoveTrigger(ctx, pos.Ticker); rerr != nil {
				log.WithError(rerr).Warn("Could not drop stale binding")
			}
			pos.Trigger = nil
		}
		out, xerr := e.exit(ctx, pos, ReasonPlacementFallback, OutcomeFallbackExit)
		if xerr != nil {
			return out, errors.Join(err, xerr)
		}
		return out, nil
	}

	binding := model.TriggerBinding{
		TriggerID:          res.triggerID,
		TriggerPrice:       res.price,
		ProtectedDirection: pos.Direction,
	}
	bound, err := e.store.AddTrigger(ctx, pos.Ticker, binding)
	if err != nil {
		return success, fmt.Errorf("bind trigger %s for %s: %w", res.triggerID, pos.Ticker, err)
	}
	if !bound {
		log.WithField("trigger_id", res.triggerID).Warn("Position closed while placing trigger, leaving it to reconciliation")
		return success, nil
	}

	log.WithFields(logrus.Fields{
		"action":     string(success),
		"trigger_id": res.triggerID,
		"price":      res.price.String(),
		"attempts":   res.attempts,
	}).Info("Protective trigger in place")
	return success, nil
}

// exit cancels and unbinds the trigger, then closes the position at
// market. The exit goes ahead when the cancel fails; reconciliation cancels
// the leftover order once the position is closed.
func (e *Engine) exit(ctx context.Context, pos model.Position, reason string, outcome Outcome) (Outcome, error) {
	if pos.Trigger != nil {
		log := e.log.WithFields(logrus.Fields{"ticker": pos.Ticker, "trigger_id": pos.Trigger.TriggerID})
		if err := e.cancelTrigger(ctx, pos, *pos.Trigger, reason); err != nil {
			log.WithError(err).Warn("Could not cancel trigger before exit")
		} else if _, err := e.store.RemoveTrigger(ctx, pos.Ticker); err != nil {
			log.WithError(err).Warn("Could not unbind cancelled trigger")
		}
	}

	if err := e.exiter.Close(ctx, pos.Ticker, reason); err != nil {
		return outcome, fmt.Errorf("exit %s (%s): %w", pos.Ticker, reason, err)
	}
	metrics.Exits.WithLabelValues(reason, string(pos.Direction)).Inc()
	return outcome, nil
}

// cancelTrigger treats an order the broker no longer knows as cancelled.
func (e *Engine) cancelTrigger(ctx context.Context, pos model.Position, b model.TriggerBinding, reason string) error {
	px := b.TriggerPrice
	j := e.journal.Begin(ctx, model.Order{
		BrokerOrderID: b.TriggerID,
		Ticker:        pos.Ticker,
		Side:          string(pos.Direction.ExitSide()),
		Kind:          model.OrderKindCancel,
		Quantity:      pos.Quantity,
		Price:         &px,
		Reason:        reason,
	})

	err := e.broker.CancelTriggerOrder(ctx, b.TriggerID)
	if err != nil && !errors.Is(err, connectors.ErrOrderNotFound) {
		j.Finish(ctx, model.OrderStatusError, b.TriggerID, err)
		return err
	}
	j.Finish(ctx, model.OrderStatusCanceled, b.TriggerID, nil)
	return nil
}
