// Package lifecycle opens and closes positions with market orders and
// records the fills in the trading state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"positionguard/src/connectors"
	"positionguard/src/journal"
	"positionguard/src/model"
)

var (
	ErrAlreadyTradedToday = errors.New("ticker already traded today in this direction")
	ErrPositionOpen       = errors.New("position already open")
	ErrNoOpenPosition     = errors.New("no open position")
	ErrDeliveryProtected  = errors.New("delivery position requires all types")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrFillPriceUnknown   = errors.New("fill price unknown")
)

type Broker interface {
	PlaceMarketOrder(ctx context.Context, req model.MarketOrderRequest) (model.OrderConfirmation, error)
	CancelTriggerOrder(ctx context.Context, triggerID string) error
}

type PriceService interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

type Store interface {
	GetPosition(ticker string) (model.Position, bool)
	AddPosition(ctx context.Context, entry model.PositionEntry) error
	RemovePosition(ctx context.Context, ticker string, exit *model.ExitDetails) (bool, error)
	IsTickerTradedToday(ticker string, dir model.Direction) bool
}

type Manager struct {
	log     *logrus.Entry
	store   Store
	broker  Broker
	prices  PriceService
	journal *journal.Recorder
}

func NewManager(log *logrus.Entry, store Store, broker Broker, prices PriceService, rec *journal.Recorder) *Manager {
	return &Manager{
		log:     log.WithField("component", "lifecycle"),
		store:   store,
		broker:  broker,
		prices:  prices,
		journal: rec,
	}
}

// Open enters a position at market. An opposite-direction position on the
// same ticker is purged first.
func (m *Manager) Open(ctx context.Context, ticker string, dir model.Direction, qty int64, class model.SettlementClass) (model.Position, error) {
	ticker = model.NormalizeTicker(ticker)
	if ticker == "" || !dir.Valid() || qty <= 0 {
		return model.Position{}, fmt.Errorf("%w: ticker=%q direction=%q qty=%d", ErrInvalidOrder, ticker, dir, qty)
	}
	log := m.log.WithFields(logrus.Fields{"ticker": ticker, "action": "open", "direction": dir})

	if m.store.IsTickerTradedToday(ticker, dir) {
		return model.Position{}, fmt.Errorf("%s %s: %w", ticker, dir, ErrAlreadyTradedToday)
	}

	if existing, ok := m.store.GetPosition(ticker); ok {
		switch {
		case existing.IsOpen() && existing.Direction == dir:
			return model.Position{}, fmt.Errorf("%s %s: %w", ticker, dir, ErrPositionOpen)
		case existing.Direction != dir:
			log.WithField("previous", existing.Direction).Warn("Purging opposite-direction position before entry")
			if existing.Trigger != nil {
				if err := m.cancelTrigger(ctx, existing, "purge"); err != nil {
					log.WithError(err).Warn("Could not cancel trigger of purged position")
				}
			}
			if _, err := m.store.RemovePosition(ctx, ticker, nil); err != nil {
				return model.Position{}, fmt.Errorf("purge %s: %w", ticker, err)
			}
		}
	}

	conf, err := m.submit(ctx, ticker, dir.EntrySide(), qty, class, "entry")
	if err != nil {
		return model.Position{}, fmt.Errorf("entry %s: %w", ticker, err)
	}

	price, err := m.fillPrice(ctx, ticker, conf)
	if err != nil {
		log.WithError(err).WithField("order_id", conf.OrderID).
			Error("Entry filled but no price is known; reconciliation will adopt it")
		return model.Position{}, err
	}

	if err := m.store.AddPosition(ctx, model.PositionEntry{
		Ticker:       ticker,
		Direction:    dir,
		Quantity:     qty,
		EntryPrice:   price,
		Settlement:   class,
		Confirmation: conf.OrderID,
	}); err != nil {
		return model.Position{}, fmt.Errorf("record entry %s: %w", ticker, err)
	}

	pos, _ := m.store.GetPosition(ticker)
	return pos, nil
}

// Close exits an open position at market and records the exit. Trigger
// orders are left to the caller.
func (m *Manager) Close(ctx context.Context, ticker, reason string) error {
	ticker = model.NormalizeTicker(ticker)
	pos, ok := m.store.GetPosition(ticker)
	if !ok || !pos.IsOpen() {
		return fmt.Errorf("%s: %w", ticker, ErrNoOpenPosition)
	}
	log := m.log.WithFields(logrus.Fields{"ticker": ticker, "action": "close", "reason": reason})

	conf, err := m.submit(ctx, ticker, pos.Direction.ExitSide(), pos.Quantity, pos.Settlement, reason)
	if errors.Is(err, connectors.ErrFillUnconfirmed) {
		// The exit order is live at the broker. Resubmitting could double
		// the exit, so the position is closed locally and reconciliation
		// re-adopts it if the broker still holds it.
		log.WithError(err).Error("Exit accepted but fill unconfirmed, closing locally at entry price")
		if _, err := m.store.RemovePosition(ctx, ticker, &model.ExitDetails{
			Price:  pos.EntryPrice,
			Reason: reason + " (fill unconfirmed)",
		}); err != nil {
			return fmt.Errorf("record exit %s: %w", ticker, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("exit %s: %w", ticker, err)
	}

	price, err := m.fillPrice(ctx, ticker, conf)
	if err != nil {
		log.WithError(err).Error("Exit filled at unknown price, recording entry price")
		price = pos.EntryPrice
	}

	if _, err := m.store.RemovePosition(ctx, ticker, &model.ExitDetails{
		Price:        price,
		Reason:       reason,
		Confirmation: conf.OrderID,
	}); err != nil {
		return fmt.Errorf("record exit %s: %w", ticker, err)
	}
	return nil
}

// Clean tears down a position after an error: its trigger is cancelled at
// the broker and the record is hard-deleted. Delivery positions are only
// cleaned when allTypes is set.
func (m *Manager) Clean(ctx context.Context, ticker string, allTypes bool) error {
	ticker = model.NormalizeTicker(ticker)
	pos, ok := m.store.GetPosition(ticker)
	if !ok {
		return nil
	}
	if pos.Settlement.CarriesOvernight() && !allTypes {
		return fmt.Errorf("%s: %w", ticker, ErrDeliveryProtected)
	}

	if pos.Trigger != nil {
		if err := m.cancelTrigger(ctx, pos, "clean"); err != nil {
			return fmt.Errorf("clean %s: cancel trigger %s: %w", ticker, pos.Trigger.TriggerID, err)
		}
	}
	if _, err := m.store.RemovePosition(ctx, ticker, nil); err != nil {
		return fmt.Errorf("clean %s: %w", ticker, err)
	}

	m.log.WithFields(logrus.Fields{"ticker": ticker, "action": "clean"}).Info("Position cleaned")
	return nil
}

func (m *Manager) submit(ctx context.Context, ticker string, side model.OrderSide, qty int64, class model.SettlementClass, reason string) (model.OrderConfirmation, error) {
	j := m.journal.Begin(ctx, model.Order{
		Ticker:   ticker,
		Side:     string(side),
		Kind:     model.OrderKindMarket,
		Quantity: qty,
		Reason:   reason,
	})

	conf, err := m.broker.PlaceMarketOrder(ctx, model.MarketOrderRequest{
		Ticker:     ticker,
		Side:       side,
		Quantity:   qty,
		Settlement: class,
		ClientTag:  j.ClientTag,
	})
	if err != nil {
		j.Finish(ctx, model.OrderStatusError, "", err)
		return model.OrderConfirmation{}, err
	}
	j.Finish(ctx, model.OrderStatusFilled, conf.OrderID, nil)

	m.log.WithFields(logrus.Fields{
		"ticker":   ticker,
		"action":   reason,
		"side":     side,
		"qty":      qty,
		"order_id": conf.OrderID,
		"price":    conf.AveragePrice.String(),
	}).Info("Market order filled")
	return conf, nil
}

// fillPrice prefers the broker's average fill price and falls back to the
// current quote.
func (m *Manager) fillPrice(ctx context.Context, ticker string, conf model.OrderConfirmation) (decimal.Decimal, error) {
	if conf.AveragePrice.IsPositive() {
		return conf.AveragePrice, nil
	}
	price, err := m.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %v: %w", ticker, err, ErrFillPriceUnknown)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", ticker, ErrFillPriceUnknown)
	}
	return price, nil
}

func (m *Manager) cancelTrigger(ctx context.Context, pos model.Position, reason string) error {
	b := pos.Trigger
	px := b.TriggerPrice
	j := m.journal.Begin(ctx, model.Order{
		BrokerOrderID: b.TriggerID,
		Ticker:        pos.Ticker,
		Side:          string(pos.Direction.ExitSide()),
		Kind:          model.OrderKindCancel,
		Quantity:      pos.Quantity,
		Price:         &px,
		Reason:        reason,
	})

	err := m.broker.CancelTriggerOrder(ctx, b.TriggerID)
	if err != nil && !errors.Is(err, connectors.ErrOrderNotFound) {
		j.Finish(ctx, model.OrderStatusError, b.TriggerID, err)
		return err
	}
	j.Finish(ctx, model.OrderStatusCanceled, b.TriggerID, nil)
	return nil
}
