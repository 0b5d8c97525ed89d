package connectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"positionguard/src/model"
)

// alpacaTrading is the subset of *alpaca.Client the adapter uses.
type alpacaTrading interface {
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	GetOrder(orderID string) (*alpaca.Order, error)
	CancelOrder(orderID string) error
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	GetPositions() ([]alpaca.Position, error)
}

// AlpacaBroker routes orders through Alpaca. Stop orders stand in for
// trigger orders.
type AlpacaBroker struct {
	api        alpacaTrading
	settlement model.SettlementClass
	cfg        Config
}

func NewAlpacaBroker(cfg Config) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
		BaseURL:   cfg.AlpacaBaseURL,
	})
	return newAlpacaBroker(client, cfg)
}

func newAlpacaBroker(api alpacaTrading, cfg Config) *AlpacaBroker {
	settlement := model.ParseSettlementClass(cfg.AlpacaSettlement)
	if settlement == model.SettlementUnknown {
		settlement = model.SettlementIntraday
	}
	return &AlpacaBroker{api: api, settlement: settlement, cfg: cfg}
}

func alpacaSide(side model.OrderSide) alpaca.Side {
	if side == model.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

// classifyAlpaca maps Alpaca API errors onto the connector sentinels.
func classifyAlpaca(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *alpaca.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", apiErr.Message, ErrRateLimited)
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", apiErr.Message, ErrOrderNotFound)
	case strings.Contains(msg, "stop price") && strings.Contains(msg, "equal"):
		return fmt.Errorf("%s: %w", apiErr.Message, ErrTriggerEqualsLastPrice)
	case strings.Contains(msg, "stop price"):
		return fmt.Errorf("%s: %w", apiErr.Message, ErrTriggerTooClose)
	case apiErr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(msg, "already"):
		return fmt.Errorf("%s: %w", apiErr.Message, ErrOrderNotFound)
	case apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", apiErr.Message, ErrOrderRejected)
	}
	return err
}

func (b *AlpacaBroker) PlaceMarketOrder(ctx context.Context, req model.MarketOrderRequest) (model.OrderConfirmation, error) {
	qty := decimal.NewFromInt(req.Quantity)
	order, err := b.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Ticker,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: req.ClientTag,
	})
	if err != nil {
		return model.OrderConfirmation{}, classifyAlpaca(err)
	}

	for attempt := 0; ; attempt++ {
		switch order.Status {
		case "filled":
			conf := model.OrderConfirmation{OrderID: order.ID}
			if order.FilledAvgPrice != nil {
				conf.AveragePrice = *order.FilledAvgPrice
			}
			return conf, nil
		case "rejected", "canceled", "expired":
			return model.OrderConfirmation{}, fmt.Errorf("order %s %s: %w", order.ID, order.Status, ErrOrderRejected)
		}
		if attempt >= b.cfg.FillPollAttempts {
			return model.OrderConfirmation{}, fmt.Errorf("order %s still %s: %w", order.ID, order.Status, ErrFillUnconfirmed)
		}

		select {
		case <-ctx.Done():
			return model.OrderConfirmation{}, ctx.Err()
		case <-time.After(b.cfg.FillPollInterval):
		}

		order, err = b.api.GetOrder(order.ID)
		if err != nil {
			return model.OrderConfirmation{}, classifyAlpaca(err)
		}
	}
}

func (b *AlpacaBroker) PlaceTriggerOrder(_ context.Context, req model.TriggerOrderRequest) (string, error) {
	qty := decimal.NewFromInt(req.Quantity)
	stop := req.TriggerPrice
	order, err := b.api.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        req.Ticker,
		Qty:           &qty,
		Side:          alpacaSide(req.Side),
		Type:          alpaca.Stop,
		TimeInForce:   alpaca.Day,
		StopPrice:     &stop,
		ClientOrderID: req.ClientTag,
	})
	if err != nil {
		return "", classifyAlpaca(err)
	}
	return order.ID, nil
}

func (b *AlpacaBroker) CancelTriggerOrder(_ context.Context, triggerID string) error {
	return classifyAlpaca(b.api.CancelOrder(triggerID))
}

func (b *AlpacaBroker) ListPositions(_ context.Context) ([]model.BrokerPosition, error) {
	positions, err := b.api.GetPositions()
	if err != nil {
		return nil, classifyAlpaca(err)
	}

	out := make([]model.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		qty := p.Qty.Abs().IntPart()
		if qty == 0 {
			continue
		}
		dir := model.DirectionLong
		if strings.EqualFold(p.Side, "short") || p.Qty.IsNegative() {
			dir = model.DirectionShort
		}
		out = append(out, model.BrokerPosition{
			Ticker:     model.NormalizeTicker(p.Symbol),
			Direction:  dir,
			Quantity:   qty,
			AvgPrice:   p.AvgEntryPrice,
			Settlement: b.settlement,
		})
	}
	return out, nil
}

func (b *AlpacaBroker) ListTriggerOrders(_ context.Context) ([]model.BrokerTriggerOrder, error) {
	orders, err := b.api.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		return nil, classifyAlpaca(err)
	}

	out := []model.BrokerTriggerOrder{}
	for _, o := range orders {
		if o.Type != alpaca.Stop || o.StopPrice == nil {
			continue
		}
		side := model.SideBuy
		if o.Side == alpaca.Sell {
			side = model.SideSell
		}
		var qty int64
		if o.Qty != nil {
			qty = o.Qty.IntPart()
		}
		out = append(out, model.BrokerTriggerOrder{
			Ticker:       model.NormalizeTicker(o.Symbol),
			TriggerID:    o.ID,
			TriggerPrice: *o.StopPrice,
			Side:         side,
			Quantity:     qty,
		})
	}
	return out, nil
}
