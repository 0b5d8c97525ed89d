// REST client for the order-routing API. Resty with internal retry on
// transport errors, 5xx, 408 and 429; every request is HMAC signed.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionguard/src/model"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second

	orderStatusComplete  = "COMPLETE"
	orderStatusRejected  = "REJECTED"
	orderStatusCancelled = "CANCELLED"
)

type apiResponse struct {
	Status    string          `json:"status"`
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

type orderData struct {
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	AveragePrice decimal.Decimal `json:"average_price"`
	StatusReason string          `json:"status_message"`
}

type positionData struct {
	Ticker       string          `json:"ticker"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Product      string          `json:"product"`
}

type triggerData struct {
	OrderID      string          `json:"order_id"`
	Ticker       string          `json:"ticker"`
	Side         string          `json:"side"`
	Quantity     int64           `json:"quantity"`
	TriggerPrice decimal.Decimal `json:"trigger_price"`
}

type BrokerClient struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	cfg       Config
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()
	if code >= 500 && code <= 599 {
		return true
	}
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

func NewBrokerClient(cfg Config) *BrokerClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8081"
		logger.Warnf("No broker base URL provided, using default: %s", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &BrokerClient{
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		http:      httpClient,
		cfg:       cfg,
	}
}

func signRequest(method, path, body string, expiry int64, secret string) string {
	base := method + path + fmt.Sprintf("%d", expiry) + body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *BrokerClient) do(ctx context.Context, method, path string, query map[string]string, body interface{}) (*apiResponse, error) {
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	expiry := time.Now().Add(time.Minute).Unix()
	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Api-Key", c.apiKey).
		SetHeader("X-Api-Expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("X-Api-Signature", signRequest(method, path, string(raw), expiry, c.apiSecret))
	if len(query) > 0 {
		req = req.SetQueryParams(query)
	}
	if raw != nil {
		req = req.SetBody(raw).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}

	var parsed apiResponse
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil && resp.IsSuccess() {
			return nil, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}

	if !resp.IsSuccess() || strings.EqualFold(parsed.Status, "error") {
		msg := parsed.Message
		if msg == "" {
			msg = string(resp.Body())
		}
		return nil, &BrokerError{Status: resp.StatusCode(), Code: parsed.ErrorType, Message: msg}
	}
	return &parsed, nil
}

func productFor(class model.SettlementClass) string {
	if class == model.SettlementDelivery {
		return "DELIVERY"
	}
	return "INTRADAY"
}

// PlaceMarketOrder submits a market order and waits for the fill.
func (c *BrokerClient) PlaceMarketOrder(ctx context.Context, req model.MarketOrderRequest) (model.OrderConfirmation, error) {
	resp, err := c.do(ctx, http.MethodPost, "/orders/market", nil, map[string]interface{}{
		"ticker":   req.Ticker,
		"side":     string(req.Side),
		"quantity": req.Quantity,
		"product":  productFor(req.Settlement),
		"tag":      req.ClientTag,
	})
	if err != nil {
		return model.OrderConfirmation{}, err
	}

	var od orderData
	if err := json.Unmarshal(resp.Data, &od); err != nil {
		return model.OrderConfirmation{}, fmt.Errorf("decode market order: %w", err)
	}
	return c.awaitFill(ctx, od)
}

func (c *BrokerClient) awaitFill(ctx context.Context, od orderData) (model.OrderConfirmation, error) {
	for attempt := 0; ; attempt++ {
		switch strings.ToUpper(od.Status) {
		case orderStatusComplete:
			return model.OrderConfirmation{OrderID: od.OrderID, AveragePrice: od.AveragePrice}, nil
		case orderStatusRejected, orderStatusCancelled:
			return model.OrderConfirmation{}, fmt.Errorf("order %s %s: %s: %w", od.OrderID, od.Status, od.StatusReason, ErrOrderRejected)
		}
		if attempt >= c.cfg.FillPollAttempts {
			return model.OrderConfirmation{}, fmt.Errorf("order %s still %s: %w", od.OrderID, od.Status, ErrFillUnconfirmed)
		}

		select {
		case <-ctx.Done():
			return model.OrderConfirmation{}, ctx.Err()
		case <-time.After(c.cfg.FillPollInterval):
		}

		resp, err := c.do(ctx, http.MethodGet, "/orders/"+od.OrderID, nil, nil)
		if err != nil {
			return model.OrderConfirmation{}, err
		}
		id := od.OrderID
		if err := json.Unmarshal(resp.Data, &od); err != nil {
			return model.OrderConfirmation{}, fmt.Errorf("decode order %s: %w", id, err)
		}
		if od.OrderID == "" {
			od.OrderID = id
		}
	}
}

func (c *BrokerClient) PlaceTriggerOrder(ctx context.Context, req model.TriggerOrderRequest) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/orders/trigger", nil, map[string]interface{}{
		"ticker":        req.Ticker,
		"side":          string(req.Side),
		"quantity":      req.Quantity,
		"trigger_price": req.TriggerPrice.String(),
		"product":       productFor(req.Settlement),
		"tag":           req.ClientTag,
	})
	if err != nil {
		return "", err
	}

	var od orderData
	if err := json.Unmarshal(resp.Data, &od); err != nil {
		return "", fmt.Errorf("decode trigger order: %w", err)
	}
	if od.OrderID == "" {
		return "", fmt.Errorf("trigger order for %s returned no id", req.Ticker)
	}
	return od.OrderID, nil
}

func (c *BrokerClient) CancelTriggerOrder(ctx context.Context, triggerID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/trigger/"+triggerID, nil, nil)
	return err
}

// ListPositions returns net open positions; flat rows are skipped.
func (c *BrokerClient) ListPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	resp, err := c.do(ctx, http.MethodGet, "/positions", nil, nil)
	if err != nil {
		return nil, err
	}

	var rows []positionData
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	out := make([]model.BrokerPosition, 0, len(rows))
	for _, r := range rows {
		if r.Quantity == 0 {
			continue
		}
		dir := model.DirectionLong
		qty := r.Quantity
		if qty < 0 {
			dir = model.DirectionShort
			qty = -qty
		}
		out = append(out, model.BrokerPosition{
			Ticker:     model.NormalizeTicker(r.Ticker),
			Direction:  dir,
			Quantity:   qty,
			AvgPrice:   r.AveragePrice,
			Settlement: model.ParseSettlementClass(r.Product),
		})
	}
	return out, nil
}

func (c *BrokerClient) ListTriggerOrders(ctx context.Context) ([]model.BrokerTriggerOrder, error) {
	resp, err := c.do(ctx, http.MethodGet, "/orders/trigger", map[string]string{"status": "open"}, nil)
	if err != nil {
		return nil, err
	}

	var rows []triggerData
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("decode trigger orders: %w", err)
	}

	out := make([]model.BrokerTriggerOrder, 0, len(rows))
	for _, r := range rows {
		side, ok := model.ParseOrderSide(r.Side)
		if !ok {
			logger.WithFields(logger.Fields{"trigger_id": r.OrderID, "side": r.Side}).
				Warn("Skipping trigger order with unknown side")
			continue
		}
		out = append(out, model.BrokerTriggerOrder{
			Ticker:       model.NormalizeTicker(r.Ticker),
			TriggerID:    r.OrderID,
			TriggerPrice: r.TriggerPrice,
			Side:         side,
			Quantity:     r.Quantity,
		})
	}
	return out, nil
}
