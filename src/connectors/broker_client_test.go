package connectors

// Test index:
//  1. TestIsRetryableResp verifies retry decisions for response codes and errors.
//  2. TestBrokerClientSignsRequests checks the HMAC headers against the request.
//  3. TestPlaceMarketOrder covers immediate and polled fills plus rejections.
//  4. TestPlaceTriggerOrderRejections maps error_type and status codes onto kinds.
//  5. TestCancelTriggerOrder covers success and the already-gone case.
//  6. TestListPositions decodes signed net quantities.
//  7. TestListTriggerOrders decodes open trigger orders.

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"positionguard/src/model"
)

type assertError struct{}

func (assertError) Error() string { return "err" }

func fakeResponse(status int) *resty.Response {
	return &resty.Response{RawResponse: &http.Response{StatusCode: status}}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestBroker(t *testing.T, handler http.HandlerFunc) *BrokerClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBrokerClient(Config{
		BaseURL:          srv.URL,
		APIKey:           "test-key",
		APISecret:        "test-secret",
		Timeout:          5 * time.Second,
		RetryAttempts:    0,
		FillPollAttempts: 3,
		FillPollInterval: time.Millisecond,
	})
}

func TestIsRetryableResp(t *testing.T) {
	cases := []struct {
		name string
		resp *resty.Response
		err  error
		want bool
	}{
		{name: "error present", err: assertError{}, want: true},
		{name: "server error", resp: fakeResponse(500), want: true},
		{name: "too many requests", resp: fakeResponse(429), want: true},
		{name: "timeout", resp: fakeResponse(408), want: true},
		{name: "bad request", resp: fakeResponse(400), want: false},
		{name: "ok response", resp: fakeResponse(200), want: false},
		{name: "nil resp", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isRetryableResp(tc.resp, tc.err))
		})
	}
}

func TestBrokerClientSignsRequests(t *testing.T) {
	client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		expiry, err := strconv.ParseInt(r.Header.Get("X-Api-Expiry"), 10, 64)
		require.NoError(t, err)
		require.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.Equal(t, signRequest(r.Method, r.URL.Path, string(body), expiry, "test-secret"), r.Header.Get("X-Api-Signature"))
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "data": map[string]string{"order_id": "T-1"}})
	})

	id, err := client.PlaceTriggerOrder(context.Background(), model.TriggerOrderRequest{
		Ticker: "INFY", Side: model.SideSell, Quantity: 10, TriggerPrice: d("95.05"), ClientTag: "tag",
	})
	require.NoError(t, err)
	require.Equal(t, "T-1", id)
}

func TestPlaceMarketOrder(t *testing.T) {
	t.Run("filled immediately", func(t *testing.T) {
		client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/orders/market", r.URL.Path)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "SELL", body["side"])
			require.Equal(t, "INTRADAY", body["product"])
			require.EqualValues(t, 10, body["quantity"])

			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"order_id": "M-1", "status": "COMPLETE", "average_price": "111.2"},
			})
		})

		conf, err := client.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{
			Ticker: "INFY", Side: model.SideSell, Quantity: 10, Settlement: model.SettlementUnknown,
		})
		require.NoError(t, err)
		require.Equal(t, "M-1", conf.OrderID)
		require.True(t, conf.AveragePrice.Equal(d("111.2")))
	})

	t.Run("polled until complete", func(t *testing.T) {
		var polls int32
		client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"status": "success",
					"data":   map[string]interface{}{"order_id": "M-2", "status": "OPEN"},
				})
				return
			}
			require.Equal(t, "/orders/M-2", r.URL.Path)
			status := "OPEN"
			if atomic.AddInt32(&polls, 1) >= 2 {
				status = "COMPLETE"
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"order_id": "M-2", "status": status, "average_price": 99.5},
			})
		})

		conf, err := client.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{Ticker: "INFY", Side: model.SideBuy, Quantity: 1})
		require.NoError(t, err)
		require.Equal(t, "M-2", conf.OrderID)
		require.True(t, conf.AveragePrice.Equal(d("99.5")))
		require.EqualValues(t, 2, atomic.LoadInt32(&polls))
	})

	t.Run("rejected", func(t *testing.T) {
		client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"order_id": "M-3", "status": "REJECTED", "status_message": "margin"},
			})
		})

		_, err := client.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{Ticker: "INFY", Side: model.SideBuy, Quantity: 1})
		require.ErrorIs(t, err, ErrOrderRejected)
	})

	t.Run("never fills", func(t *testing.T) {
		client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status": "success",
				"data":   map[string]interface{}{"order_id": "M-4", "status": "OPEN"},
			})
		})

		_, err := client.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{Ticker: "INFY", Side: model.SideBuy, Quantity: 1})
		require.ErrorIs(t, err, ErrFillUnconfirmed)
	})
}

func TestPlaceTriggerOrderRejections(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]interface{}
		want   ErrorKind
	}{
		{"equals last price", http.StatusBadRequest, map[string]interface{}{"status": "error", "error_type": "TRIGGER_EQUALS_LAST_PRICE", "message": "trigger == ltp"}, KindTriggerEqualsLastPrice},
		{"too close", http.StatusBadRequest, map[string]interface{}{"status": "error", "error_type": "TRIGGER_TOO_CLOSE", "message": "too close"}, KindTriggerTooClose},
		{"http 429", http.StatusTooManyRequests, map[string]interface{}{"status": "error", "message": "slow down"}, KindRateLimited},
		{"error in 200 body", http.StatusOK, map[string]interface{}{"status": "error", "error_type": "RATE_LIMITED"}, KindRateLimited},
		{"other", http.StatusBadRequest, map[string]interface{}{"status": "error", "error_type": "INPUT_EXCEPTION"}, KindOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})

			_, err := client.PlaceTriggerOrder(context.Background(), model.TriggerOrderRequest{
				Ticker: "INFY", Side: model.SideSell, Quantity: 1, TriggerPrice: d("95"),
			})
			require.Error(t, err)
			require.Equal(t, tc.want, KindOf(err))

			var be *BrokerError
			require.True(t, errors.As(err, &be))
			require.Equal(t, tc.status, be.Status)
		})
	}
}

func TestCancelTriggerOrder(t *testing.T) {
	client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/orders/trigger/T-1" {
			writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success"})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"status": "error", "message": "no such order"})
	})

	require.NoError(t, client.CancelTriggerOrder(context.Background(), "T-1"))
	require.ErrorIs(t, client.CancelTriggerOrder(context.Background(), "T-9"), ErrOrderNotFound)
}

func TestListPositions(t *testing.T) {
	client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"data": []map[string]interface{}{
				{"ticker": "infy", "quantity": 10, "average_price": "100.5", "product": "MIS"},
				{"ticker": "TCS", "quantity": -4, "average_price": "3500", "product": "CNC"},
				{"ticker": "WIPRO", "quantity": 0, "average_price": "0", "product": "MIS"},
			},
		})
	})

	positions, err := client.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	require.Equal(t, "INFY", positions[0].Ticker)
	require.Equal(t, model.DirectionLong, positions[0].Direction)
	require.EqualValues(t, 10, positions[0].Quantity)
	require.Equal(t, model.SettlementIntraday, positions[0].Settlement)

	require.Equal(t, model.DirectionShort, positions[1].Direction)
	require.EqualValues(t, 4, positions[1].Quantity)
	require.Equal(t, model.SettlementDelivery, positions[1].Settlement)
}

func TestListTriggerOrders(t *testing.T) {
	client := newTestBroker(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/trigger", r.URL.Path)
		require.Equal(t, "open", r.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "success",
			"data": []map[string]interface{}{
				{"order_id": "T-1", "ticker": "INFY", "side": "SELL", "quantity": 10, "trigger_price": "95"},
				{"order_id": "T-2", "ticker": "TCS", "side": "BUY", "quantity": 4, "trigger_price": 3600},
				{"order_id": "T-3", "ticker": "X", "side": "HOLD", "quantity": 1, "trigger_price": 1},
			},
		})
	})

	triggers, err := client.ListTriggerOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	require.Equal(t, model.SideSell, triggers[0].Side)
	require.Equal(t, model.DirectionLong, triggers[0].Side.ProtectedDirection())
	require.True(t, triggers[1].TriggerPrice.Equal(d("3600")))
	require.Equal(t, model.DirectionShort, triggers[1].Side.ProtectedDirection())
}
