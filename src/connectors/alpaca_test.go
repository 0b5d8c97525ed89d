package connectors

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"positionguard/src/model"
)

type fakeAlpaca struct {
	placed    []alpaca.PlaceOrderRequest
	placeResp *alpaca.Order
	placeErr  error
	polled    []*alpaca.Order
	canceled  []string
	cancelErr error
	orders    []alpaca.Order
	positions []alpaca.Position
}

func (f *fakeAlpaca) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	f.placed = append(f.placed, req)
	return f.placeResp, f.placeErr
}

func (f *fakeAlpaca) GetOrder(string) (*alpaca.Order, error) {
	o := f.polled[0]
	f.polled = f.polled[1:]
	return o, nil
}

func (f *fakeAlpaca) CancelOrder(id string) error {
	f.canceled = append(f.canceled, id)
	return f.cancelErr
}

func (f *fakeAlpaca) GetOrders(alpaca.GetOrdersRequest) ([]alpaca.Order, error) {
	return f.orders, nil
}

func (f *fakeAlpaca) GetPositions() ([]alpaca.Position, error) {
	return f.positions, nil
}

func decPtr(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func testAlpacaConfig() Config {
	return Config{FillPollAttempts: 3, FillPollInterval: time.Millisecond, AlpacaSettlement: "INTRADAY"}
}

func TestClassifyAlpaca(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &alpaca.APIError{StatusCode: http.StatusTooManyRequests, Message: "too many requests"}, ErrRateLimited},
		{"not found", &alpaca.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}, ErrOrderNotFound},
		{"stop equals", &alpaca.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "stop price must not be equal to last trade"}, ErrTriggerEqualsLastPrice},
		{"stop side", &alpaca.APIError{StatusCode: http.StatusForbidden, Message: "stop price must be less than current price"}, ErrTriggerTooClose},
		{"already filled", &alpaca.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "order is already in filled state"}, ErrOrderNotFound},
		{"buying power", &alpaca.APIError{StatusCode: http.StatusForbidden, Message: "insufficient buying power"}, ErrOrderRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, classifyAlpaca(tc.err), tc.want)
		})
	}

	plain := errors.New("dial tcp: refused")
	require.Equal(t, plain, classifyAlpaca(plain))
	require.NoError(t, classifyAlpaca(nil))
}

func TestAlpacaBrokerMarketOrderPollsUntilFilled(t *testing.T) {
	api := &fakeAlpaca{
		placeResp: &alpaca.Order{ID: "A-1", Status: "new"},
		polled: []*alpaca.Order{
			{ID: "A-1", Status: "partially_filled"},
			{ID: "A-1", Status: "filled", FilledAvgPrice: decPtr("101.25")},
		},
	}
	b := newAlpacaBroker(api, testAlpacaConfig())

	conf, err := b.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{
		Ticker: "AAPL", Side: model.SideBuy, Quantity: 5, ClientTag: "tag-1",
	})
	require.NoError(t, err)
	require.Equal(t, "A-1", conf.OrderID)
	require.True(t, conf.AveragePrice.Equal(decimal.RequireFromString("101.25")))

	require.Len(t, api.placed, 1)
	require.Equal(t, alpaca.Market, api.placed[0].Type)
	require.Equal(t, alpaca.Buy, api.placed[0].Side)
	require.Equal(t, "tag-1", api.placed[0].ClientOrderID)
}

func TestAlpacaBrokerMarketOrderRejected(t *testing.T) {
	api := &fakeAlpaca{placeResp: &alpaca.Order{ID: "A-2", Status: "rejected"}}
	b := newAlpacaBroker(api, testAlpacaConfig())

	_, err := b.PlaceMarketOrder(context.Background(), model.MarketOrderRequest{Ticker: "AAPL", Side: model.SideSell, Quantity: 1})
	require.ErrorIs(t, err, ErrOrderRejected)
}

func TestAlpacaBrokerTriggerOrders(t *testing.T) {
	api := &fakeAlpaca{placeResp: &alpaca.Order{ID: "S-1", Status: "new"}}
	b := newAlpacaBroker(api, testAlpacaConfig())

	id, err := b.PlaceTriggerOrder(context.Background(), model.TriggerOrderRequest{
		Ticker: "AAPL", Side: model.SideSell, Quantity: 5, TriggerPrice: decimal.RequireFromString("95.5"),
	})
	require.NoError(t, err)
	require.Equal(t, "S-1", id)
	require.Equal(t, alpaca.Stop, api.placed[0].Type)
	require.True(t, api.placed[0].StopPrice.Equal(decimal.RequireFromString("95.5")))

	api.cancelErr = &alpaca.APIError{StatusCode: http.StatusNotFound, Message: "order not found"}
	require.ErrorIs(t, b.CancelTriggerOrder(context.Background(), "S-1"), ErrOrderNotFound)
	require.Equal(t, []string{"S-1"}, api.canceled)

	api.orders = []alpaca.Order{
		{ID: "S-1", Symbol: "aapl", Type: alpaca.Stop, Side: alpaca.Sell, Qty: decPtr("5"), StopPrice: decPtr("95.5")},
		{ID: "L-1", Symbol: "MSFT", Type: alpaca.Limit, Side: alpaca.Buy, Qty: decPtr("1")},
	}
	triggers, err := b.ListTriggerOrders(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.BrokerTriggerOrder{{
		Ticker: "AAPL", TriggerID: "S-1", TriggerPrice: decimal.RequireFromString("95.5"), Side: model.SideSell, Quantity: 5,
	}}, triggers)
}

func TestAlpacaBrokerListPositions(t *testing.T) {
	api := &fakeAlpaca{positions: []alpaca.Position{
		{Symbol: "AAPL", Qty: decimal.NewFromInt(5), Side: "long", AvgEntryPrice: decimal.NewFromInt(100)},
		{Symbol: "TSLA", Qty: decimal.NewFromInt(-3), Side: "short", AvgEntryPrice: decimal.NewFromInt(200)},
		{Symbol: "MSFT", Qty: decimal.Zero, Side: "long"},
	}}
	b := newAlpacaBroker(api, Config{AlpacaSettlement: "bogus"})

	positions, err := b.ListPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, model.DirectionLong, positions[0].Direction)
	require.Equal(t, model.DirectionShort, positions[1].Direction)
	require.EqualValues(t, 3, positions[1].Quantity)
	require.Equal(t, model.SettlementIntraday, positions[1].Settlement)
}

type fakeBars struct {
	trade *marketdata.Trade
	bars  []marketdata.Bar
	req   marketdata.GetBarsRequest
}

func (f *fakeBars) GetLatestTrade(string, marketdata.GetLatestTradeRequest) (*marketdata.Trade, error) {
	return f.trade, nil
}

func (f *fakeBars) GetBars(_ string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.req = req
	return f.bars, nil
}

func TestAlpacaMarketDataCurrentPrice(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	api := &fakeBars{trade: &marketdata.Trade{Price: 101.5, Timestamp: now.Add(-time.Minute)}}
	md := newAlpacaMarketData(api, 5*time.Minute, func() time.Time { return now })

	price, err := md.CurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("101.5")))

	api.trade.Timestamp = now.Add(-10 * time.Minute)
	_, err = md.CurrentPrice(context.Background(), "AAPL")
	require.ErrorIs(t, err, ErrQuoteUnavailable)

	api.trade = nil
	_, err = md.CurrentPrice(context.Background(), "AAPL")
	require.ErrorIs(t, err, ErrQuoteUnavailable)
}

func TestAlpacaMarketDataSkipsFormingBar(t *testing.T) {
	now := time.Date(2024, 3, 4, 15, 20, 0, 0, time.UTC)
	api := &fakeBars{bars: []marketdata.Bar{
		{Timestamp: now.Add(-50 * time.Minute).Truncate(15 * time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: now.Add(-35 * time.Minute).Truncate(15 * time.Minute), Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
		{Timestamp: now.Add(-20 * time.Minute).Truncate(15 * time.Minute), Open: 2, High: 4, Low: 1.8, Close: 3, Volume: 30},
		{Timestamp: now.Truncate(15 * time.Minute), Open: 3, High: 3, Low: 3, Close: 3, Volume: 1},
	}}
	md := newAlpacaMarketData(api, 0, func() time.Time { return now })

	candles, err := md.HistoricalCandles(context.Background(), "AAPL", 15*time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	require.True(t, candles[1].Low.Equal(decimal.RequireFromString("1.8")))
	require.Equal(t, marketdata.NewTimeFrame(15, marketdata.Min), api.req.TimeFrame)

	prev, err := md.PreviousCompletedCandle(context.Background(), "AAPL", 15*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.True(t, prev.Close.Equal(decimal.NewFromInt(3)))

	_, err = md.HistoricalCandles(context.Background(), "AAPL", 90*time.Second, 2)
	require.Error(t, err)
}
