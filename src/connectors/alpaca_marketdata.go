package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"positionguard/src/model"
)

// alpacaBars is the subset of *marketdata.Client the adapter uses.
type alpacaBars interface {
	GetLatestTrade(symbol string, req marketdata.GetLatestTradeRequest) (*marketdata.Trade, error)
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaMarketData serves quotes and completed candles from Alpaca.
type AlpacaMarketData struct {
	api        alpacaBars
	staleAfter time.Duration
	now        func() time.Time
}

func NewAlpacaMarketData(cfg Config, staleAfter time.Duration) *AlpacaMarketData {
	client := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.AlpacaAPIKey,
		APISecret: cfg.AlpacaAPISecret,
		BaseURL:   cfg.AlpacaDataURL,
	})
	return newAlpacaMarketData(client, staleAfter, time.Now)
}

func newAlpacaMarketData(api alpacaBars, staleAfter time.Duration, now func() time.Time) *AlpacaMarketData {
	return &AlpacaMarketData{api: api, staleAfter: staleAfter, now: now}
}

func (m *AlpacaMarketData) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	trade, err := m.api.GetLatestTrade(ticker, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s latest trade: %v: %w", ticker, err, ErrQuoteUnavailable)
	}
	if trade == nil || trade.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%s: no trade: %w", ticker, ErrQuoteUnavailable)
	}
	if m.staleAfter > 0 && m.now().Sub(trade.Timestamp) > m.staleAfter {
		return decimal.Zero, fmt.Errorf("%s: last trade at %s is stale: %w",
			ticker, trade.Timestamp.Format(time.RFC3339), ErrQuoteUnavailable)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func alpacaTimeFrame(tf time.Duration) (marketdata.TimeFrame, error) {
	switch {
	case tf >= time.Hour && tf%time.Hour == 0:
		return marketdata.NewTimeFrame(int(tf/time.Hour), marketdata.Hour), nil
	case tf >= time.Minute && tf%time.Minute == 0:
		return marketdata.NewTimeFrame(int(tf/time.Minute), marketdata.Min), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe %s", tf)
}

// HistoricalCandles returns up to n completed bars, oldest first.
func (m *AlpacaMarketData) HistoricalCandles(_ context.Context, ticker string, timeframe time.Duration, n int) ([]model.Candle, error) {
	tf, err := alpacaTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		n = 1
	}

	now := m.now()
	// a trading day has gaps, so look back generously
	start := now.Add(-time.Duration(n+1) * timeframe * 4)
	bars, err := m.api.GetBars(ticker, marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     start,
		End:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("%s bars: %w", ticker, err)
	}

	out := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		// skip the bar still forming
		if b.Timestamp.Add(timeframe).After(now) {
			continue
		}
		out = append(out, model.Candle{
			Ticker: ticker,
			Start:  b.Timestamp,
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: decimal.NewFromFloat(float64(b.Volume)),
		})
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (m *AlpacaMarketData) PreviousCompletedCandle(ctx context.Context, ticker string, timeframe time.Duration) (*model.Candle, error) {
	candles, err := m.HistoricalCandles(ctx, ticker, timeframe, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	c := candles[0]
	return &c, nil
}
