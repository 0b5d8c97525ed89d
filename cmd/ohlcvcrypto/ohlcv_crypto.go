package ohlcvcrypto

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"positionguard/src/model"
)

// Store is the slice of repository.OHLCVRepository the ingester writes through.
type Store interface {
	UpsertOHLCV1m(ctx context.Context, rows []model.OHLCV1m) error
	LatestDatetime(ctx context.Context, symbol string) (time.Time, error)
}

type OHLCVCrypto struct {
	Log      *logger.Entry
	Store    Store
	Config   *Config
	exchange goex.API
	now      func() time.Time
}

func (o *OHLCVCrypto) Start(ctx context.Context) error {
	if o.Config == nil {
		o.Config = GetConfig()
	}
	if o.exchange == nil {
		o.exchange = o.newBinanceInstance()
	}
	if o.now == nil {
		o.now = time.Now
	}

	var errs []error
	for _, symbol := range o.Config.Symbols {
		symbol = model.NormalizeTicker(symbol)
		if symbol == "" {
			continue
		}
		n, err := o.ingest(ctx, symbol)
		if err != nil {
			o.Log.WithError(err).WithField("symbol", symbol).Error("ingest failed")
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		o.Log.WithFields(logger.Fields{
			"symbol": symbol,
			"rows":   n,
		}).Info("OHLCV 1m bars inserted or updated")
	}
	return errors.Join(errs...)
}

func (o *OHLCVCrypto) newBinanceInstance() *binance.Binance {
	endpoint := binance.GLOBAL_API_BASE_URL
	if o.Config != nil && o.Config.Endpoint != "" {
		endpoint = o.Config.Endpoint
	}
	return binance.NewWithConfig(&goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   endpoint,
	})
}

func (o *OHLCVCrypto) ingest(ctx context.Context, symbol string) (int, error) {
	pair, err := parsePair(symbol)
	if err != nil {
		return 0, err
	}
	start, err := o.startPoint(ctx, symbol)
	if err != nil {
		return 0, err
	}

	klines, err := o.fetchOHLCVSeries(pair, start, o.now())
	if err != nil {
		return 0, fmt.Errorf("fetch klines: %w", err)
	}

	rows := make([]model.OHLCV1m, 0, len(klines))
	for _, k := range klines {
		rows = append(rows, toRow(symbol, k))
	}
	if err := o.Store.UpsertOHLCV1m(ctx, rows); err != nil {
		return 0, fmt.Errorf("upsert: %w", err)
	}
	return len(rows), nil
}

// startPoint resumes one bar before the newest stored bar so a bar that was
// still forming on the previous run gets refreshed.
func (o *OHLCVCrypto) startPoint(ctx context.Context, symbol string) (time.Time, error) {
	if !o.Config.AutoMode {
		return o.Config.StartDt, nil
	}
	latest, err := o.Store.LatestDatetime(ctx, symbol)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest datetime: %w", err)
	}
	if latest.IsZero() {
		o.Log.WithField("symbol", symbol).
			WithField("StartDt", o.Config.StartDt.String()).
			Info("no records found, start from the configured StartDt")
		return o.Config.StartDt, nil
	}
	return latest.Add(-time.Minute), nil
}

func (o *OHLCVCrypto) fetchOHLCVSeries(pair goex.CurrencyPair, start, end time.Time) ([]goex.Kline, error) {
	const millis = 1000
	return o.exchange.GetKlineRecords(
		pair,
		goex.KLINE_PERIOD_1MIN,
		o.Config.Limit,
		goex.OptionalParameter{}.
			Optional("startTime", start.Unix()*millis).
			Optional("endTime", end.Unix()*millis),
	)
}

func parsePair(symbol string) (goex.CurrencyPair, error) {
	base, quote, ok := strings.Cut(symbol, "_")
	if !ok || base == "" || quote == "" {
		return goex.CurrencyPair{}, fmt.Errorf("invalid symbol %q, want BASE_QUOTE", symbol)
	}
	return goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: quote}), nil
}

func toRow(symbol string, k goex.Kline) model.OHLCV1m {
	return model.OHLCV1m{
		Symbol:   symbol,
		Datetime: time.Unix(k.Timestamp, 0).UTC(),
		Open:     decimal.NewFromFloat(k.Open),
		High:     decimal.NewFromFloat(k.High),
		Low:      decimal.NewFromFloat(k.Low),
		Close:    decimal.NewFromFloat(k.Close),
		Volume:   decimal.NewFromFloat(k.Vol),
	}
}
