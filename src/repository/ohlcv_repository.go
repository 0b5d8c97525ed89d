package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"positionguard/src/database"
	"positionguard/src/model"
)

var (
	ErrInvalidInterval  = errors.New("invalid interval, must be a positive multiple of 1m")
	ErrPriceUnavailable = errors.New("price unavailable")
)

// OHLCVRepository serves quotes and candles out of the ingested 1m table.
type OHLCVRepository struct {
	db     *gorm.DB
	config Config
	now    func() time.Time
}

func NewOHLCVRepository() *OHLCVRepository {
	logger.WithField("component", "OHLCVRepository").
		Info("Creating new OHLCVRepository with MainDB")

	return NewOHLCVRepositoryWithDB(database.MainDB, GetConfig())
}

func NewOHLCVRepositoryWithDB(db *gorm.DB, cfg Config) *OHLCVRepository {
	if cfg.CandleLookback <= 0 {
		cfg.CandleLookback = 60
	}
	return &OHLCVRepository{
		db:     db,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the wall clock, used by tests.
func (s *OHLCVRepository) WithClock(now func() time.Time) *OHLCVRepository {
	cp := *s
	cp.now = now
	return &cp
}

func (s *OHLCVRepository) FetchRecentOHLCV1m(
	ctx context.Context,
	symbol string,
	to time.Time,
	limit int,
) ([]model.OHLCV1m, error) {
	if limit <= 0 {
		limit = 200
	}

	var rows []model.OHLCV1m
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND datetime <= ?", symbol, to).
		Order("datetime DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// ascending order
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// CurrentPrice is the close of the latest 1m bar, provided it is fresh.
func (s *OHLCVRepository) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	now := s.now()
	rows, err := s.FetchRecentOHLCV1m(ctx, ticker, now, 1)
	if err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("%s: no quotes: %w", ticker, ErrPriceUnavailable)
	}
	last := rows[0]
	if s.config.PriceStaleAfter > 0 && now.Sub(last.Datetime) > s.config.PriceStaleAfter {
		return decimal.Zero, fmt.Errorf("%s: last quote at %s is stale: %w",
			ticker, last.Datetime.Format(time.RFC3339), ErrPriceUnavailable)
	}
	return last.Close, nil
}

// PreviousCompletedCandle returns the most recent bar of the timeframe whose
// bucket has fully elapsed, or (nil, nil) when there is none.
func (s *OHLCVRepository) PreviousCompletedCandle(
	ctx context.Context,
	ticker string,
	timeframe time.Duration,
) (*model.Candle, error) {
	candles, err := s.HistoricalCandles(ctx, ticker, timeframe, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	c := candles[len(candles)-1]
	return &c, nil
}

// HistoricalCandles returns up to n completed bars, oldest first.
func (s *OHLCVRepository) HistoricalCandles(
	ctx context.Context,
	ticker string,
	timeframe time.Duration,
	n int,
) ([]model.Candle, error) {
	if timeframe < time.Minute || timeframe%time.Minute != 0 {
		return nil, ErrInvalidInterval
	}
	if n <= 0 {
		n = 1
	}

	now := s.now()
	mult := int(timeframe / time.Minute)
	limit1m := (n+1)*mult + s.config.CandleLookback

	rows, err := s.FetchRecentOHLCV1m(ctx, ticker, now, limit1m)
	if err != nil {
		return nil, err
	}
	agg, err := AggregateOHLCVFrom1m(rows, timeframe)
	if err != nil {
		return nil, err
	}

	// drop the bucket still in progress
	current := bucketStart(now, timeframe)
	completed := make([]model.Candle, 0, len(agg))
	for _, c := range agg {
		if !c.Datetime.Before(current) {
			continue
		}
		completed = append(completed, c.Candle())
	}
	if len(completed) > n {
		completed = completed[len(completed)-n:]
	}
	return completed, nil
}

// UpsertOHLCV1m inserts or refreshes bars keyed on (symbol, datetime).
func (s *OHLCVRepository) UpsertOHLCV1m(ctx context.Context, rows []model.OHLCV1m) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "datetime"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		Create(&rows).Error
}

// LatestDatetime returns the newest stored bar time, zero if none.
func (s *OHLCVRepository) LatestDatetime(ctx context.Context, symbol string) (time.Time, error) {
	var row model.OHLCV1m
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("datetime DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return row.Datetime, nil
}

// bucketStart aligns to wall-clock boundaries: 12:07 with 5m => 12:05.
func bucketStart(t time.Time, interval time.Duration) time.Time {
	secs := t.Unix()
	step := int64(interval.Seconds())
	return time.Unix((secs/step)*step, 0).UTC()
}

func AggregateOHLCVFrom1m(
	candles []model.OHLCV1m,
	interval time.Duration,
) ([]model.OHLCV1m, error) {
	if interval < time.Minute || interval%time.Minute != 0 {
		return nil, ErrInvalidInterval
	}
	if len(candles) == 0 {
		return []model.OHLCV1m{}, nil
	}
	if interval == time.Minute {
		out := make([]model.OHLCV1m, len(candles))
		copy(out, candles)
		return out, nil
	}

	out := make([]model.OHLCV1m, 0, len(candles)/int(interval.Minutes())+2)

	var cur model.OHLCV1m
	var curBucket time.Time
	hasCur := false

	for _, c := range candles {
		b := bucketStart(c.Datetime, interval)

		if !hasCur || !b.Equal(curBucket) {
			if hasCur {
				out = append(out, cur)
			}
			curBucket = b
			hasCur = true
			cur = model.OHLCV1m{
				Symbol:   c.Symbol,
				Datetime: curBucket,
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			continue
		}

		if c.High.GreaterThan(cur.High) {
			cur.High = c.High
		}
		if c.Low.LessThan(cur.Low) {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume = cur.Volume.Add(c.Volume)
	}

	if hasCur {
		out = append(out, cur)
	}
	return out, nil
}
