package tp_sl

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Candle timeframe the structural stop is read from.
	StopTimeframe time.Duration `envconfig:"STOP_TIMEFRAME" default:"15m"`
	// Unrealized return (percent) above which the position is closed outright.
	TakeProfitPct float64 `envconfig:"TAKE_PROFIT_PCT" default:"10"`
	// Distance (percent) the trailing mark keeps behind the best price seen.
	TrailingMarginPct float64 `envconfig:"TRAILING_MARGIN_PCT" default:"2"`
	ATRMultiplier     float64 `envconfig:"ATR_MULTIPLIER" default:"1.2"`
	ATRPeriod         int     `envconfig:"ATR_PERIOD" default:"14"`
	TickSize          float64 `envconfig:"TICK_SIZE" default:"0.05"`

	// Percent of the last price a TRIGGER_TOO_CLOSE rejection widens the stop by, per attempt.
	TooCloseWidenPct  float64       `envconfig:"TOO_CLOSE_WIDEN_PCT" default:"0.25"`
	MaxAdjustAttempts int           `envconfig:"MAX_ADJUST_ATTEMPTS" default:"3"`
	MaxPlaceRetries   int           `envconfig:"MAX_PLACE_RETRIES" default:"3"`
	RetryBackoff      time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c Config) tick() decimal.Decimal { return decimal.NewFromFloat(c.TickSize) }
func (c Config) takeProfit() decimal.Decimal { return decimal.NewFromFloat(c.TakeProfitPct) }
func (c Config) trailingMargin() decimal.Decimal { return decimal.NewFromFloat(c.TrailingMarginPct) }
func (c Config) atrMultiplier() decimal.Decimal { return decimal.NewFromFloat(c.ATRMultiplier) }
