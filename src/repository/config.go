package repository

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// A quote older than this is treated as unavailable.
	PriceStaleAfter time.Duration `envconfig:"PRICE_STALE_AFTER" default:"5m"`
	// Number of 1m rows fetched when building aggregated candles.
	CandleLookback int `envconfig:"CANDLE_LOOKBACK" default:"60"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
