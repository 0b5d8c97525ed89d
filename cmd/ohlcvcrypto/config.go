package ohlcvcrypto

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Pairs as BASE_QUOTE, stored under the same key the price service reads.
	Symbols []string `envconfig:"OHLCV_SYMBOLS" default:"BTC_USDT,ETH_USDT"`
	// Used when a symbol has no stored bars yet.
	StartDt  time.Time `envconfig:"START_DATE" default:"2026-01-01T00:00:00Z"`
	AutoMode bool      `envconfig:"AUTO_MODE" default:"true"`
	Limit    int       `envconfig:"LIMIT" default:"1000"`
	Endpoint string    `envconfig:"OHLCV_ENDPOINT" default:""`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
