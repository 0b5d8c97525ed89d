package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Broker selects the order-routing adapter: rest | alpaca.
	Broker string `envconfig:"BROKER" default:"rest"`
	// PriceSource selects quotes and candles: db | alpaca.
	PriceSource string `envconfig:"PRICE_SOURCE" default:"db"`

	BaseURL       string        `envconfig:"BROKER_BASE_URL" default:"http://localhost:8081"`
	APIKey        string        `envconfig:"BROKER_API_KEY"`
	APISecret     string        `envconfig:"BROKER_API_SECRET"`
	Timeout       time.Duration `envconfig:"BROKER_TIMEOUT" default:"15s"`
	RetryAttempts int           `envconfig:"BROKER_RETRY_ATTEMPTS" default:"3"`

	FillPollAttempts int           `envconfig:"BROKER_FILL_POLL_ATTEMPTS" default:"10"`
	FillPollInterval time.Duration `envconfig:"BROKER_FILL_POLL_INTERVAL" default:"500ms"`

	AlpacaAPIKey     string `envconfig:"ALPACA_API_KEY"`
	AlpacaAPISecret  string `envconfig:"ALPACA_SECRET_KEY"`
	AlpacaBaseURL    string `envconfig:"ALPACA_BASE_URL" default:"https://paper-api.alpaca.markets"`
	AlpacaDataURL    string `envconfig:"ALPACA_DATA_URL"`
	AlpacaSettlement string `envconfig:"ALPACA_SETTLEMENT" default:"INTRADAY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
