package state

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AccountID string `envconfig:"ACCOUNT_ID" default:"default"`
	// A same-day record older than this on Load is treated as a crash restart.
	InactivityThreshold time.Duration `envconfig:"STATE_INACTIVITY_THRESHOLD" default:"10m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
