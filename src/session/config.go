package session

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Timezone string `envconfig:"SESSION_TIMEZONE" default:"Asia/Kolkata"`
	Open     string `envconfig:"SESSION_OPEN" default:"09:15"`
	Close    string `envconfig:"SESSION_CLOSE" default:"15:30"`
	// Holidays is a comma separated list of 2006-01-02 dates.
	Holidays []string `envconfig:"SESSION_HOLIDAYS"`
	// USHolidays adds the NYSE fixed/floating holidays to Holidays.
	USHolidays bool `envconfig:"SESSION_US_HOLIDAYS" default:"false"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
