package reconcile

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Settlement classes reconciliation may touch. Unknown is handled as intraday.
	SettlementClasses []string `envconfig:"RECONCILE_SETTLEMENT_CLASSES" default:"INTRADAY,DELIVERY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
