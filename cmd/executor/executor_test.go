package executor

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"positionguard/src/connectors"
	"positionguard/src/repository"
)

func TestNewBroker(t *testing.T) {
	b, err := newBroker(connectors.Config{Broker: "rest", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	require.IsType(t, &connectors.BrokerClient{}, b)

	b, err = newBroker(connectors.Config{Broker: "ALPACA", AlpacaBaseURL: "http://localhost:1"})
	require.NoError(t, err)
	require.IsType(t, &connectors.AlpacaBroker{}, b)

	_, err = newBroker(connectors.Config{Broker: "ib"})
	require.ErrorContains(t, err, "unknown BROKER")
}

func TestNewPriceService(t *testing.T) {
	p, err := newPriceService(connectors.Config{PriceSource: "db"}, repository.Config{})
	require.NoError(t, err)
	require.IsType(t, &repository.OHLCVRepository{}, p)

	p, err = newPriceService(connectors.Config{PriceSource: "alpaca"}, repository.Config{PriceStaleAfter: time.Minute})
	require.NoError(t, err)
	require.IsType(t, &connectors.AlpacaMarketData{}, p)

	_, err = newPriceService(connectors.Config{PriceSource: "feed"}, repository.Config{})
	require.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	t.Cleanup(func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{})
	})

	SetupLogger(&Config{LogLevel: "WARN", LogFormat: "json"})
	require.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	SetupLogger(&Config{LogLevel: "bogus", LogFormat: "text"})
	require.Equal(t, logrus.InfoLevel, logrus.GetLevel())
	require.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)
}
