// Package executor assembles the long-lived components from env config and
// runs them for the CLI commands.
package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"positionguard/src/connectors"
	"positionguard/src/controller"
	"positionguard/src/database"
	"positionguard/src/executors"
	"positionguard/src/journal"
	"positionguard/src/lifecycle"
	"positionguard/src/reconcile"
	"positionguard/src/repository"
	"positionguard/src/server"
	"positionguard/src/session"
	"positionguard/src/state"
	"positionguard/src/tp_sl"
)

// Broker is everything the components need from the order-routing adapter.
type Broker interface {
	lifecycle.Broker
	tp_sl.TriggerBroker
	reconcile.Broker
}

// SetupLogger configures the standard logrus logger from LOG_LEVEL / LOG_FORMAT.
func SetupLogger(config *Config) {
	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func newBroker(config connectors.Config) (Broker, error) {
	switch strings.ToLower(config.Broker) {
	case "rest", "":
		return connectors.NewBrokerClient(config), nil
	case "alpaca":
		return connectors.NewAlpacaBroker(config), nil
	default:
		return nil, fmt.Errorf("unknown BROKER %q", config.Broker)
	}
}

func newPriceService(config connectors.Config, repoConfig repository.Config) (tp_sl.PriceService, error) {
	switch strings.ToLower(config.PriceSource) {
	case "db", "":
		return repository.NewOHLCVRepository(), nil
	case "alpaca":
		return connectors.NewAlpacaMarketData(config, repoConfig.PriceStaleAfter), nil
	default:
		return nil, fmt.Errorf("unknown PRICE_SOURCE %q", config.PriceSource)
	}
}

type Executor struct {
	Log        *logrus.Entry
	Calendar   *session.Calendar
	Store      *state.Store
	Manager    *lifecycle.Manager
	Engine     *tp_sl.Engine
	Reconciler *reconcile.Reconciler
	Cycle      *controller.CycleController
}

// New connects the database and builds the component graph. Nothing is
// loaded or sent to the broker yet.
func New(log *logrus.Entry) (*Executor, error) {
	stateConfig := state.GetConfig()
	if err := database.InitMainDB(stateConfig.AccountID); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	cal, err := session.NewCalendar(session.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("session calendar: %w", err)
	}

	connConfig := connectors.GetConfig()
	broker, err := newBroker(connConfig)
	if err != nil {
		return nil, err
	}
	prices, err := newPriceService(connConfig, repository.GetConfig())
	if err != nil {
		return nil, err
	}

	store := state.NewStore(log, repository.NewTradingStateRepository(), cal, stateConfig)
	rec := journal.New(repository.NewOrderRepository(), stateConfig.AccountID, log)
	manager := lifecycle.NewManager(log, store, broker, prices, rec)
	engine := tp_sl.NewEngine(log, store, prices, broker, manager, rec, tp_sl.GetConfig())

	log.WithFields(logrus.Fields{
		"account":      stateConfig.AccountID,
		"broker":       connConfig.Broker,
		"price_source": connConfig.PriceSource,
	}).Info("Components assembled")

	return &Executor{
		Log:        log,
		Calendar:   cal,
		Store:      store,
		Manager:    manager,
		Engine:     engine,
		Reconciler: reconcile.NewReconciler(log, store, broker, rec, reconcile.GetConfig()),
		Cycle:      controller.NewCycleController(
			log, store, engine, repository.NewExceptionRepository(), controller.GetConfig(),
		),
	}, nil
}

// Start runs the management loop and the HTTP surface until SIGINT/SIGTERM.
func (t *Executor) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	srvErr := make(chan error, 1)
	go func() {
		router := server.NewRouter(t.Store, repository.NewOrderRepository(), repository.NewExceptionRepository())
		srvErr <- server.StartServer(ctx, server.GetConfig(), router)
	}()

	deps := executors.Deps{
		Store:      t.Store,
		Reconciler: t.Reconciler,
		Cycle:      t.Cycle,
		Calendar:   t.Calendar,
	}
	if err := executors.StartLoop(ctx, deps, executors.GetConfig()); err != nil {
		t.Log.WithError(err).Error("Failed to start management loop")
		stop()
		<-srvErr
		return err
	}
	return <-srvErr
}
