package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/pretty"
	"github.com/urfave/cli"

	"positionguard/cmd/executor"
	"positionguard/cmd/ohlcvcrypto"
	"positionguard/src/database"
	"positionguard/src/model"
	"positionguard/src/repository"
	"positionguard/src/state"
)

var Version string

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	executor.SetupLogger(executor.GetConfig())
	defer handlePanic()

	app := cli.NewApp()
	app.Name = "positionguard"
	app.Usage = "Protective stop-loss and position reconciliation for intraday trading"
	app.Version = Version

	app.Commands = []cli.Command{
		manageCMD,
		reconcileCMD,
		rolloverCMD,
		stateCMD,
		openCMD,
		closeCMD,
		cleanCMD,
		ohlcvCryptoCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	manageCMD = cli.Command{
		Name:        "manage",
		Usage:       "run the management loop and HTTP server",
		Action:      manageAction,
		Description: `Loads state, reconciles, then manages protective stops every LOOP_PERIOD`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "reconcile local state against the broker once",
		Action:      reconcileAction,
		Description: `Prints the reconciliation report as JSON`,
	}
	rolloverCMD = cli.Command{
		Name:   "rollover",
		Usage:  "reset the trading state for a new trading day",
		Action: rolloverAction,
		Flags:  []cli.Flag{
			cli.BoolFlag{Name: "force", Usage: "reset even when the stored date is today"},
		},
	}
	stateCMD = cli.Command{
		Name:   "state",
		Usage:  "print the persisted trading state",
		Action: stateAction,
	}
	openCMD = cli.Command{
		Name:      "open",
		Usage:     "open a position with a market order",
		ArgsUsage: "TICKER LONG|SHORT QUANTITY",
		Action:    openAction,
		Flags:     []cli.Flag{
			cli.StringFlag{Name: "class", Value: string(model.SettlementIntraday), Usage: "INTRADAY or DELIVERY"},
		},
	}
	closeCMD = cli.Command{
		Name:      "close",
		Usage:     "close a position with a market order",
		ArgsUsage: "TICKER",
		Action:    closeAction,
		Flags:     []cli.Flag{
			cli.StringFlag{Name: "reason", Value: "manual"},
		},
	}
	cleanCMD = cli.Command{
		Name:      "clean",
		Usage:     "cancel a position's trigger and drop its local record",
		ArgsUsage: "TICKER",
		Action:    cleanAction,
		Flags:     []cli.Flag{
			cli.BoolFlag{Name: "all", Usage: "also clean DELIVERY positions"},
		},
	}
	ohlcvCryptoCMD = cli.Command{
		Name:        "ohlcv_crypto",
		Usage:       "ingest 1m OHLCV candles",
		Action:      ohlcvCryptoAction,
		Description: `Fetches 1m bars for OHLCV_SYMBOLS from Binance and upserts them`,
	}
)

func newExecutor(cmd string) (*executor.Executor, error) {
	log := logrus.WithField("cmd", cmd)
	ex, err := executor.New(log)
	if err != nil {
		log.WithError(err).Error("Starting cmd")
		return nil, err
	}
	return ex, nil
}

// loaded builds the executor and loads the trading state for one-shot commands.
func loaded(ctx context.Context, cmd string) (*executor.Executor, error) {
	ex, err := newExecutor(cmd)
	if err != nil {
		return nil, err
	}
	if err := ex.Store.Load(ctx); err != nil {
		return nil, fmt.Errorf("load trading state: %w", err)
	}
	return ex, nil
}

func printJSON(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(pretty.Pretty(body))
	return err
}

func manageAction(_ *cli.Context) error {
	logrus.Info("Starting manage CMD")
	ex, err := newExecutor("manage")
	if err != nil {
		return err
	}
	return ex.Start()
}

func reconcileAction(_ *cli.Context) error {
	ctx := context.Background()
	ex, err := loaded(ctx, "reconcile")
	if err != nil {
		return err
	}
	report, err := ex.Reconciler.Reconcile(ctx)
	if perr := printJSON(report); perr != nil {
		return perr
	}
	return err
}

func rolloverAction(c *cli.Context) error {
	ctx := context.Background()
	ex, err := loaded(ctx, "rollover")
	if err != nil {
		return err
	}
	rolled, err := ex.Store.ResetForNewTradingDay(ctx, c.Bool("force"))
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"rolled": rolled, "date": ex.Store.Date()}).Info("Rollover check done")
	return nil
}

// stateAction reads the stored row directly so printing never triggers a rollover.
func stateAction(_ *cli.Context) error {
	config := state.GetConfig()
	if err := database.InitMainDB(config.AccountID); err != nil {
		return err
	}
	rec, err := repository.NewTradingStateRepository().Load(context.Background(), config.AccountID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no trading state stored for account %q", config.AccountID)
	}
	_, err = os.Stdout.Write(pretty.Pretty([]byte(rec.Payload)))
	return err
}

func openAction(c *cli.Context) error {
	if c.NArg() != 3 {
		return errors.New("usage: open TICKER LONG|SHORT QUANTITY")
	}
	dir, ok := model.ParseDirection(c.Args().Get(1))
	if !ok {
		return fmt.Errorf("invalid direction %q", c.Args().Get(1))
	}
	qty, err := strconv.ParseInt(c.Args().Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid quantity: %w", err)
	}

	ctx := context.Background()
	ex, err := loaded(ctx, "open")
	if err != nil {
		return err
	}
	pos, err := ex.Manager.Open(ctx, c.Args().Get(0), dir, qty, model.ParseSettlementClass(c.String("class")))
	if err != nil {
		return err
	}
	return printJSON(pos)
}

func closeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: close TICKER")
	}
	ctx := context.Background()
	ex, err := loaded(ctx, "close")
	if err != nil {
		return err
	}
	return ex.Manager.Close(ctx, c.Args().Get(0), c.String("reason"))
}

func cleanAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: clean TICKER")
	}
	ctx := context.Background()
	ex, err := loaded(ctx, "clean")
	if err != nil {
		return err
	}
	return ex.Manager.Clean(ctx, c.Args().Get(0), c.Bool("all"))
}

func ohlcvCryptoAction(_ *cli.Context) error {
	logrus.Info("Starting OHLCV crypto CMD")
	if err := database.InitMainDB(state.GetConfig().AccountID); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	_ohlcv := &ohlcvcrypto.OHLCVCrypto{
		Log:   logrus.WithField("cmd", "ohlcv_crypto"),
		Store: repository.NewOHLCVRepository(),
	}

	if err := _ohlcv.Start(context.Background()); err != nil {
		logrus.WithError(err).Error("Starting OHLCV cmd")
		return err
	}
	return nil
}

func handlePanic() {
	if r := recover(); r != nil {
		logrus.WithError(fmt.Errorf("%+v", r)).Error("positionguard panic")
		os.Exit(2)
	}
}
