package journal

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"positionguard/src/database/dbtest"
	"positionguard/src/model"
	"positionguard/src/repository"
)

func TestRecorder_BeginFinish(t *testing.T) {
	db := dbtest.SQLite(t, &model.Order{})
	repo := (&repository.OrderRepository{}).WithDB(db)
	rec := New(repo, "acc-1", logrus.NewEntry(logrus.New()))
	ctx := context.Background()

	e := rec.Begin(ctx, model.Order{Ticker: "INFY", Side: "BUY", Kind: model.OrderKindMarket, Quantity: 10})
	require.NotEmpty(t, e.ClientTag)
	e.Finish(ctx, model.OrderStatusFilled, "B-1", nil)

	failed := rec.Begin(ctx, model.Order{Ticker: "INFY", Side: "SELL", Kind: model.OrderKindTrigger, Quantity: 10})
	failed.Finish(ctx, model.OrderStatusError, "", errors.New("rejected"))

	orders, err := repo.FindLatest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, model.OrderStatusError, orders[0].Status)
	require.Equal(t, "acc-1", orders[0].Account)
	require.Equal(t, model.OrderStatusFilled, orders[1].Status)
	require.Equal(t, "B-1", orders[1].BrokerOrderID)
	require.Equal(t, e.ClientTag, orders[1].ClientTag)
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var rec *Recorder
	e := rec.Begin(context.Background(), model.Order{Ticker: "INFY"})
	require.NotEmpty(t, e.ClientTag)
	e.Finish(context.Background(), model.OrderStatusFilled, "", nil)
}
