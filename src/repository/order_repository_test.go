package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"positionguard/src/database/dbtest"
	"positionguard/src/model"
)

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := dbtest.Mock(t)
	repo := (&OrderRepository{}).WithDB(mockDB)

	createdAt := time.Date(2025, 3, 4, 9, 20, 0, 0, time.UTC)
	orderRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "ticker", "side", "kind", "quantity", "status", "created_at", "updated_at"}).
			AddRow(2, "INFY", "SELL", model.OrderKindTrigger, 10, model.OrderStatusPlaced, createdAt.Add(time.Minute), createdAt.Add(time.Minute)).
			AddRow(1, "INFY", "BUY", model.OrderKindMarket, 10, model.OrderStatusFilled, createdAt, createdAt)
	}

	t.Run("filters by ticker", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE ticker = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs("INFY").
			WillReturnRows(orderRows())

		ticker := "INFY"
		results, err := repo.Search(context.Background(), OrderSearchOptions{Ticker: &ticker})
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, model.OrderKindTrigger, results[0].Kind)
	})

	t.Run("filters by kind and status with pagination", func(t *testing.T) {
		kind, status := model.OrderKindMarket, model.OrderStatusFilled
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE kind = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`)).
			WithArgs(kind, status, 1, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "ticker"}).AddRow(1, "INFY"))

		results, err := repo.Search(context.Background(), OrderSearchOptions{Kind: &kind, Status: &status, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_CreateAndMarkResult(t *testing.T) {
	db := dbtest.SQLite(t, &model.Order{})
	repo := (&OrderRepository{}).WithDB(db)
	ctx := context.Background()

	price := d("95")
	order := &model.Order{
		Account:   "acc-1",
		ClientTag: "tag-1",
		Ticker:    "INFY",
		Side:      string(model.SideSell),
		Kind:      model.OrderKindTrigger,
		Quantity:  10,
		Price:     &price,
		Status:    model.OrderStatusPending,
	}
	require.NoError(t, repo.Create(ctx, order))
	require.NotZero(t, order.ID)

	require.NoError(t, repo.MarkResult(ctx, order.ID, model.OrderStatusError, "", errors.New("TRIGGER_TOO_CLOSE")))

	latest, err := repo.FindLatest(ctx, 5)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, model.OrderStatusError, latest[0].Status)
	require.NotNil(t, latest[0].ErrorMessage)
	require.Equal(t, "TRIGGER_TOO_CLOSE", *latest[0].ErrorMessage)
	require.Nil(t, latest[0].ExecutedAt)

	require.NoError(t, repo.MarkResult(ctx, order.ID, model.OrderStatusPlaced, "B-77", nil))
	latest, err = repo.FindLatest(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "B-77", latest[0].BrokerOrderID)
	require.NotNil(t, latest[0].ExecutedAt)
	require.True(t, latest[0].Price.Equal(price))
}
