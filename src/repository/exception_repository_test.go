package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"positionguard/src/database/dbtest"
	"positionguard/src/model"
)

func TestExceptionRepository_CreateAndFindByTicker(t *testing.T) {
	db := dbtest.SQLite(t, &model.Exception{})
	repo := NewExceptionRepositoryWithDB(db)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Create(ctx, &model.Exception{
			Service: "positionguard",
			Module:  "tp_sl",
			Method:  "Manage",
			Ticker:  "INFY",
			Level:   "error",
			Message: msg,
		}))
	}
	require.NoError(t, repo.Create(ctx, &model.Exception{Ticker: "TCS", Message: "other"}))

	got, err := repo.FindByTicker(ctx, "INFY", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "third", got[0].Message)
	require.Equal(t, "second", got[1].Message)

	got, err = repo.FindByTicker(ctx, "INFY", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
}
