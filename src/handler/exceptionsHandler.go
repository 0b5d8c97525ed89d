package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"positionguard/src/model"
)

type ExceptionFinder interface {
	FindByTicker(ctx context.Context, ticker string, limit int) ([]model.Exception, error)
}

// ExceptionsHandler returns the captured failures for one ticker.
func ExceptionsHandler(repo ExceptionFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticker := model.NormalizeTicker(r.URL.Query().Get("ticker"))
		if ticker == "" {
			http.Error(w, "ticker is required", http.StatusBadRequest)
			return
		}
		limit, ok := parsePositive(w, r.URL.Query().Get("limit"), "limit", 50)
		if !ok {
			return
		}

		excs, err := repo.FindByTicker(r.Context(), ticker, limit)
		if err != nil {
			logger.WithError(err).WithField("ticker", ticker).Error("failed to load exceptions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, excs)
	}
}
