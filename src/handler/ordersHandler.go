package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionguard/src/model"
	"positionguard/src/repository"
)

type OrderSearcher interface {
	Search(ctx context.Context, options repository.OrderSearchOptions) ([]model.Order, error)
}

// SearchOrdersHandler lists journaled orders, newest first.
// Supports pagination and filters (ticker, kind, status, createdFrom, createdTo).
func SearchOrdersHandler(repo OrderSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := repository.OrderSearchOptions{}

		if v := q.Get("ticker"); v != "" {
			ticker := model.NormalizeTicker(v)
			opts.Ticker = &ticker
		}
		if v := q.Get("kind"); v != "" {
			opts.Kind = &v
		}
		if v := q.Get("status"); v != "" {
			opts.Status = &v
		}

		var ok bool
		if opts.CreatedAfter, ok = parseTime(w, q.Get("createdFrom"), "createdFrom"); !ok {
			return
		}
		if opts.CreatedBefore, ok = parseTime(w, q.Get("createdTo"), "createdTo"); !ok {
			return
		}

		page, ok := parsePositive(w, q.Get("page"), "page", 1)
		if !ok {
			return
		}
		pageSize, ok := parsePositive(w, q.Get("pageSize"), "pageSize", 20)
		if !ok {
			return
		}
		opts.Limit = pageSize
		opts.Offset = (page - 1) * pageSize

		orders, err := repo.Search(r.Context(), opts)
		if err != nil {
			logger.WithError(err).Error("failed to search orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, orders)
	}
}

func parseTime(w http.ResponseWriter, raw, name string) (*time.Time, bool) {
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return nil, false
	}
	return &parsed, true
}

func parsePositive(w http.ResponseWriter, raw, name string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("failed to encode response")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
