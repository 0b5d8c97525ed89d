package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"positionguard/src/model"
	"positionguard/src/repository"
)

type mockOrderSearcher struct {
	orders      []model.Order
	err         error
	options     repository.OrderSearchOptions
	calledCount int
}

func (m *mockOrderSearcher) Search(_ context.Context, options repository.OrderSearchOptions) ([]model.Order, error) {
	m.calledCount++
	m.options = options
	return m.orders, m.err
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestSearchOrdersHandler_RepoError(t *testing.T) {
	mockRepo := &mockOrderSearcher{err: assert.AnError}

	rr := serve(SearchOrdersHandler(mockRepo), "/orders")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if mockRepo.calledCount != 1 {
		t.Fatalf("expected repository to be called once, got %d", mockRepo.calledCount)
	}
}

func TestSearchOrdersHandler_Defaults(t *testing.T) {
	mockRepo := &mockOrderSearcher{}

	rr := serve(SearchOrdersHandler(mockRepo), "/orders")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	opts := mockRepo.options
	if opts.Ticker != nil || opts.Kind != nil || opts.Status != nil || opts.CreatedAfter != nil {
		t.Fatalf("expected no filters, got %+v", opts)
	}
	if opts.Limit != 20 || opts.Offset != 0 {
		t.Fatalf("expected limit 20 and offset 0, got limit=%d offset=%d", opts.Limit, opts.Offset)
	}
}

func TestSearchOrdersHandler_Success(t *testing.T) {
	orders := []model.Order{{ID: 1, Ticker: "AAPL", Kind: model.OrderKindTrigger}}
	mockRepo := &mockOrderSearcher{orders: orders}

	rr := serve(SearchOrdersHandler(mockRepo),
		"/orders?ticker=aapl&kind=trigger&status=placed&createdFrom=2026-01-01T00:00:00Z&createdTo=2026-02-01T00:00:00Z&page=2&pageSize=5")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	opts := mockRepo.options
	if opts.Ticker == nil || *opts.Ticker != "AAPL" {
		t.Fatalf("expected ticker AAPL, got %v", opts.Ticker)
	}
	if opts.Kind == nil || *opts.Kind != model.OrderKindTrigger {
		t.Fatalf("expected kind trigger, got %v", opts.Kind)
	}
	if opts.Status == nil || *opts.Status != model.OrderStatusPlaced {
		t.Fatalf("expected status placed, got %v", opts.Status)
	}
	if opts.CreatedAfter == nil || !opts.CreatedAfter.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected createdFrom %v", opts.CreatedAfter)
	}
	if opts.CreatedBefore == nil {
		t.Fatalf("expected createdTo filter to be set")
	}
	if opts.Limit != 5 || opts.Offset != 5 {
		t.Fatalf("expected limit 5 and offset 5, got limit=%d offset=%d", opts.Limit, opts.Offset)
	}
	if !strings.Contains(rr.Body.String(), `"ticker":"AAPL"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSearchOrdersHandler_BadRequests(t *testing.T) {
	for _, target := range []string{
		"/orders?page=0",
		"/orders?pageSize=abc",
		"/orders?createdFrom=invalid",
		"/orders?createdTo=2026-13-01",
	} {
		mockRepo := &mockOrderSearcher{}
		rr := serve(SearchOrdersHandler(mockRepo), target)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", target, rr.Code)
		}
		if mockRepo.calledCount != 0 {
			t.Fatalf("%s: repository should not be called", target)
		}
	}
}

type mockExceptionFinder struct {
	excs   []model.Exception
	err    error
	ticker string
	limit  int
}

func (m *mockExceptionFinder) FindByTicker(_ context.Context, ticker string, limit int) ([]model.Exception, error) {
	m.ticker = ticker
	m.limit = limit
	return m.excs, m.err
}

func TestExceptionsHandler(t *testing.T) {
	repo := &mockExceptionFinder{excs: []model.Exception{{Ticker: "AAPL", Module: "tp_sl", Message: "boom"}}}

	rr := serve(ExceptionsHandler(repo), "/exceptions?ticker=aapl&limit=3")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if repo.ticker != "AAPL" || repo.limit != 3 {
		t.Fatalf("unexpected query ticker=%s limit=%d", repo.ticker, repo.limit)
	}
	if !strings.Contains(rr.Body.String(), `"message":"boom"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}

	if rr := serve(ExceptionsHandler(repo), "/exceptions"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without ticker, got %d", rr.Code)
	}

	repo.err = assert.AnError
	if rr := serve(ExceptionsHandler(repo), "/exceptions?ticker=AAPL"); rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
