// Package statetest builds loaded in-memory Stores for tests of the
// packages that sit on top of src/state.
package statetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"positionguard/src/model"
	"positionguard/src/state"
)

// MemRepo keeps the last saved record in memory.
type MemRepo struct {
	mu    sync.Mutex
	rec   *model.TradingStateRecord
	saves int
}

func (m *MemRepo) Load(_ context.Context, _ string) (*model.TradingStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return nil, nil
	}
	cp := *m.rec
	return &cp, nil
}

func (m *MemRepo) Save(_ context.Context, rec *model.TradingStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.rec = &cp
	m.saves++
	return nil
}

func (m *MemRepo) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type UTCCalendar struct{}

func (UTCCalendar) TradingDate(t time.Time) string { return t.UTC().Format("2006-01-02") }

// NewStore returns a loaded Store backed by a MemRepo.
func NewStore(t *testing.T, log *logrus.Entry) (*state.Store, *MemRepo) {
	t.Helper()
	repo := &MemRepo{}
	store := state.NewStore(log, repo, UTCCalendar{}, state.Config{AccountID: "test"})
	require.NoError(t, store.Load(context.Background()))
	return store, repo
}

// Open records an intraday entry fill.
func Open(t *testing.T, store *state.Store, ticker string, dir model.Direction, qty int64, entry string) {
	t.Helper()
	OpenClass(t, store, ticker, dir, qty, entry, model.SettlementIntraday)
}

func OpenClass(t *testing.T, store *state.Store, ticker string, dir model.Direction, qty int64, entry string, class model.SettlementClass) {
	t.Helper()
	require.NoError(t, store.AddPosition(context.Background(), model.PositionEntry{
		Ticker:     ticker,
		Direction:  dir,
		Quantity:   qty,
		EntryPrice: decimal.RequireFromString(entry),
		Settlement: class,
	}))
}

// Bind attaches a trigger binding to an open position.
func Bind(t *testing.T, store *state.Store, ticker, id, price string) {
	t.Helper()
	ok, err := store.AddTrigger(context.Background(), ticker, model.TriggerBinding{TriggerID: id, TriggerPrice: decimal.RequireFromString(price)})
	require.NoError(t, err)
	require.True(t, ok)
}
