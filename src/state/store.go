// Package state owns the persisted TradingState aggregate. Every other
// component reads and mutates positions, trigger bindings and the daily
// ticker log through Store.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"positionguard/src/model"
)

var (
	ErrNotLoaded       = errors.New("trading state not loaded")
	ErrUnknownTicker   = errors.New("unknown ticker")
	ErrInvalidPosition = errors.New("invalid position")
)

type Repository interface {
	Load(ctx context.Context, account string) (*model.TradingStateRecord, error)
	Save(ctx context.Context, rec *model.TradingStateRecord) error
}

type Calendar interface {
	TradingDate(t time.Time) string
}

type Store struct {
	log  *logrus.Entry
	repo Repository
	cal  Calendar
	cfg  Config
	now  func() time.Time

	mu    sync.Mutex
	state *model.TradingState
}

func NewStore(log *logrus.Entry, repo Repository, cal Calendar, cfg Config) *Store {
	return &Store{
		log:  log.WithField("component", "state"),
		repo: repo,
		cal:  cal,
		cfg:  cfg,
		now:  time.Now,
	}
}

// WithClock replaces the wall clock. Must be called before Load.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) today() string {
	return s.cal.TradingDate(s.now())
}

// Load reads the persisted aggregate and applies the rollover rules:
// no record starts fresh, a stale date or a same-day record idle longer
// than the inactivity threshold forces a reset.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	rec, err := s.repo.Load(ctx, s.cfg.AccountID)
	if err != nil {
		return fmt.Errorf("load trading state: %w", err)
	}

	if rec == nil {
		fresh := model.NewTradingState(today)
		if err := s.persist(ctx, fresh); err != nil {
			return err
		}
		s.state = fresh
		s.log.WithField("date", today).Info("No persisted trading state, starting fresh")
		return nil
	}

	loaded := model.NewTradingState(rec.Date)
	if err := json.Unmarshal([]byte(rec.Payload), loaded); err != nil {
		s.log.WithError(err).WithField("payload", rec.Payload).
			Error("Persisted trading state is unreadable, starting fresh; reconciliation will rebuild positions")
		fresh := model.NewTradingState(today)
		if err := s.persist(ctx, fresh); err != nil {
			return err
		}
		s.state = fresh
		return nil
	}
	if loaded.Positions == nil {
		loaded.Positions = map[string]*model.Position{}
	}
	s.state = loaded

	idle := s.now().Sub(rec.SavedAt)
	switch {
	case loaded.Date != today:
		s.log.WithFields(logrus.Fields{"stored_date": loaded.Date, "today": today}).
			Info("Stored trading date is stale, rolling over")
		_, err = s.resetLocked(ctx, true)
	case s.cfg.InactivityThreshold > 0 && idle > s.cfg.InactivityThreshold:
		s.log.WithFields(logrus.Fields{"idle": idle.String(), "threshold": s.cfg.InactivityThreshold.String()}).
			Warn("Trading state idle past threshold, treating as crash restart")
		_, err = s.resetLocked(ctx, true)
	}
	return err
}

func (s *Store) persist(ctx context.Context, st *model.TradingState) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode trading state: %w", err)
	}
	rec := &model.TradingStateRecord{
		Account: s.cfg.AccountID,
		Date:    st.Date,
		Payload: string(payload),
		SavedAt: s.now().UTC(),
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save trading state: %w", err)
	}
	return nil
}

// mutate applies fn to a copy, persists it and only then swaps it in.
// fn returning false means nothing changed and nothing is written.
func (s *Store) mutate(ctx context.Context, fn func(st *model.TradingState) (bool, error)) (bool, error) {
	if s.state == nil {
		return false, ErrNotLoaded
	}
	next := s.state.Clone()
	changed, err := fn(next)
	if err != nil || !changed {
		return changed, err
	}
	if err := s.persist(ctx, next); err != nil {
		return false, err
	}
	s.state = next
	return true, nil
}

// AddPosition records an entry fill. Re-adding an open position in the same
// direction keeps its best price and trigger binding.
func (s *Store) AddPosition(ctx context.Context, entry model.PositionEntry) error {
	ticker := model.NormalizeTicker(entry.Ticker)
	if ticker == "" || !entry.Direction.Valid() || entry.Quantity <= 0 || !entry.EntryPrice.IsPositive() {
		return fmt.Errorf("%w: ticker=%q direction=%q qty=%d price=%s",
			ErrInvalidPosition, entry.Ticker, entry.Direction, entry.Quantity, entry.EntryPrice)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		enteredAt := entry.EnteredAt
		if enteredAt.IsZero() {
			enteredAt = s.now().UTC()
		}
		settlement := entry.Settlement
		if settlement == "" {
			settlement = model.SettlementUnknown
		}

		p := &model.Position{
			Ticker:       ticker,
			Direction:    entry.Direction,
			Quantity:     entry.Quantity,
			EntryPrice:   entry.EntryPrice,
			Settlement:   settlement,
			BestPrice:    entry.EntryPrice,
			EnteredAt:    enteredAt,
			Status:       model.PositionStatusOpen,
			Confirmation: entry.Confirmation,
		}
		if prev, ok := st.Positions[ticker]; ok && prev.IsOpen() && prev.Direction == entry.Direction {
			if !prev.BestPrice.IsZero() {
				p.BestPrice = prev.BestPrice
			}
			p.Trigger = prev.Trigger
		}
		st.Positions[ticker] = p
		st.DailyTickers.Add(ticker, entry.Direction)
		return true, nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"ticker":    ticker,
		"action":    "add_position",
		"direction": entry.Direction,
		"qty":       entry.Quantity,
		"price":     entry.EntryPrice.String(),
	}).Info("Position recorded")
	return nil
}

// RemovePosition soft-closes the position when exit is given, otherwise
// hard-deletes it. Reports whether a record existed.
func (s *Store) RemovePosition(ctx context.Context, ticker string, exit *model.ExitDetails) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	var pnl decimal.Decimal
	existed, err := s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		p, ok := st.Positions[ticker]
		if !ok {
			return false, nil
		}
		if exit == nil {
			delete(st.Positions, ticker)
			return true, nil
		}
		pnl = model.RealizedPnL(p.Direction, p.EntryPrice, exit.Price, p.Quantity)
		p.Status = model.PositionStatusClosed
		p.Exit = &model.PositionExit{
			Price:        exit.Price,
			Reason:       exit.Reason,
			Confirmation: exit.Confirmation,
			ExitedAt:     s.now().UTC(),
			RealizedPnL:  pnl,
		}
		return true, nil
	})
	if err != nil || !existed {
		return existed, err
	}

	fields := logrus.Fields{"ticker": ticker, "action": "remove_position"}
	if exit != nil {
		fields["price"] = exit.Price.String()
		fields["reason"] = exit.Reason
		fields["realized_pnl"] = pnl.String()
		s.log.WithFields(fields).Info("Position closed")
	} else {
		s.log.WithFields(fields).Info("Position deleted")
	}
	return true, nil
}

func (s *Store) UpdatePositionQuantity(ctx context.Context, ticker string, qty int64) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("%w: quantity %d", ErrInvalidPosition, qty)
	}
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		p, ok := st.Positions[ticker]
		if !ok {
			return false, nil
		}
		p.Quantity = qty
		return true, nil
	})
}

func (s *Store) UpdateBestPrice(ctx context.Context, ticker string, price decimal.Decimal) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		p, ok := st.Positions[ticker]
		if !ok {
			return false, nil
		}
		p.BestPrice = price
		return true, nil
	})
}

// ReplacePosition overwrites a position wholesale with broker truth. The
// trigger binding is dropped when the direction changes.
func (s *Store) ReplacePosition(ctx context.Context, p model.Position) error {
	p.Ticker = model.NormalizeTicker(p.Ticker)
	if p.Ticker == "" || !p.Direction.Valid() || p.Quantity <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidPosition, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		next := p.Clone()
		if prev, ok := st.Positions[p.Ticker]; ok && prev.Direction == p.Direction && next.Trigger == nil {
			next.Trigger = prev.Trigger
		}
		if next.Status == "" {
			next.Status = model.PositionStatusOpen
		}
		if next.BestPrice.IsZero() {
			next.BestPrice = next.EntryPrice
		}
		st.Positions[p.Ticker] = next
		return true, nil
	})
	return err
}

func (s *Store) GetPosition(ticker string) (model.Position, bool) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return model.Position{}, false
	}
	p, ok := s.state.Positions[ticker]
	if !ok {
		return model.Position{}, false
	}
	return *p.Clone(), true
}

// GetAllPositions includes soft-closed records.
func (s *Store) GetAllPositions() map[string]model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]model.Position{}
	if s.state == nil {
		return out
	}
	for k, p := range s.state.Positions {
		out[k] = *p.Clone()
	}
	return out
}

// GetOpenPositions returns open positions ordered by ticker.
func (s *Store) GetOpenPositions() []model.Position {
	return s.collect(func(p *model.Position) bool { return p.IsOpen() })
}

func (s *Store) GetPositionsByType(dir model.Direction) []model.Position {
	return s.collect(func(p *model.Position) bool { return p.IsOpen() && p.Direction == dir })
}

func (s *Store) collect(keep func(p *model.Position) bool) []model.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Position{}
	if s.state == nil {
		return out
	}
	for _, p := range s.state.Positions {
		if keep(p) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Snapshot is a deep copy of the whole aggregate.
func (s *Store) Snapshot() *model.TradingState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return nil
	}
	return s.state.Clone()
}

func (s *Store) Date() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return ""
	}
	return s.state.Date
}
