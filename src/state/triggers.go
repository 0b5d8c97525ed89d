package state

import (
	"context"

	"github.com/sirupsen/logrus"

	"positionguard/src/model"
)

// AddTrigger binds a confirmed broker trigger to an open position, replacing
// any previous binding. Returns false when there is no open position.
func (s *Store) AddTrigger(ctx context.Context, ticker string, binding model.TriggerBinding) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		p, ok := st.Positions[ticker]
		if !ok || !p.IsOpen() {
			return false, nil
		}
		b := binding
		if b.CreatedAt.IsZero() {
			b.CreatedAt = s.now().UTC()
		}
		if !b.ProtectedDirection.Valid() {
			b.ProtectedDirection = p.Direction
		}
		p.Trigger = &b
		return true, nil
	})
	if err != nil || !ok {
		return ok, err
	}

	s.log.WithFields(logrus.Fields{
		"ticker":     ticker,
		"action":     "add_trigger",
		"trigger_id": binding.TriggerID,
		"price":      binding.TriggerPrice.String(),
	}).Info("Trigger bound")
	return true, nil
}

func (s *Store) RemoveTrigger(ctx context.Context, ticker string) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		p, ok := st.Positions[ticker]
		if !ok || p.Trigger == nil {
			return false, nil
		}
		p.Trigger = nil
		return true, nil
	})
}

func (s *Store) GetTrigger(ticker string) (model.TriggerBinding, bool) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return model.TriggerBinding{}, false
	}
	p, ok := s.state.Positions[ticker]
	if !ok || p.Trigger == nil {
		return model.TriggerBinding{}, false
	}
	return *p.Trigger, true
}

// GetAllTriggers returns every binding keyed by ticker, including bindings
// still attached to soft-closed positions.
func (s *Store) GetAllTriggers() map[string]model.TriggerBinding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]model.TriggerBinding{}
	if s.state == nil {
		return out
	}
	for k, p := range s.state.Positions {
		if p.Trigger != nil {
			out[k] = *p.Trigger
		}
	}
	return out
}
