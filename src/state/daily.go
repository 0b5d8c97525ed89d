package state

import (
	"context"

	"positionguard/src/model"
)

func (s *Store) AddDailyTicker(ctx context.Context, ticker string, dir model.Direction) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		return st.DailyTickers.Add(ticker, dir), nil
	})
}

func (s *Store) RemoveDailyTicker(ctx context.Context, ticker string, dir model.Direction) (bool, error) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		return st.DailyTickers.Remove(ticker, dir), nil
	})
}

func (s *Store) GetDailyTickers() model.DailyTickers {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return model.DailyTickers{Long: []string{}, Short: []string{}}
	}
	return s.state.DailyTickers.Clone()
}

func (s *Store) IsTickerTradedToday(ticker string, dir model.Direction) bool {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state != nil && s.state.DailyTickers.Contains(ticker, dir)
}

// DailyDirection reports today's intended direction for ticker. It is
// ambiguous (false) when the ticker is logged on neither or both sides.
func (s *Store) DailyDirection(ticker string) (model.Direction, bool) {
	ticker = model.NormalizeTicker(ticker)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return "", false
	}
	long := s.state.DailyTickers.Contains(ticker, model.DirectionLong)
	short := s.state.DailyTickers.Contains(ticker, model.DirectionShort)
	switch {
	case long && !short:
		return model.DirectionLong, true
	case short && !long:
		return model.DirectionShort, true
	default:
		return "", false
	}
}
