package state

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"positionguard/src/model"
)

// ResetForNewTradingDay starts a new trading day. Unless forced it is a no-op
// while the stored date is today. Only open DELIVERY positions survive; every
// other record, unknown settlement class included, is purged.
func (s *Store) ResetForNewTradingDay(ctx context.Context, force bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return false, ErrNotLoaded
	}
	return s.resetLocked(ctx, force)
}

func (s *Store) resetLocked(ctx context.Context, force bool) (bool, error) {
	today := s.today()
	if !force && s.state.Date == today {
		return false, nil
	}

	var kept, dropped []string
	_, err := s.mutate(ctx, func(st *model.TradingState) (bool, error) {
		next := model.NewTradingState(today)
		for ticker, p := range st.Positions {
			if p.IsOpen() && p.Settlement.CarriesOvernight() {
				next.Positions[ticker] = p
				kept = append(kept, ticker)
				continue
			}
			dropped = append(dropped, ticker)
		}
		*st = *next
		return true, nil
	})
	if err != nil {
		return false, err
	}

	sort.Strings(kept)
	sort.Strings(dropped)
	for _, ticker := range dropped {
		s.log.WithFields(logrus.Fields{"ticker": ticker, "action": "rollover"}).
			Warn("Dropping non-delivery position at rollover")
	}
	s.log.WithFields(logrus.Fields{
		"date":    today,
		"kept":    kept,
		"dropped": len(dropped),
		"forced":  force,
	}).Info("Trading day reset")
	return true, nil
}
