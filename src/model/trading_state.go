package model

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TriggerBinding ties an open position to the broker-side stop order protecting it.
type TriggerBinding struct {
	TriggerID          string          `json:"broker_trigger_id"`
	TriggerPrice       decimal.Decimal `json:"trigger_price"`
	ProtectedDirection Direction       `json:"protected_direction"`
	CreatedAt          time.Time       `json:"created_at"`
}

type DailyTickers struct {
	Long  []string `json:"long"`
	Short []string `json:"short"`
}

func (d DailyTickers) Contains(ticker string, dir Direction) bool {
	for _, t := range d.list(dir) {
		if t == ticker {
			return true
		}
	}
	return false
}

func (d DailyTickers) list(dir Direction) []string {
	if dir == DirectionShort {
		return d.Short
	}
	return d.Long
}

// Add keeps the set sorted and duplicate free. Returns false if already present.
func (d *DailyTickers) Add(ticker string, dir Direction) bool {
	if d.Contains(ticker, dir) {
		return false
	}
	l := append(d.list(dir), ticker)
	sort.Strings(l)
	d.set(dir, l)
	return true
}

func (d *DailyTickers) Remove(ticker string, dir Direction) bool {
	src := d.list(dir)
	out := make([]string, 0, len(src))
	found := false
	for _, t := range src {
		if t == ticker {
			found = true
			continue
		}
		out = append(out, t)
	}
	d.set(dir, out)
	return found
}

func (d *DailyTickers) set(dir Direction, l []string) {
	if dir == DirectionShort {
		d.Short = l
		return
	}
	d.Long = l
}

func (d DailyTickers) Clone() DailyTickers {
	return DailyTickers{
		Long:  append([]string{}, d.Long...),
		Short: append([]string{}, d.Short...),
	}
}

// TradingState is the whole persisted aggregate for one account.
type TradingState struct {
	Date         string               `json:"date"`
	Positions    map[string]*Position `json:"positions"`
	DailyTickers DailyTickers         `json:"daily_tickers"`
}

func NewTradingState(date string) *TradingState {
	return &TradingState{
		Date:         date,
		Positions:    map[string]*Position{},
		DailyTickers: DailyTickers{Long: []string{}, Short: []string{}},
	}
}

func (s *TradingState) Clone() *TradingState {
	cp := &TradingState{
		Date:         s.Date,
		Positions:    make(map[string]*Position, len(s.Positions)),
		DailyTickers: s.DailyTickers.Clone(),
	}
	for k, p := range s.Positions {
		cp.Positions[k] = p.Clone()
	}
	return cp
}

// TradingStateRecord is the single durable row holding a TradingState.
type TradingStateRecord struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	Account string    `gorm:"size:100;not null;uniqueIndex:ux_trading_states_account" json:"account"`
	Date    string    `gorm:"size:10;not null" json:"date"`
	Payload string    `gorm:"type:text;not null" json:"payload"`
	SavedAt time.Time `gorm:"not null" json:"saved_at"`
}

func (TradingStateRecord) TableName() string {
	return "trading_states"
}
