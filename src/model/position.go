package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection accepts the broker/CLI spellings (long, buy, short, sell).
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "BUY":
		return DirectionLong, true
	case "SHORT", "SELL":
		return DirectionShort, true
	default:
		return "", false
	}
}

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// EntrySide is the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide is the order side that closes (or protects) a position in this direction.
func (d Direction) ExitSide() OrderSide {
	if d == DirectionShort {
		return SideBuy
	}
	return SideSell
}

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// ProtectedDirection maps a trigger order side to the position it protects:
// a sell-side stop protects a LONG, a buy-side stop protects a SHORT.
func (s OrderSide) ProtectedDirection() Direction {
	if s == SideBuy {
		return DirectionShort
	}
	return DirectionLong
}

func ParseOrderSide(s string) (OrderSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy, true
	case "SELL", "S":
		return SideSell, true
	default:
		return "", false
	}
}

// SettlementClass tells whether a position must be flat by session end.
type SettlementClass string

const (
	SettlementIntraday SettlementClass = "INTRADAY"
	SettlementDelivery SettlementClass = "DELIVERY"
	SettlementUnknown  SettlementClass = "UNKNOWN"
)

// ParseSettlementClass maps broker product codes onto the two classes.
// Anything unrecognised is SettlementUnknown, which is handled as intraday.
func ParseSettlementClass(s string) SettlementClass {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INTRADAY", "MIS", "I", "DAY":
		return SettlementIntraday
	case "DELIVERY", "CNC", "D", "NRML", "GTC":
		return SettlementDelivery
	default:
		return SettlementUnknown
	}
}

// CarriesOvernight is true only for an explicit delivery marker.
func (c SettlementClass) CarriesOvernight() bool {
	return c == SettlementDelivery
}

type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// NormalizeTicker is the single place tickers get case-normalized.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

type Position struct {
	Ticker       string          `json:"ticker"`
	Direction    Direction       `json:"direction"`
	Quantity     int64           `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	Settlement   SettlementClass `json:"settlement_class"`
	BestPrice    decimal.Decimal `json:"best_price_seen"`
	EnteredAt    time.Time       `json:"entry_timestamp"`
	Status       PositionStatus  `json:"status"`
	Confirmation string          `json:"order_confirmation_id,omitempty"`
	Exit         *PositionExit   `json:"exit,omitempty"`
	Trigger      *TriggerBinding `json:"trigger,omitempty"`
}

type PositionExit struct {
	Price        decimal.Decimal `json:"exit_price"`
	Reason       string          `json:"exit_reason,omitempty"`
	Confirmation string          `json:"exit_confirmation,omitempty"`
	ExitedAt     time.Time       `json:"exit_timestamp"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl"`
}

func (p *Position) IsOpen() bool {
	return p != nil && p.Status == PositionStatusOpen
}

// RealizedPnL is (exit-entry)*qty for LONG and (entry-exit)*qty for SHORT.
func RealizedPnL(dir Direction, entry, exit decimal.Decimal, qty int64) decimal.Decimal {
	q := decimal.NewFromInt(qty)
	if dir == DirectionShort {
		return entry.Sub(exit).Mul(q)
	}
	return exit.Sub(entry).Mul(q)
}

// Clone returns a deep copy; callers never get references into the store.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Exit != nil {
		e := *p.Exit
		cp.Exit = &e
	}
	if p.Trigger != nil {
		t := *p.Trigger
		cp.Trigger = &t
	}
	return &cp
}

// PositionEntry carries the arguments of a recorded entry fill.
type PositionEntry struct {
	Ticker       string
	Direction    Direction
	Quantity     int64
	EntryPrice   decimal.Decimal
	Settlement   SettlementClass
	EnteredAt    time.Time // zero means now
	Confirmation string
}

// ExitDetails turns a removal into a soft close.
type ExitDetails struct {
	Price        decimal.Decimal
	Reason       string
	Confirmation string
}
