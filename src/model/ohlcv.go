package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is a completed OHLCV bar at any timeframe.
type Candle struct {
	Ticker string          `json:"ticker"`
	Start  time.Time       `json:"start"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

type OHLCV1m struct {
	ID       uint            `gorm:"primaryKey"`
	Symbol   string          `json:"symbol"   gorm:"type:varchar(50);not null;uniqueIndex:ux_ohlcv_1m_symbol_datetime,priority:1"`
	Datetime time.Time       `json:"datetime" gorm:"not null;uniqueIndex:ux_ohlcv_1m_symbol_datetime,priority:2;index:idx_ohlcv_1m_datetime"`
	Open     decimal.Decimal `json:"open"   gorm:"type:double precision;not null"`
	High     decimal.Decimal `json:"high"   gorm:"type:double precision;not null"`
	Low      decimal.Decimal `json:"low"    gorm:"type:double precision;not null"`
	Close    decimal.Decimal `json:"close"  gorm:"type:double precision;not null"`
	Volume   decimal.Decimal `json:"volume" gorm:"type:double precision;not null"`
}

func (OHLCV1m) TableName() string {
	return "ohlcv_1m"
}

func (o OHLCV1m) Candle() Candle {
	return Candle{
		Ticker: o.Symbol,
		Start:  o.Datetime,
		Open:   o.Open,
		High:   o.High,
		Low:    o.Low,
		Close:  o.Close,
		Volume: o.Volume,
	}
}
