package model

import "github.com/shopspring/decimal"

type MarketOrderRequest struct {
	Ticker     string
	Side       OrderSide
	Quantity   int64
	Settlement SettlementClass
	ClientTag  string
}

type TriggerOrderRequest struct {
	Ticker       string
	Side         OrderSide
	Quantity     int64
	TriggerPrice decimal.Decimal
	Settlement   SettlementClass
	ClientTag    string
}

// OrderConfirmation is returned for a filled market order. AveragePrice may be
// zero when the broker does not report the fill price synchronously.
type OrderConfirmation struct {
	OrderID      string
	AveragePrice decimal.Decimal
}

type BrokerPosition struct {
	Ticker     string
	Direction  Direction
	Quantity   int64
	AvgPrice   decimal.Decimal
	Settlement SettlementClass
}

type BrokerTriggerOrder struct {
	Ticker       string
	TriggerID    string
	TriggerPrice decimal.Decimal
	Side         OrderSide
	Quantity     int64
}
