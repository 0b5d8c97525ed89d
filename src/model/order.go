package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderKindMarket  = "market"
	OrderKindTrigger = "trigger"
	OrderKindCancel  = "cancel"
)

const (
	OrderStatusPending  = "pending"
	OrderStatusFilled   = "filled"
	OrderStatusPlaced   = "placed"
	OrderStatusCanceled = "canceled"
	OrderStatusError    = "error"
)

// Order is the audit journal of every order this process sends to the broker.
type Order struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	Account       string           `gorm:"size:100;index" json:"account"`
	ClientTag     string           `gorm:"size:64;uniqueIndex" json:"client_tag"`
	BrokerOrderID string           `gorm:"size:255;index" json:"broker_order_id,omitempty"`
	Ticker        string           `gorm:"size:50;index;not null" json:"ticker"`
	Side          string           `gorm:"size:10;not null" json:"side"`
	Kind          string           `gorm:"size:20;not null" json:"kind"`
	Quantity      int64            `json:"quantity"`
	Price         *decimal.Decimal `gorm:"type:numeric" json:"price,omitempty"`
	Status        string           `gorm:"size:20;not null;default:pending" json:"status"`
	Reason        string           `gorm:"size:255" json:"reason,omitempty"`
	ErrorMessage  *string          `gorm:"type:text" json:"error_message,omitempty"`
	ExecutedAt    *time.Time       `json:"executed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}
