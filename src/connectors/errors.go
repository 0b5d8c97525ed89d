package connectors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTriggerEqualsLastPrice = errors.New("trigger price equals last traded price")
	ErrTriggerTooClose        = errors.New("trigger price too close to market")
	ErrRateLimited            = errors.New("rate limited")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderRejected          = errors.New("order rejected")
	ErrFillUnconfirmed        = errors.New("fill not confirmed")
	ErrQuoteUnavailable       = errors.New("quote unavailable")
)

// ErrorKind classifies a broker rejection for the placement retry logic.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTriggerEqualsLastPrice
	KindTriggerTooClose
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindTriggerEqualsLastPrice:
		return "TRIGGER_EQUALS_LAST_PRICE"
	case KindTriggerTooClose:
		return "TRIGGER_TOO_CLOSE"
	case KindRateLimited:
		return "RATE_LIMITED"
	default:
		return "OTHER"
	}
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindOther
	case errors.Is(err, ErrTriggerEqualsLastPrice):
		return KindTriggerEqualsLastPrice
	case errors.Is(err, ErrTriggerTooClose):
		return KindTriggerTooClose
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindOther
	}
}

// BrokerErrorCodes maps order-routing error_type values onto sentinels.
var BrokerErrorCodes = map[string]error{
	"TRIGGER_EQUALS_LAST_PRICE": ErrTriggerEqualsLastPrice,
	"TRIGGER_TOO_CLOSE":         ErrTriggerTooClose,
	// trigger on the wrong side of the last traded price
	"TRIGGER_PRICE_INVALID": ErrTriggerTooClose,
	"RATE_LIMITED":          ErrRateLimited,
	"TOO_MANY_REQUESTS":     ErrRateLimited,
	// filled, cancelled or expired
	"ORDER_NOT_FOUND":      ErrOrderNotFound,
	"ORDER_ALREADY_CLOSED": ErrOrderNotFound,
	// risk management / margin rejections
	"ORDER_REJECTED":          ErrOrderRejected,
	"INSUFFICIENT_FUNDS":      ErrOrderRejected,
	"INSTRUMENT_NOT_TRADABLE": ErrOrderRejected,
}

// BrokerError is a rejection reported by the order-routing API.
type BrokerError struct {
	Status  int
	Code    string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	if sentinel, ok := BrokerErrorCodes[strings.ToUpper(e.Code)]; ok {
		return sentinel
	}
	switch e.Status {
	case 429:
		return ErrRateLimited
	case 404:
		return ErrOrderNotFound
	}
	return nil
}
