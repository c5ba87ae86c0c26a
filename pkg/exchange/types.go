package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType denotes supported order types.
type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
	OrderTypeStopLimit  OrderType = "stop_limit"
)

// ReportStatus normalizes backend fill status into a small set.
type ReportStatus string

const (
	StatusFilled  ReportStatus = "filled"
	StatusPartial ReportStatus = "partial"
	StatusOpen    ReportStatus = "open"
)

// TradeRequest captures a trade intent sent to an execution backend.
type TradeRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Amount   float64
	Price    float64 // required for limit / stop_limit
	ClientID string  // optional client order id
}

// TradeReport is the backend ack for one execution, full or partial.
type TradeReport struct {
	ExchangeOrderID string
	TradeID         string
	Symbol          string
	Side            Side
	Status          ReportStatus
	Amount          float64 // requested amount
	FilledAmount    float64 // amount filled by this report
	Price           float64 // execution price for this report
	Fee             float64
	Timestamp       time.Time
}

// Balance is a per-asset account balance.
type Balance struct {
	Asset     string
	Total     float64
	Available float64
	Locked    float64
}

// Position is an open holding as reported by a backend.
type Position struct {
	Symbol        string
	Amount        float64
	EntryPrice    float64
	CurrentPrice  float64
	MarketValue   float64
	UnrealizedPnL float64
}

// ErrAuth marks authentication/authorization failures. These are never
// retryable; the order manager rejects instead of requeueing.
var ErrAuth = errors.New("exchange: authentication failed")

// TransportError wraps network and server-side failures that are safe to retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("exchange: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be classified as a transient
// execution failure (timeout, 5xx, connection reset).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return false
	}
	var te *TransportError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}
