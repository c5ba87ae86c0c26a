package order

import (
	"time"

	"github.com/google/uuid"

	"tradecore/pkg/exchange"
)

// Status is an order lifecycle state. Terminal states are immutable.
type Status string

const (
	StatusPending       Status = "pending"
	StatusSubmitted     Status = "submitted"
	StatusPartialFilled Status = "partial_filled"
	StatusFilled        Status = "filled"
	StatusCancelled     Status = "cancelled"
	StatusRejected      Status = "rejected"
	StatusExpired       Status = "expired"
	StatusError         Status = "error"
)

// Priority controls dequeue order. Higher values execute first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Order tracks a trade intent from submission to a terminal state.
type Order struct {
	ID              string `json:"order_id"`
	ClientOrderID   string `json:"client_order_id"`
	ExchangeOrderID string `json:"exchange_order_id,omitempty"`

	Symbol string             `json:"symbol"`
	Side   exchange.Side      `json:"side"`
	Type   exchange.OrderType `json:"order_type"`
	Amount float64            `json:"amount"`
	Price  float64            `json:"price,omitempty"`

	FilledAmount    float64 `json:"filled_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
	AveragePrice    float64 `json:"average_price"`
	TotalFee        float64 `json:"total_fee"`

	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	StrategyName string   `json:"strategy_name,omitempty"`
	Priority     Priority `json:"priority"`
	StopLoss     float64  `json:"stop_loss,omitempty"`
	TakeProfit   float64  `json:"take_profit,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
}

// New builds an order in pending state with generated ids.
func New(symbol string, side exchange.Side, typ exchange.OrderType, amount, price float64) *Order {
	id := uuid.NewString()
	now := time.Now().UTC()
	return &Order{
		ID:              id,
		ClientOrderID:   "client_" + id[:8],
		Symbol:          symbol,
		Side:            side,
		Type:            typ,
		Amount:          amount,
		Price:           price,
		RemainingAmount: amount,
		Status:          StatusPending,
		Priority:        PriorityNormal,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsActive reports whether the order can still change state.
func (o *Order) IsActive() bool {
	switch o.Status {
	case StatusPending, StatusSubmitted, StatusPartialFilled:
		return true
	}
	return false
}

// IsTerminal reports whether the order reached a final state.
func (o *Order) IsTerminal() bool { return !o.IsActive() }

// FillPercent reports filled amount as a percentage of the order size.
func (o *Order) FillPercent() float64 {
	if o.Amount == 0 {
		return 0
	}
	return o.FilledAmount / o.Amount * 100
}

// ExecutionReport records one fill applied to an order.
type ExecutionReport struct {
	ReportID        string    `json:"report_id"`
	OrderID         string    `json:"order_id"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	Price           float64   `json:"price"`
	Amount          float64   `json:"amount"`
	Fee             float64   `json:"fee"`
	TradeID         string    `json:"trade_id,omitempty"`
	IsPartial       bool      `json:"is_partial"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Statistics summarizes order flow for status queries.
type Statistics struct {
	TotalOrders      int            `json:"total_orders"`
	ActiveOrders     int            `json:"active_orders"`
	StatusBreakdown  map[Status]int `json:"status_breakdown"`
	FillRatePct      float64        `json:"fill_rate_pct"`
	AvgExecutionSecs float64        `json:"avg_execution_secs"`
	TotalVolume      float64        `json:"total_volume"`
	TotalFees        float64        `json:"total_fees"`
	QueueSize        int            `json:"queue_size"`
}
