package signal

import (
	"time"

	"github.com/google/uuid"
)

// Action is the trade direction a signal suggests.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Type categorizes why the strategy emitted the signal.
type Type string

const (
	TypeEntry        Type = "entry"
	TypeExit         Type = "exit"
	TypeStopLoss     Type = "stop_loss"
	TypeTakeProfit   Type = "take_profit"
	TypeConfirmation Type = "confirmation"
)

// Strength buckets the scored quality of a signal.
type Strength string

const (
	StrengthWeak       Strength = "weak"
	StrengthModerate   Strength = "moderate"
	StrengthStrong     Strength = "strong"
	StrengthVeryStrong Strength = "very_strong"
)

// Status tracks a processed signal through confirmation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
	StatusExecuted  Status = "executed"
)

// Signal is a raw trade suggestion from a strategy.
type Signal struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Action       Action    `json:"action"`
	Type         Type      `json:"type"`
	Price        float64   `json:"price"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason,omitempty"`
	StrategyName string    `json:"strategy_name,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewSignal builds a raw signal stamped with the current time.
func NewSignal(symbol string, action Action, typ Type, price, confidence float64) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Action:     action,
		Type:       typ,
		Price:      price,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// Context carries the market snapshot filters and scoring read.
type Context struct {
	CurrentVolume float64
	AvgVolume     float64
	PreviousPrice float64
}

// Processed is a signal annotated with its pipeline outcome.
type Processed struct {
	Signal                Signal     `json:"signal"`
	Strength              Strength   `json:"strength"`
	Status                Status     `json:"status"`
	ConfirmationCount     int        `json:"confirmation_count"`
	RequiredConfirmations int        `json:"required_confirmations"`
	AveragedConfidence    float64    `json:"averaged_confidence"`
	CreatedAt             time.Time  `json:"created_at"`
	ExpiresAt             time.Time  `json:"expires_at"`
	ConfirmedAt           *time.Time `json:"confirmed_at,omitempty"`
	ExecutedAt            *time.Time `json:"executed_at,omitempty"`
}

// Confirmed reports whether enough corroboration arrived.
func (p *Processed) Confirmed() bool {
	return p.ConfirmationCount >= p.RequiredConfirmations
}

// Rejection describes a signal dropped by a filter.
type Rejection struct {
	Signal Signal `json:"signal"`
	Filter string `json:"filter"`
	Reason string `json:"reason"`
}

// Statistics summarizes pipeline throughput.
type Statistics struct {
	TotalSignals     int              `json:"total_signals"`
	FilteredSignals  int              `json:"filtered_signals"`
	ConfirmedSignals int              `json:"confirmed_signals"`
	ExecutedSignals  int              `json:"executed_signals"`
	ExpiredSignals   int              `json:"expired_signals"`
	PendingSignals   int              `json:"pending_signals"`
	ActiveFilters    int              `json:"active_filters"`
	StrengthCounts   map[Strength]int `json:"strength_counts"`
}
