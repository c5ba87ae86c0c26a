package risk

import (
	"time"
)

// Action is what a fired rule asks the caller to do with the trade.
type Action string

const (
	ActionAllow         Action = "allow"
	ActionReduce        Action = "reduce"
	ActionBlock         Action = "block"
	ActionEmergencyStop Action = "emergency_stop"
)

// severity orders actions so conflicting rules resolve to the most
// restrictive one.
var severity = map[Action]int{
	ActionAllow:         0,
	ActionReduce:        1,
	ActionBlock:         2,
	ActionEmergencyStop: 3,
}

// Severity returns the restrictiveness rank of the action.
func (a Action) Severity() int { return severity[a] }

// Kind selects how a rule's observed value is computed.
type Kind string

const (
	KindBalance        Kind = "balance"         // allocation ratio after the trade
	KindPositionCount  Kind = "position_count"  // open positions after the trade
	KindPositionSize   Kind = "position_size"   // trade value as portfolio fraction
	KindTradeFrequency Kind = "trade_frequency" // trades in the last hour
	KindDailyLoss      Kind = "daily_loss"      // daily loss as portfolio fraction
)

// Rule is one configured risk limit.
type Rule struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Kind      Kind    `json:"kind" yaml:"kind"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Action    Action  `json:"action" yaml:"action"`
	Priority  int     `json:"priority" yaml:"priority"`
	Enabled   bool    `json:"enabled" yaml:"enabled"`
}

// Violation records a rule firing against a candidate trade.
type Violation struct {
	RuleID     string    `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Symbol     string    `json:"symbol"`
	Observed   float64   `json:"observed"`
	Threshold  float64   `json:"threshold"`
	OveragePct float64   `json:"overage_pct"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
}

// ValidationRequest is a candidate trade submitted for risk review.
type ValidationRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Amount float64 `json:"amount"`
	Price  float64 `json:"price"`
}

// ValidationResult is the risk verdict for one request. When Action is
// reduce, ApprovedAmount carries the trimmed amount; otherwise it
// echoes the requested amount (or zero on rejection).
type ValidationResult struct {
	Approved       bool        `json:"approved"`
	Action         Action      `json:"action"`
	Reason         string      `json:"reason"`
	ApprovedAmount float64     `json:"approved_amount"`
	Violations     []Violation `json:"violations,omitempty"`
}

// Metrics is the mutable snapshot rules evaluate against.
type Metrics struct {
	TotalBalance     float64   `json:"total_balance"`
	AllocatedBalance float64   `json:"allocated_balance"`
	AvailableBalance float64   `json:"available_balance"`
	AllocationPct    float64   `json:"allocation_pct"`
	OpenPositions    int       `json:"open_positions"`
	HourlyTrades     int       `json:"hourly_trades"`
	DailyTrades      int       `json:"daily_trades"`
	DailyPnL         float64   `json:"daily_pnl"`
	LastUpdated      time.Time `json:"last_updated"`
}

// PositionInfo is the risk view of one open position.
type PositionInfo struct {
	Symbol        string  `json:"symbol"`
	Amount        float64 `json:"amount"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Status is the operator-facing summary exposed over the API.
type Status struct {
	EmergencyStop    bool      `json:"emergency_stop"`
	EmergencyReason  string    `json:"emergency_reason,omitempty"`
	Metrics          Metrics   `json:"metrics"`
	ActiveRules      int       `json:"active_rules"`
	TotalRules       int       `json:"total_rules"`
	RecentViolations int       `json:"recent_violations"`
	OpenPositions    int       `json:"open_positions"`
	Healthy          bool      `json:"healthy"`
	LastUpdated      time.Time `json:"last_updated"`
}
