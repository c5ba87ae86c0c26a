// Package mode provides the pluggable execution backends (live, paper,
// backtest) behind a single interface, plus the manager that owns the
// active one.
package mode

import (
	"context"
	"errors"
	"time"

	"tradecore/pkg/exchange"
)

// Mode identifies one of the interchangeable execution backends.
type Mode string

const (
	ModeLive     Mode = "live"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

// State tracks a backend's lifecycle.
type State string

const (
	StateInactive     State = "inactive"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateError        State = "error"
)

var (
	ErrNoActiveMode  = errors.New("mode: no active trading mode")
	ErrUnknownMode   = errors.New("mode: unknown trading mode")
	ErrInsufficient  = errors.New("mode: insufficient balance")
	ErrNoPosition    = errors.New("mode: insufficient position")
	ErrOrderNotFound = errors.New("mode: order not found")
)

// TradingMode is the uniform contract every execution backend implements.
// The order manager stays mode-agnostic by only ever talking to this.
type TradingMode interface {
	Mode() Mode
	Initialize(ctx context.Context) error
	ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error

	// ProcessCycle runs the backend's per-tick maintenance.
	ProcessCycle(ctx context.Context)
	Healthy() bool
	Cleanup()
}

// Status is a read-only snapshot of a backend.
type Status struct {
	Mode           Mode       `json:"mode"`
	State          State      `json:"state"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	TradesExecuted int        `json:"trades_executed"`
	Balance        float64    `json:"balance"`
	LastError      string     `json:"last_error,omitempty"`
}

// PriceSource supplies the latest known market price per symbol.
// Paper mode uses it to price market orders.
type PriceSource interface {
	LastPrice(symbol string) (float64, bool)
}
