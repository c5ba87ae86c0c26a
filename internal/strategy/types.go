package strategy

import (
	"encoding/json"

	"tradecore/internal/signal"
)

// Strategy turns price updates into raw trade signals.
type Strategy interface {
	// ID returns the unique instance ID.
	ID() string
	// Name returns the human-readable name.
	Name() string
	// Symbol returns the symbol this instance trades.
	Symbol() string
	// OnTick processes a new price update. A nil signal means no
	// actionable change on this tick.
	OnTick(symbol string, price float64) (*signal.Signal, error)

	// GetState returns the serializable state of the strategy.
	GetState() (json.RawMessage, error)
	// SetState restores the state of the strategy.
	SetState(data json.RawMessage) error
}
