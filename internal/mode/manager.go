package mode

import (
	"context"
	"fmt"
	"log"
	"sync"

	"tradecore/internal/events"
	"tradecore/pkg/exchange"
)

// Drainer lets the manager wait for in-flight executions to finish
// before tearing a mode down. The order manager implements it.
type Drainer interface {
	DrainExecution(ctx context.Context) error
}

// Manager owns the active trading mode and performs atomic switches
// between registered modes.
type Manager struct {
	bus *events.Bus

	mu      sync.RWMutex
	modes   map[Mode]TradingMode
	active  TradingMode
	drainer Drainer
}

func NewManager(bus *events.Bus) *Manager {
	return &Manager{
		bus:   bus,
		modes: make(map[Mode]TradingMode),
	}
}

// Register makes a mode available for SetMode. Registering does not
// initialize it.
func (m *Manager) Register(tm TradingMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modes[tm.Mode()] = tm
}

// SetDrainer wires the component that must go idle before a switch.
func (m *Manager) SetDrainer(d Drainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainer = d
}

// SetMode switches the active mode to target. In-flight executions are
// drained first, then the old mode is cleaned up before the new one is
// initialized. If initialization fails no mode is left active and the
// error is returned.
func (m *Manager) SetMode(ctx context.Context, target Mode) error {
	m.mu.Lock()
	next, ok := m.modes[target]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMode, target)
	}
	if m.active != nil && m.active.Mode() == target {
		m.mu.Unlock()
		return nil
	}
	prev := m.active
	drainer := m.drainer
	// Detach before draining so no new executions reach the old mode.
	m.active = nil
	m.mu.Unlock()

	if prev != nil {
		if drainer != nil {
			if err := drainer.DrainExecution(ctx); err != nil {
				log.Printf("mode switch: drain interrupted: %v", err)
			}
		}
		prev.Cleanup()
		log.Printf("mode %s deactivated", prev.Mode())
	}

	if err := next.Initialize(ctx); err != nil {
		log.Printf("mode switch: %s initialization failed: %v", target, err)
		return fmt.Errorf("initialize %s mode: %w", target, err)
	}

	m.mu.Lock()
	m.active = next
	m.mu.Unlock()

	m.bus.Publish(events.EventModeChanged, target)
	log.Printf("mode %s activated", target)
	return nil
}

// Active returns the current mode, or nil when none is active.
func (m *Manager) Active() TradingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CurrentMode reports the active mode name, empty when none.
func (m *Manager) CurrentMode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Mode()
}

// ExecuteTrade forwards to the active mode.
func (m *Manager) ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error) {
	tm := m.Active()
	if tm == nil {
		return exchange.TradeReport{}, ErrNoActiveMode
	}
	return tm.ExecuteTrade(ctx, req)
}

// CancelOrder forwards to the active mode.
func (m *Manager) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	tm := m.Active()
	if tm == nil {
		return ErrNoActiveMode
	}
	return tm.CancelOrder(ctx, exchangeOrderID)
}

// GetBalance forwards to the active mode.
func (m *Manager) GetBalance(ctx context.Context, asset string) (float64, error) {
	tm := m.Active()
	if tm == nil {
		return 0, ErrNoActiveMode
	}
	return tm.GetBalance(ctx, asset)
}

// GetPositions forwards to the active mode.
func (m *Manager) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	tm := m.Active()
	if tm == nil {
		return nil, ErrNoActiveMode
	}
	return tm.GetPositions(ctx)
}

// ProcessCycle runs the active mode's periodic work, if any.
func (m *Manager) ProcessCycle(ctx context.Context) {
	if tm := m.Active(); tm != nil {
		tm.ProcessCycle(ctx)
	}
}

// Healthy reports whether an active mode exists and is healthy.
func (m *Manager) Healthy() bool {
	tm := m.Active()
	return tm != nil && tm.Healthy()
}

// Status reports the active mode's status, zero value when none.
func (m *Manager) Status() Status {
	tm := m.Active()
	if tm == nil {
		return Status{State: StateInactive}
	}
	if s, ok := tm.(interface{ GetStatus() Status }); ok {
		return s.GetStatus()
	}
	return Status{Mode: tm.Mode(), State: StateActive}
}

// Cleanup tears down the active mode if one exists.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	tm := m.active
	m.active = nil
	m.mu.Unlock()
	if tm != nil {
		tm.Cleanup()
	}
}
