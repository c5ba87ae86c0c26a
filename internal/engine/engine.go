package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"tradecore/internal/events"
	"tradecore/internal/market"
	"tradecore/internal/mode"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
	"tradecore/internal/state"
	"tradecore/internal/strategy"
)

// State is the engine lifecycle phase.
type State string

const (
	StateCreated      State = "created"
	StateInitializing State = "initializing"
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

var ErrInvalidTransition = errors.New("invalid engine state transition")

// transitions lists the allowed next states. StateError is terminal.
var transitions = map[State][]State{
	StateCreated:      {StateInitializing},
	StateInitializing: {StateStopped, StateError},
	StateStopped:      {StateRunning},
	StateRunning:      {StatePaused, StateStopping, StateError},
	StatePaused:       {StateRunning, StateStopping, StateError},
	StateStopping:     {StateStopped, StateError},
}

// maxEventsPerTick bounds how many bus events one tick drains so a
// burst cannot starve the maintenance hooks.
const maxEventsPerTick = 64

// Config tunes the engine loop.
type Config struct {
	TickInterval time.Duration
	StopGrace    time.Duration
	// TradeAmount is the base order size for confirmed signals before
	// risk adjustment.
	TradeAmount float64
	Version     string
}

func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		StopGrace:    10 * time.Second,
		TradeAmount:  1,
		Version:      "dev",
	}
}

// Deps bundles the components the engine composes.
type Deps struct {
	Bus       *events.Bus
	Modes     *mode.Manager
	Orders    *order.Manager
	Risk      *risk.Manager
	Signals   *signal.Processor
	Runner    *strategy.Runner
	Positions *state.Manager
	Market    *market.Cache
	Metrics   *monitor.SystemMetrics
}

// Engine drives the trading loop and owns the lifecycle state machine.
type Engine struct {
	cfg Config

	bus       *events.Bus
	modes     *mode.Manager
	orders    *order.Manager
	riskMgr   *risk.Manager
	signals   *signal.Processor
	runner    *strategy.Runner
	positions *state.Manager
	cache     *market.Cache
	metrics   *monitor.SystemMetrics

	mu          sync.Mutex
	st          State
	lastError   string
	startTime   time.Time
	totalTrades int
	instanceID  string

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(cfg Config, deps Deps) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	if cfg.TradeAmount <= 0 {
		cfg.TradeAmount = 1
	}
	return &Engine{
		cfg:        cfg,
		bus:        deps.Bus,
		modes:      deps.Modes,
		orders:     deps.Orders,
		riskMgr:    deps.Risk,
		signals:    deps.Signals,
		runner:     deps.Runner,
		positions:  deps.Positions,
		cache:      deps.Market,
		metrics:    deps.Metrics,
		st:         StateCreated,
		instanceID: instanceID(),
	}
}

// instanceID derives a stable id for this host, falling back to a
// random one when the machine id is unavailable.
func instanceID() string {
	id, err := machineid.ProtectedID("tradecore")
	if err != nil {
		return "ephemeral-" + uuid.NewString()[:8]
	}
	return id[:16]
}

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

func (e *Engine) transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitionLocked(to)
}

// transitionFrom performs the transition only when the engine is in
// the expected source state. Start and Resume share StateRunning as a
// target, so the table alone cannot tell them apart.
func (e *Engine) transitionFrom(from, to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.st, to)
	}
	return e.transitionLocked(to)
}

func (e *Engine) transitionLocked(to State) error {
	for _, allowed := range transitions[e.st] {
		if allowed == to {
			e.st = to
			e.bus.Publish(events.EventEngineState, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.st, to)
}

func (e *Engine) fail(reason string) {
	e.mu.Lock()
	e.st = StateError
	e.lastError = reason
	e.mu.Unlock()
	e.bus.Publish(events.EventEngineState, StateError)
	log.Printf("engine: entered error state: %s", reason)
}

// Initialize loads persisted state and prepares components.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.transition(StateInitializing); err != nil {
		return err
	}

	if e.positions != nil {
		if err := e.positions.Load(ctx); err != nil {
			e.fail(fmt.Sprintf("load positions: %v", err))
			return fmt.Errorf("load positions: %w", err)
		}
		for _, p := range e.positions.Positions() {
			price := p.AvgPrice
			if e.cache != nil {
				if last, ok := e.cache.LastPrice(p.Symbol); ok {
					price = last
				}
			}
			e.riskMgr.UpdatePosition(risk.PositionInfo{
				Symbol:       p.Symbol,
				Amount:       p.Qty,
				EntryPrice:   p.AvgPrice,
				CurrentPrice: price,
				MarketValue:  p.Qty * price,
			})
		}
	}

	if err := e.transition(StateStopped); err != nil {
		return err
	}
	log.Printf("engine: initialized, instance %s", e.instanceID)
	return nil
}

// Start launches workers and the tick loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transitionFrom(StateStopped, StateRunning); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.loopCancel = cancel
	e.loopDone = make(chan struct{})
	e.startTime = time.Now()
	done := e.loopDone
	e.mu.Unlock()

	e.orders.Start(loopCtx)
	if e.runner != nil {
		e.runner.Start(loopCtx)
	}

	confirmed, cancelConfirmed := e.bus.Subscribe(events.EventSignalConfirmed, 128)
	filled, cancelFilled := e.bus.Subscribe(events.EventOrderFilled, 128)

	go func() {
		defer close(done)
		defer cancelConfirmed()
		defer cancelFilled()
		defer func() {
			if r := recover(); r != nil {
				e.fail(fmt.Sprintf("tick loop panic: %v", r))
			}
		}()

		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if e.State() != StateRunning {
					continue
				}
				e.modes.ProcessCycle(loopCtx)
				e.signals.ProcessCycle()
				e.orders.ProcessCycle()
				e.drainEvents(loopCtx, confirmed, filled)
			}
		}
	}()

	log.Printf("engine: running")
	return nil
}

// drainEvents consumes a bounded batch of pending bus events.
func (e *Engine) drainEvents(ctx context.Context, confirmed, filled <-chan any) {
	for i := 0; i < maxEventsPerTick; i++ {
		select {
		case payload := <-confirmed:
			if proc, ok := payload.(signal.Processed); ok {
				e.handleConfirmedSignal(ctx, proc)
			}
		case payload := <-filled:
			if snap, ok := payload.(order.Order); ok {
				e.handleFill(ctx, snap)
			}
		default:
			return
		}
	}
}

// Pause suspends signal intake and maintenance without stopping workers.
func (e *Engine) Pause() error {
	if err := e.transition(StatePaused); err != nil {
		return err
	}
	log.Printf("engine: paused")
	return nil
}

// Resume continues from a pause.
func (e *Engine) Resume() error {
	if err := e.transitionFrom(StatePaused, StateRunning); err != nil {
		return err
	}
	log.Printf("engine: resumed")
	return nil
}

// Stop cancels the loop and waits for in-flight work up to the grace
// period. Calling Stop on a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.st == StateStopped || e.st == StateStopping {
		e.mu.Unlock()
		return nil
	}
	if err := e.transitionLocked(StateStopping); err != nil {
		e.mu.Unlock()
		return err
	}
	cancel := e.loopCancel
	done := e.loopDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(e.cfg.StopGrace):
			log.Printf("engine: loop did not stop within grace period")
		}
	}
	e.orders.Stop()

	if err := e.transition(StateStopped); err != nil {
		return err
	}
	log.Printf("engine: stopped")
	return nil
}
