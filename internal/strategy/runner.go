package strategy

import (
	"context"
	"log"
	"sync"

	"tradecore/internal/events"
	"tradecore/internal/signal"
	"tradecore/pkg/db"
	"tradecore/pkg/exchange"
)

// SignalSink receives raw signals produced by strategies. Satisfied by
// *signal.Processor.
type SignalSink interface {
	Process(s signal.Signal, ctx signal.Context) *signal.Processed
}

// ContextFunc supplies the market snapshot the signal pipeline filters
// against.
type ContextFunc func(symbol string) signal.Context

// Runner feeds price ticks to strategies and pushes their signals into
// the pipeline.
type Runner struct {
	mu         sync.Mutex
	strategies []Strategy
	paused     map[string]bool
	bus        *events.Bus
	sink       SignalSink
	ctxFn      ContextFunc
	db         *db.Database
}

func NewRunner(bus *events.Bus, sink SignalSink, ctxFn ContextFunc, database *db.Database) *Runner {
	return &Runner{
		paused: make(map[string]bool),
		bus:    bus,
		sink:   sink,
		ctxFn:  ctxFn,
		db:     database,
	}
}

// Add registers a strategy implementation.
func (r *Runner) Add(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

// Pause stops tick delivery to one strategy without removing it.
func (r *Runner) Pause(id string, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused[id] = paused
}

// Strategies lists registered strategy ids and names.
func (r *Runner) Strategies() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.strategies))
	for _, s := range r.strategies {
		out[s.ID()] = s.Name()
	}
	return out
}

// Start restores persisted strategy state and begins consuming ticks.
// State is saved back when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.restoreStates(ctx)

	ch, cancel := r.bus.Subscribe(events.EventPriceTick, 256)
	go func() {
		defer cancel()
		defer r.saveStates()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-ch:
				if tick, ok := payload.(exchange.Tick); ok {
					r.handleTick(tick)
				}
			}
		}
	}()
}

func (r *Runner) handleTick(tick exchange.Tick) {
	r.mu.Lock()
	strategies := make([]Strategy, len(r.strategies))
	copy(strategies, r.strategies)
	paused := r.paused
	r.mu.Unlock()

	for _, s := range strategies {
		if paused[s.ID()] {
			continue
		}
		sig, err := s.OnTick(tick.Symbol, tick.Price)
		if err != nil {
			log.Printf("strategy %s tick error: %v", s.Name(), err)
			continue
		}
		if sig == nil {
			continue
		}
		var sctx signal.Context
		if r.ctxFn != nil {
			sctx = r.ctxFn(sig.Symbol)
		}
		r.sink.Process(*sig, sctx)
	}
}

func (r *Runner) restoreStates(ctx context.Context) {
	if r.db == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.strategies {
		state, err := r.db.LoadStrategyState(ctx, s.ID())
		if err != nil {
			log.Printf("strategy %s: load state failed: %v", s.Name(), err)
			continue
		}
		if state == nil {
			continue
		}
		if err := s.SetState(state); err != nil {
			log.Printf("strategy %s: restore state failed: %v", s.Name(), err)
			continue
		}
		log.Printf("strategy %s: state restored", s.Name())
	}
}

func (r *Runner) saveStates() {
	if r.db == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.strategies {
		state, err := s.GetState()
		if err != nil {
			log.Printf("strategy %s: get state failed: %v", s.Name(), err)
			continue
		}
		if err := r.db.SaveStrategyState(context.Background(), s.ID(), state); err != nil {
			log.Printf("strategy %s: save state failed: %v", s.Name(), err)
		}
	}
}
