package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a strategy instance from a validated config entry.
type Constructor func(cfg Config) (Strategy, error)

// Registry maps strategy type names to constructors. Configs naming an
// unregistered type are rejected before anything runs.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with all built-in strategy types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ma_cross", func(cfg Config) (Strategy, error) {
		return NewMACross(cfg)
	})
	r.Register("rsi", func(cfg Config) (Strategy, error) {
		return NewRSI(cfg)
	})
	return r
}

// Register adds a constructor for a strategy type.
func (r *Registry) Register(typ string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typ] = ctor
}

// Types lists registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for t := range r.constructors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs one strategy from its config.
func (r *Registry) Build(cfg Config) (Strategy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("strategy config missing id")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("strategy %s: missing symbol", cfg.ID)
	}
	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %s: unknown type %q (registered: %v)", cfg.ID, cfg.Type, r.Types())
	}
	return ctor(cfg)
}

// BuildAll constructs every active strategy, failing fast on the first
// invalid entry so bad configs never reach the tick loop.
func (r *Registry) BuildAll(configs []Config) ([]Strategy, error) {
	seen := make(map[string]bool, len(configs))
	var out []Strategy
	for _, cfg := range configs {
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate strategy id %q", cfg.ID)
		}
		seen[cfg.ID] = true
		if !cfg.IsActive {
			continue
		}
		s, err := r.Build(cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
