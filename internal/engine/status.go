package engine

import (
	"time"

	"tradecore/internal/mode"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
)

// Status is the runtime report of the engine and its components.
type Status struct {
	State        State             `json:"state"`
	Mode         mode.Mode         `json:"mode"`
	InstanceID   string            `json:"instance_id"`
	Version      string            `json:"version"`
	StartTime    *time.Time        `json:"start_time,omitempty"`
	UptimeSecs   float64           `json:"uptime_secs"`
	TotalTrades  int               `json:"total_trades"`
	ActiveOrders int               `json:"active_orders"`
	HealthScore  float64           `json:"health_score"`
	Components   map[string]bool   `json:"components"`
	Orders       order.Statistics  `json:"orders"`
	Risk         risk.Status       `json:"risk"`
	ModeStatus   mode.Status       `json:"mode_status"`
	Signals      signal.Statistics `json:"signals"`
	LastError    string            `json:"last_error,omitempty"`
}

// Status assembles the full runtime report.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := e.st
	lastErr := e.lastError
	start := e.startTime
	trades := e.totalTrades
	e.mu.Unlock()

	components := map[string]bool{
		"mode":   e.modes.Healthy(),
		"orders": e.orders.Healthy(),
		"risk":   e.riskMgr.Healthy(),
	}
	healthy := 0
	for _, ok := range components {
		if ok {
			healthy++
		}
	}

	s := Status{
		State:        st,
		Mode:         e.modes.CurrentMode(),
		InstanceID:   e.instanceID,
		Version:      e.cfg.Version,
		TotalTrades:  trades,
		ActiveOrders: len(e.orders.ActiveOrders()),
		HealthScore:  float64(healthy) / float64(len(components)),
		Components:   components,
		Orders:       e.orders.Statistics(),
		Risk:         e.riskMgr.Status(),
		ModeStatus:   e.modes.Status(),
		Signals:      e.signals.Statistics(),
		LastError:    lastErr,
	}
	if !start.IsZero() && (st == StateRunning || st == StatePaused) {
		t := start
		s.StartTime = &t
		s.UptimeSecs = time.Since(start).Seconds()
	}
	return s
}

// InstanceID returns the stable machine-derived id.
func (e *Engine) InstanceID() string { return e.instanceID }
