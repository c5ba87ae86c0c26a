package state

import (
	"context"
	"log"
	"sync"

	"tradecore/pkg/db"
	"tradecore/pkg/exchange"
)

// Manager keeps the in-memory position book, persisting each change
// so restarts resume with the same holdings.
type Manager struct {
	mu        sync.RWMutex
	positions map[string]db.Position
	db        *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:        database,
		positions: make(map[string]db.Position),
	}
}

// Load seeds in-memory state from the database on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	positions, err := m.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		m.positions[p.Symbol] = p
	}
	if len(positions) > 0 {
		log.Printf("state: loaded %d positions", len(positions))
	}
	return nil
}

// Position returns the current holding for a symbol.
func (m *Manager) Position(symbol string) db.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[symbol]
}

// Positions snapshots all holdings.
func (m *Manager) Positions() []db.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// RecordFill applies a fill to the position book. Buys move the
// average entry price; sells realize against it and return the
// realized P&L for the closed quantity.
func (m *Manager) RecordFill(ctx context.Context, symbol string, side exchange.Side, qty, price float64) (db.Position, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.positions[symbol]
	var realized float64

	switch side {
	case exchange.SideBuy:
		newQty := p.Qty + qty
		if newQty != 0 {
			p.AvgPrice = (p.AvgPrice*p.Qty + price*qty) / newQty
		}
		p.Qty = newQty
	case exchange.SideSell:
		realized = (price - p.AvgPrice) * qty
		p.Qty -= qty
		if p.Qty <= 0 {
			p.Qty = 0
			p.AvgPrice = 0
		}
	}
	p.Symbol = symbol

	if p.Qty == 0 {
		delete(m.positions, symbol)
	} else {
		m.positions[symbol] = p
	}
	if m.db != nil {
		if err := m.db.UpsertPosition(ctx, p); err != nil {
			log.Printf("state: persist position %s failed: %v", symbol, err)
		}
	}
	return p, realized
}
