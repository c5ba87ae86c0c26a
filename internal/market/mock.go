package market

import (
	"context"
	"log"
	"math/rand"
	"time"

	"tradecore/internal/events"
	"tradecore/pkg/exchange"
)

// MockFeed generates synthetic ticks for paper trading and local
// development.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	Step       float64
	BaseVolume float64
	Interval   time.Duration
}

func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTC/USD"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.Step == 0 {
		m.Step = 0.5
	}
	if m.BaseVolume == 0 {
		m.BaseVolume = 1000.0
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}

	prices := make(map[string]float64, len(m.Symbols))
	for _, sym := range m.Symbols {
		prices[sym] = m.StartPrice
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				now := time.Now()
				for _, sym := range m.Symbols {
					// simple random walk
					p := prices[sym] + (rand.Float64()*2-1)*m.Step
					if p < m.Step {
						p = m.Step
					}
					prices[sym] = p
					m.Bus.Publish(events.EventPriceTick, exchange.Tick{
						Symbol:    sym,
						Price:     p,
						Volume:    m.BaseVolume * (0.5 + rand.Float64()),
						Timestamp: now,
					})
				}
			}
		}
	}()
}
