package market

import (
	"context"
	"sync"
	"time"

	"tradecore/internal/events"
	"tradecore/internal/monitor"
	"tradecore/pkg/exchange"
)

const volumeWindow = 20

// MarketData is the latest known view of one symbol.
type MarketData struct {
	Symbol    string
	Price     float64
	PrevPrice float64
	Volume    float64
	AvgVolume float64
	High24h   float64
	Low24h    float64
	UpdatedAt time.Time
}

// Cache keeps the last tick per symbol with a short rolling volume
// window, consumed straight off the event bus.
type Cache struct {
	mu      sync.RWMutex
	data    map[string]MarketData
	volumes map[string][]float64
	metrics *monitor.SystemMetrics
}

func NewCache() *Cache {
	return &Cache{
		data:    make(map[string]MarketData),
		volumes: make(map[string][]float64),
	}
}

// SetMetrics attaches the system metrics sink. Every applied tick
// bumps its tick counter.
func (c *Cache) SetMetrics(metrics *monitor.SystemMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = metrics
}

// Start consumes price ticks until ctx is cancelled.
func (c *Cache) Start(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.EventPriceTick, 256)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case payload := <-ch:
				if tick, ok := payload.(exchange.Tick); ok {
					c.Apply(tick)
				}
			}
		}
	}()
}

// Apply records one tick.
func (c *Cache) Apply(tick exchange.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncrementTicks()
	}

	prev := c.data[tick.Symbol]

	window := append(c.volumes[tick.Symbol], tick.Volume)
	if len(window) > volumeWindow {
		window = window[len(window)-volumeWindow:]
	}
	c.volumes[tick.Symbol] = window

	var sum float64
	for _, v := range window {
		sum += v
	}

	ts := tick.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	c.data[tick.Symbol] = MarketData{
		Symbol:    tick.Symbol,
		Price:     tick.Price,
		PrevPrice: prev.Price,
		Volume:    tick.Volume,
		AvgVolume: sum / float64(len(window)),
		High24h:   tick.High24h,
		Low24h:    tick.Low24h,
		UpdatedAt: ts,
	}
}

// LastPrice returns the freshest price for a symbol.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.data[symbol]
	if !ok || d.Price <= 0 {
		return 0, false
	}
	return d.Price, true
}

// Snapshot returns the full cached view for a symbol.
func (c *Cache) Snapshot(symbol string) (MarketData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.data[symbol]
	return d, ok
}

// Symbols lists symbols with cached data.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for s := range c.data {
		out = append(out, s)
	}
	return out
}
