package market

import (
	"context"
	"log"

	"tradecore/internal/events"
	"tradecore/pkg/exchange"
)

// Feed streams ticker updates from the execution backend and publishes
// them to the event bus.
type Feed struct {
	Stream  *exchange.StreamClient
	Bus     *events.Bus
	Symbols []string
}

// Start begins streaming for the configured symbols.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Stream == nil {
		log.Println("market feed not fully configured; skipping start")
		return
	}

	for _, sym := range f.Symbols {
		symbol := sym
		ch, stop, err := f.Stream.SubscribeTicks(ctx, symbol)
		if err != nil {
			log.Printf("market feed: ws subscribe %s error: %v", symbol, err)
			continue
		}

		go func() {
			defer stop()
			for tick := range ch {
				f.Bus.Publish(events.EventPriceTick, tick)
			}
		}()
	}
}
