package events

import (
	"sync"
	"sync/atomic"
)

// Bus fans events out to channel subscribers. Publish never blocks:
// a subscriber that falls behind loses events rather than stalling
// the producer, so consumers on hot topics should size their buffers
// accordingly.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe returns a receive channel for one event plus an
// unsubscribe func that closes it. The buffer bounds how far the
// subscriber may lag before publishes start dropping.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	ch := make(chan any, buffer)

	b.mu.Lock()
	b.subs[e] = append(b.subs[e], ch)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					close(c)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish delivers the payload to every current subscriber of e,
// skipping any whose buffer is full.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded because a subscriber
// buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
