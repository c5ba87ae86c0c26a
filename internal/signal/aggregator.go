package signal

import (
	"sync"
	"time"
)

// Aggregator collects corroborating signals per symbol+action inside
// a rolling window. Reaching the required count consumes the whole
// set, so one corroborating group yields exactly one confirmation.
type Aggregator struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string][]Signal
}

func NewAggregator(window time.Duration) *Aggregator {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Aggregator{
		window:  window,
		pending: make(map[string][]Signal),
	}
}

// Add registers a signal and reports whether required corroboration
// is now met. On confirmation it returns the averaged confidence of
// the contributing signals and clears them.
func (a *Aggregator) Add(s Signal, required int) (count int, avgConfidence float64, confirmed bool) {
	if required < 1 {
		required = 1
	}
	key := s.Symbol + "|" + string(s.Action)

	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.window)
	kept := a.pending[key][:0]
	for _, p := range a.pending[key] {
		if p.Timestamp.After(cutoff) {
			kept = append(kept, p)
		}
	}
	kept = append(kept, s)

	if len(kept) >= required {
		var sum float64
		for _, p := range kept {
			sum += p.Confidence
		}
		avg := sum / float64(len(kept))
		n := len(kept)
		delete(a.pending, key)
		return n, avg, true
	}

	a.pending[key] = kept
	return len(kept), 0, false
}

// PendingCount reports signals currently awaiting corroboration.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, sigs := range a.pending {
		n += len(sigs)
	}
	return n
}

// Prune drops signals that aged out of the window without reaching
// corroboration, returning how many were dropped.
func (a *Aggregator) Prune() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-a.window)
	dropped := 0
	for key, sigs := range a.pending {
		kept := sigs[:0]
		for _, s := range sigs {
			if s.Timestamp.After(cutoff) {
				kept = append(kept, s)
			} else {
				dropped++
			}
		}
		if len(kept) == 0 {
			delete(a.pending, key)
		} else {
			a.pending[key] = kept
		}
	}
	return dropped
}
