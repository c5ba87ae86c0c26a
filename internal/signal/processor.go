package signal

import (
	"log"
	"sync"
	"time"

	"tradecore/internal/events"
)

const (
	defaultExpiry      = 15 * time.Minute
	floodWindow        = time.Hour
	floodThreshold     = 5
	processedRetention = 1000
)

// Config holds the pipeline's filter thresholds and window sizes.
type Config struct {
	MinVolume          float64
	VolumeRatio        float64
	MinPrice           float64
	MaxPriceChange     float64
	MinInterval        time.Duration
	MinConfidence      float64
	ConfirmationWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinVolume:          100,
		MinPrice:           0.0001,
		MaxPriceChange:     0.10,
		MinInterval:        30 * time.Second,
		MinConfidence:      0.3,
		ConfirmationWindow: 15 * time.Minute,
	}
}

// Processor runs raw signals through the filter chain, scores their
// strength, and aggregates corroboration into confirmed intents.
type Processor struct {
	bus *events.Bus
	agg *Aggregator

	mu        sync.Mutex
	filters   []Filter
	processed []*Processed
	history   map[string][]time.Time
	stats     Statistics
}

func NewProcessor(cfg Config, bus *events.Bus) *Processor {
	def := DefaultConfig()
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = def.MinVolume
	}
	if cfg.MinPrice <= 0 {
		cfg.MinPrice = def.MinPrice
	}
	if cfg.MaxPriceChange <= 0 {
		cfg.MaxPriceChange = def.MaxPriceChange
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.ConfirmationWindow <= 0 {
		cfg.ConfirmationWindow = def.ConfirmationWindow
	}

	p := &Processor{
		bus:     bus,
		agg:     NewAggregator(cfg.ConfirmationWindow),
		history: make(map[string][]time.Time),
		filters: []Filter{
			VolumeFilter{MinVolume: cfg.MinVolume, VolumeRatio: cfg.VolumeRatio},
			PriceFilter{MinPrice: cfg.MinPrice, MaxPriceChange: cfg.MaxPriceChange},
			NewIntervalFilter(cfg.MinInterval),
			ConfidenceFilter{MinConfidence: cfg.MinConfidence},
		},
	}
	log.Printf("signal processor initialized with %d filters", len(p.filters))
	return p
}

// AddFilter appends a custom filter to the chain.
func (p *Processor) AddFilter(f Filter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filters = append(p.filters, f)
}

// RemoveFilter drops a filter by name, reporting whether it existed.
func (p *Processor) RemoveFilter(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, f := range p.filters {
		if f.Name() == name {
			p.filters = append(p.filters[:i], p.filters[i+1:]...)
			return true
		}
	}
	return false
}

// Process runs one raw signal through the pipeline. It returns the
// processed signal, or nil when a filter rejected it. A confirmed
// result means the corroboration threshold was reached on this call.
func (p *Processor) Process(s Signal, ctx Context) *Processed {
	p.mu.Lock()
	p.stats.TotalSignals++

	for _, f := range p.filters {
		ok, reason := f.Apply(s, ctx)
		if !ok {
			p.stats.FilteredSignals++
			p.mu.Unlock()
			log.Printf("signal rejected by %s filter: %s %s (%s)", f.Name(), s.Symbol, s.Action, reason)
			if p.bus != nil {
				p.bus.Publish(events.EventSignalRejected, Rejection{Signal: s, Filter: f.Name(), Reason: reason})
			}
			return nil
		}
	}

	strength := p.scoreLocked(s, ctx)
	required := requiredConfirmations(s.Type, strength)

	now := time.Now().UTC()
	p.history[s.Symbol] = append(p.history[s.Symbol], now)
	if len(p.history[s.Symbol]) > 10 {
		p.history[s.Symbol] = p.history[s.Symbol][len(p.history[s.Symbol])-10:]
	}

	proc := &Processed{
		Signal:                s,
		Strength:              strength,
		Status:                StatusPending,
		RequiredConfirmations: required,
		CreatedAt:             now,
		ExpiresAt:             now.Add(defaultExpiry),
	}
	p.mu.Unlock()

	count, avg, confirmed := p.agg.Add(s, required)

	p.mu.Lock()
	proc.ConfirmationCount = count
	if confirmed {
		proc.Status = StatusConfirmed
		proc.AveragedConfidence = avg
		confirmedAt := time.Now().UTC()
		proc.ConfirmedAt = &confirmedAt
		p.stats.ConfirmedSignals++
	}
	p.processed = append(p.processed, proc)
	if len(p.processed) > processedRetention {
		p.processed = p.processed[len(p.processed)-processedRetention:]
	}
	p.mu.Unlock()

	log.Printf("signal processed: %s %s strength=%s status=%s (%d/%d confirmations)",
		s.Symbol, s.Action, strength, proc.Status, proc.ConfirmationCount, required)
	if confirmed && p.bus != nil {
		p.bus.Publish(events.EventSignalConfirmed, *proc)
	}
	return proc
}

// scoreLocked computes strength from confidence plus volume and
// signal-type adjustments, minus a flooding penalty.
func (p *Processor) scoreLocked(s Signal, ctx Context) Strength {
	score := s.Confidence

	if ctx.AvgVolume > 0 {
		ratio := ctx.CurrentVolume / ctx.AvgVolume
		switch {
		case ratio > 3.0:
			score += 0.2
		case ratio > 2.0:
			score += 0.1
		}
	}

	if s.Type == TypeConfirmation || s.Type == TypeTakeProfit {
		score += 0.1
	}

	cutoff := time.Now().Add(-floodWindow)
	recent := 0
	for _, ts := range p.history[s.Symbol] {
		if ts.After(cutoff) {
			recent++
		}
	}
	if recent > floodThreshold {
		score -= 0.1
	}

	switch {
	case score >= 0.8:
		return StrengthVeryStrong
	case score >= 0.6:
		return StrengthStrong
	case score >= 0.4:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// requiredConfirmations scales corroboration demand inversely with
// strength. Exit-style signals need one fewer, floored at one.
func requiredConfirmations(typ Type, strength Strength) int {
	var n int
	switch strength {
	case StrengthVeryStrong, StrengthStrong:
		n = 1
	case StrengthModerate:
		n = 2
	default:
		n = 3
	}
	if typ == TypeExit || typ == TypeStopLoss || typ == TypeTakeProfit {
		if n > 1 {
			n--
		}
	}
	return n
}

// MarkExecuted records that a confirmed intent became an order,
// reporting whether the signal was found in the retention window.
// Callers hold bus copies, so the lookup goes by signal id.
func (p *Processor) MarkExecuted(signalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, proc := range p.processed {
		if proc.Signal.ID != signalID {
			continue
		}
		proc.Status = StatusExecuted
		now := time.Now().UTC()
		proc.ExecutedAt = &now
		p.stats.ExecutedSignals++
		return true
	}
	return false
}

// ProcessCycle expires pending signals past their deadline and prunes
// the aggregation window.
func (p *Processor) ProcessCycle() {
	now := time.Now().UTC()

	p.mu.Lock()
	expired := 0
	for _, proc := range p.processed {
		if proc.Status == StatusPending && now.After(proc.ExpiresAt) {
			proc.Status = StatusExpired
			expired++
		}
	}
	p.stats.ExpiredSignals += expired
	p.mu.Unlock()

	p.agg.Prune()
	if expired > 0 {
		log.Printf("expired %d unconfirmed signals", expired)
	}
}

// PendingSignals returns pending, unexpired signals, optionally for
// one symbol.
func (p *Processor) PendingSignals(symbol string) []Processed {
	now := time.Now().UTC()
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Processed
	for _, proc := range p.processed {
		if proc.Status != StatusPending || now.After(proc.ExpiresAt) {
			continue
		}
		if symbol != "" && proc.Signal.Symbol != symbol {
			continue
		}
		out = append(out, *proc)
	}
	return out
}

// Statistics snapshots pipeline throughput.
func (p *Processor) Statistics() Statistics {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.ActiveFilters = len(p.filters)
	stats.StrengthCounts = make(map[Strength]int)
	cutoff := time.Now().Add(-floodWindow)
	pending := 0
	for _, proc := range p.processed {
		if proc.CreatedAt.After(cutoff) {
			stats.StrengthCounts[proc.Strength]++
		}
		if proc.Status == StatusPending {
			pending++
		}
	}
	stats.PendingSignals = pending
	return stats
}
