package signal

import (
	"testing"
	"time"

	"tradecore/internal/events"
)

func newTestProcessor(bus *events.Bus) *Processor {
	p := NewProcessor(DefaultConfig(), bus)
	// The interval throttle fights rapid-fire test signals.
	p.RemoveFilter("interval")
	return p
}

func passingContext() Context {
	return Context{CurrentVolume: 5000, AvgVolume: 4000, PreviousPrice: 100}
}

func TestFiltersRejectWithReason(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		ctx  Context
	}{
		{
			"volume floor",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.9),
			Context{CurrentVolume: 10, AvgVolume: 4000, PreviousPrice: 100},
		},
		{
			"price jump",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 120, 0.9),
			Context{CurrentVolume: 5000, AvgVolume: 4000, PreviousPrice: 100},
		},
		{
			"dust price",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 0.00001, 0.9),
			passingContext(),
		},
		{
			"low confidence",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.1),
			passingContext(),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bus := events.NewBus()
			rejected, unsub := bus.Subscribe(events.EventSignalRejected, 4)
			defer unsub()

			p := newTestProcessor(bus)
			if got := p.Process(tc.sig, tc.ctx); got != nil {
				t.Fatalf("signal should be dropped, got status %s", got.Status)
			}
			select {
			case payload := <-rejected:
				rej, ok := payload.(Rejection)
				if !ok {
					t.Fatalf("payload type %T, want Rejection", payload)
				}
				if rej.Reason == "" || rej.Filter == "" {
					t.Error("rejection must carry filter name and reason")
				}
			default:
				t.Fatal("no rejection event published")
			}
		})
	}
}

func TestIntervalFilterThrottlesPerSymbol(t *testing.T) {
	f := NewIntervalFilter(time.Minute)

	s := NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.9)
	if ok, _ := f.Apply(s, Context{}); !ok {
		t.Fatal("first signal for a symbol must pass")
	}
	if ok, reason := f.Apply(s, Context{}); ok {
		t.Fatal("back-to-back signal must be throttled")
	} else if reason == "" {
		t.Error("throttle rejection must carry a reason")
	}

	other := NewSignal("ETH/USDT", ActionBuy, TypeEntry, 100, 0.9)
	if ok, _ := f.Apply(other, Context{}); !ok {
		t.Error("throttle is per symbol, other symbols must pass")
	}
}

func TestStrengthScoring(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		ctx  Context
		want Strength
	}{
		{
			"confidence alone",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.85),
			Context{CurrentVolume: 1000, AvgVolume: 1000},
			StrengthVeryStrong,
		},
		{
			"volume surge bonus",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.65),
			Context{CurrentVolume: 4000, AvgVolume: 1000}, // ratio 4 -> +0.2
			StrengthVeryStrong,
		},
		{
			"take profit bonus",
			NewSignal("BTC/USDT", ActionSell, TypeTakeProfit, 100, 0.55),
			Context{CurrentVolume: 1000, AvgVolume: 1000}, // +0.1 -> 0.65
			StrengthStrong,
		},
		{
			"weak",
			NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.35),
			Context{CurrentVolume: 1000, AvgVolume: 1000},
			StrengthWeak,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProcessor(events.NewBus())
			if got := p.scoreLocked(tc.sig, tc.ctx); got != tc.want {
				t.Errorf("strength = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestRequiredConfirmations(t *testing.T) {
	cases := []struct {
		typ      Type
		strength Strength
		want     int
	}{
		{TypeEntry, StrengthVeryStrong, 1},
		{TypeEntry, StrengthStrong, 1},
		{TypeEntry, StrengthModerate, 2},
		{TypeEntry, StrengthWeak, 3},
		{TypeExit, StrengthWeak, 2},
		{TypeStopLoss, StrengthModerate, 1},
		{TypeTakeProfit, StrengthVeryStrong, 1},
	}
	for _, tc := range cases {
		if got := requiredConfirmations(tc.typ, tc.strength); got != tc.want {
			t.Errorf("requiredConfirmations(%s, %s) = %d, want %d", tc.typ, tc.strength, got, tc.want)
		}
	}
}

func TestWeakSignalNeedsThreeConfirmations(t *testing.T) {
	bus := events.NewBus()
	confirmed, unsub := bus.Subscribe(events.EventSignalConfirmed, 8)
	defer unsub()

	p := newTestProcessor(bus)
	ctx := Context{CurrentVolume: 1000, AvgVolume: 1000, PreviousPrice: 100}
	weak := func() Signal {
		return NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.35)
	}

	first := p.Process(weak(), ctx)
	if first == nil || first.Status != StatusPending {
		t.Fatalf("first weak signal should be pending, got %+v", first)
	}
	if first.RequiredConfirmations != 3 {
		t.Fatalf("weak signal requires %d confirmations, want 3", first.RequiredConfirmations)
	}

	second := p.Process(weak(), ctx)
	if second.Status != StatusPending {
		t.Fatalf("two of three corroborations must not confirm, got %s", second.Status)
	}
	select {
	case <-confirmed:
		t.Fatal("confirmation event before threshold")
	default:
	}

	third := p.Process(weak(), ctx)
	if third.Status != StatusConfirmed {
		t.Fatalf("third corroboration should confirm, got %s", third.Status)
	}
	if third.AveragedConfidence < 0.34 || third.AveragedConfidence > 0.36 {
		t.Errorf("averaged confidence = %v, want ~0.35", third.AveragedConfidence)
	}

	select {
	case <-confirmed:
	default:
		t.Fatal("no confirmation event published")
	}
	select {
	case <-confirmed:
		t.Fatal("duplicate confirmation from the same corroborating set")
	default:
	}

	// The set was consumed: a fourth signal starts a fresh count.
	fourth := p.Process(weak(), ctx)
	if fourth.Status != StatusPending || fourth.ConfirmationCount != 1 {
		t.Errorf("fourth signal should restart aggregation, got %s with count %d",
			fourth.Status, fourth.ConfirmationCount)
	}
}

func TestStrongSignalConfirmsImmediately(t *testing.T) {
	p := newTestProcessor(events.NewBus())
	ctx := Context{CurrentVolume: 1000, AvgVolume: 1000, PreviousPrice: 100}

	proc := p.Process(NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.9), ctx)
	if proc == nil || proc.Status != StatusConfirmed {
		t.Fatalf("very strong signal should confirm on first sight, got %+v", proc)
	}
	if proc.RequiredConfirmations != 1 {
		t.Errorf("required = %d, want 1", proc.RequiredConfirmations)
	}
}

func TestSymbolActionKeysAreIndependent(t *testing.T) {
	a := NewAggregator(15 * time.Minute)

	buy := NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.5)
	sell := NewSignal("BTC/USDT", ActionSell, TypeEntry, 100, 0.5)

	if _, _, ok := a.Add(buy, 2); ok {
		t.Fatal("single buy must not confirm at threshold 2")
	}
	if _, _, ok := a.Add(sell, 2); ok {
		t.Fatal("sell must not corroborate a buy")
	}
	if _, _, ok := a.Add(buy, 2); !ok {
		t.Fatal("second buy should confirm")
	}
}

func TestProcessCycleExpiresStalePending(t *testing.T) {
	p := newTestProcessor(events.NewBus())
	ctx := Context{CurrentVolume: 1000, AvgVolume: 1000, PreviousPrice: 100}

	proc := p.Process(NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.35), ctx)
	if proc.Status != StatusPending {
		t.Fatalf("status = %s, want pending", proc.Status)
	}

	p.mu.Lock()
	proc.ExpiresAt = time.Now().UTC().Add(-time.Second)
	p.mu.Unlock()

	p.ProcessCycle()
	if proc.Status != StatusExpired {
		t.Errorf("status = %s, want expired after cycle", proc.Status)
	}
	stats := p.Statistics()
	if stats.ExpiredSignals != 1 {
		t.Errorf("expired count = %d, want 1", stats.ExpiredSignals)
	}
}

func TestMarkExecutedMutatesStoredSignal(t *testing.T) {
	p := newTestProcessor(events.NewBus())
	sig := NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.9)
	proc := p.Process(sig, passingContext())
	if proc == nil || proc.Status != StatusConfirmed {
		t.Fatalf("signal not confirmed: %+v", proc)
	}

	// Consumers only ever hold bus copies of the record, so execution
	// is reported back by signal id.
	if !p.MarkExecuted(sig.ID) {
		t.Fatal("MarkExecuted did not find the signal")
	}

	p.mu.Lock()
	stored := *p.processed[len(p.processed)-1]
	p.mu.Unlock()
	if stored.Status != StatusExecuted {
		t.Errorf("stored status = %s, want executed", stored.Status)
	}
	if stored.ExecutedAt == nil {
		t.Error("stored record missing execution time")
	}
	if p.Statistics().ExecutedSignals != 1 {
		t.Error("executed counter not incremented")
	}

	if p.MarkExecuted("unknown-id") {
		t.Error("MarkExecuted reported success for unknown id")
	}
}

func TestStatisticsTrackThroughput(t *testing.T) {
	p := newTestProcessor(events.NewBus())
	ctx := passingContext()

	p.Process(NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.9), ctx)
	p.Process(NewSignal("BTC/USDT", ActionBuy, TypeEntry, 100, 0.1), ctx) // filtered

	stats := p.Statistics()
	if stats.TotalSignals != 2 {
		t.Errorf("total = %d, want 2", stats.TotalSignals)
	}
	if stats.FilteredSignals != 1 {
		t.Errorf("filtered = %d, want 1", stats.FilteredSignals)
	}
	if stats.ConfirmedSignals != 1 {
		t.Errorf("confirmed = %d, want 1", stats.ConfirmedSignals)
	}
}
