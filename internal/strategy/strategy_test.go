package strategy

import (
	"strings"
	"testing"

	"tradecore/internal/signal"
)

func feed(t *testing.T, s Strategy, symbol string, prices []float64) []*signal.Signal {
	t.Helper()
	var out []*signal.Signal
	for _, p := range prices {
		sig, err := s.OnTick(symbol, p)
		if err != nil {
			t.Fatalf("OnTick(%v): %v", p, err)
		}
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func TestMACrossGoldenAndDeathCross(t *testing.T) {
	s, err := NewMACross(Config{
		ID:         "ma-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"fast_period": 2, "slow_period": 3},
	})
	if err != nil {
		t.Fatalf("NewMACross: %v", err)
	}

	// Flat warmup, then a spike up, then a slump.
	signals := feed(t, s, "BTC/USD", []float64{10, 10, 10, 13, 5})
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Action != signal.ActionBuy || signals[0].Type != signal.TypeEntry {
		t.Fatalf("first signal = %s/%s, want buy entry", signals[0].Action, signals[0].Type)
	}
	if !strings.Contains(signals[0].Reason, "golden cross") {
		t.Errorf("unexpected reason %q", signals[0].Reason)
	}
	if signals[1].Action != signal.ActionSell || signals[1].Type != signal.TypeExit {
		t.Fatalf("second signal = %s/%s, want sell exit", signals[1].Action, signals[1].Type)
	}
	if signals[0].Confidence < 0.5 || signals[0].Confidence > 0.95 {
		t.Errorf("confidence %v out of range", signals[0].Confidence)
	}
}

func TestMACrossIgnoresOtherSymbols(t *testing.T) {
	s, err := NewMACross(Config{
		ID:         "ma-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"fast_period": 2, "slow_period": 3},
	})
	if err != nil {
		t.Fatalf("NewMACross: %v", err)
	}
	if signals := feed(t, s, "ETH/USD", []float64{10, 10, 10, 13}); len(signals) != 0 {
		t.Fatalf("expected no signals for unrelated symbol, got %d", len(signals))
	}
}

func TestMACrossRejectsBadPeriods(t *testing.T) {
	_, err := NewMACross(Config{
		ID:         "ma-bad",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"fast_period": 30, "slow_period": 10},
	})
	if err == nil {
		t.Fatal("expected error for fast >= slow")
	}
}

func TestRSIOversoldAndOverbought(t *testing.T) {
	s, err := NewRSI(Config{
		ID:         "rsi-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"period": 2, "oversold": 30.0, "overbought": 70.0},
	})
	if err != nil {
		t.Fatalf("NewRSI: %v", err)
	}

	// Straight decline drives RSI to 0.
	signals := feed(t, s, "BTC/USD", []float64{10, 9, 8})
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal after decline, got %d", len(signals))
	}
	if signals[0].Action != signal.ActionBuy {
		t.Fatalf("action = %s, want buy", signals[0].Action)
	}

	// Recovery through neutral into overbought flips to sell.
	signals = feed(t, s, "BTC/USD", []float64{9, 10})
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal after rally, got %d", len(signals))
	}
	if signals[0].Action != signal.ActionSell {
		t.Fatalf("action = %s, want sell", signals[0].Action)
	}
}

func TestRSISuppressesRepeatSignals(t *testing.T) {
	s, err := NewRSI(Config{
		ID:         "rsi-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"period": 2, "oversold": 30.0, "overbought": 70.0},
	})
	if err != nil {
		t.Fatalf("NewRSI: %v", err)
	}

	// A continued decline stays oversold but must not re-emit.
	signals := feed(t, s, "BTC/USD", []float64{10, 9, 8, 7, 6})
	if len(signals) != 1 {
		t.Fatalf("expected a single buy across sustained decline, got %d", len(signals))
	}
}

func TestRegistryRejectsUnknownType(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Build(Config{ID: "x", Symbol: "BTC/USD", Type: "momentum_surfer"})
	if err == nil {
		t.Fatal("expected error for unknown strategy type")
	}
	if !strings.Contains(err.Error(), "unknown type") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRegistryBuildAll(t *testing.T) {
	r := DefaultRegistry()
	configs := []Config{
		{ID: "ma-1", Symbol: "BTC/USD", Type: "ma_cross", IsActive: true},
		{ID: "rsi-1", Symbol: "ETH/USD", Type: "rsi", IsActive: true},
		{ID: "off", Symbol: "BTC/USD", Type: "rsi", IsActive: false},
	}
	strategies, err := r.BuildAll(configs)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(strategies) != 2 {
		t.Fatalf("expected 2 active strategies, got %d", len(strategies))
	}

	configs = append(configs, Config{ID: "ma-1", Symbol: "BTC/USD", Type: "ma_cross", IsActive: true})
	if _, err := r.BuildAll(configs); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, err := NewMACross(Config{
		ID:         "ma-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"fast_period": 2, "slow_period": 3},
	})
	if err != nil {
		t.Fatalf("NewMACross: %v", err)
	}
	feed(t, s, "BTC/USD", []float64{10, 10, 10, 13})

	state, err := s.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	restored, _ := NewMACross(Config{
		ID:         "ma-1",
		Symbol:     "BTC/USD",
		Parameters: map[string]interface{}{"fast_period": 2, "slow_period": 3},
	})
	if err := restored.SetState(state); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	// Restored instance carries the previous action, so the same slump
	// produces the same single sell.
	signals := feed(t, restored, "BTC/USD", []float64{5})
	if len(signals) != 1 || signals[0].Action != signal.ActionSell {
		t.Fatalf("restored strategy signals = %+v", signals)
	}
}
