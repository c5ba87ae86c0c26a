package strategy

import (
	"encoding/json"
	"fmt"

	"tradecore/internal/signal"
)

// MACross implements a simple moving average crossover strategy.
// It emits a buy entry when the fast MA crosses above the slow MA
// (golden cross) and a sell exit when it crosses below (death cross).
type MACross struct {
	id         string
	symbol     string
	fastPeriod int
	slowPeriod int

	fastMA     float64
	slowMA     float64
	prices     []float64
	prevAction signal.Action
}

// NewMACross builds an MA cross instance from config. Defaults are
// fast 10 / slow 30.
func NewMACross(cfg Config) (*MACross, error) {
	fast := intParam(cfg.Parameters, "fast_period", 10)
	slow := intParam(cfg.Parameters, "slow_period", 30)
	if fast <= 0 || slow <= 0 || fast >= slow {
		return nil, fmt.Errorf("strategy %s: invalid periods fast=%d slow=%d", cfg.ID, fast, slow)
	}
	return &MACross{
		id:         cfg.ID,
		symbol:     cfg.Symbol,
		fastPeriod: fast,
		slowPeriod: slow,
		prices:     make([]float64, 0, slow),
		prevAction: signal.ActionHold,
	}, nil
}

func (s *MACross) ID() string     { return s.id }
func (s *MACross) Symbol() string { return s.symbol }

func (s *MACross) Name() string {
	return fmt.Sprintf("MA_Cross_%d_%d", s.fastPeriod, s.slowPeriod)
}

type maCrossState struct {
	PrevAction signal.Action `json:"prev_action"`
	FastMA     float64       `json:"fast_ma"`
	SlowMA     float64       `json:"slow_ma"`
	Prices     []float64     `json:"prices"`
}

func (s *MACross) GetState() (json.RawMessage, error) {
	return json.Marshal(maCrossState{
		PrevAction: s.prevAction,
		FastMA:     s.fastMA,
		SlowMA:     s.slowMA,
		Prices:     s.prices,
	})
}

func (s *MACross) SetState(data json.RawMessage) error {
	var state maCrossState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.prevAction = state.PrevAction
	s.fastMA = state.FastMA
	s.slowMA = state.SlowMA
	if state.Prices != nil {
		s.prices = state.Prices
	}
	return nil
}

func (s *MACross) OnTick(symbol string, price float64) (*signal.Signal, error) {
	if symbol != s.symbol {
		return nil, nil
	}

	s.prices = append(s.prices, price)
	if len(s.prices) > s.slowPeriod {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.slowPeriod {
		return nil, nil
	}

	oldFast := s.fastMA
	oldSlow := s.slowMA
	s.fastMA = simpleMA(s.prices, s.fastPeriod)
	s.slowMA = simpleMA(s.prices, s.slowPeriod)

	sig := s.detectCross(oldFast, oldSlow, price)
	if sig != nil && sig.Action != s.prevAction {
		s.prevAction = sig.Action
		return sig, nil
	}
	return nil, nil
}

func (s *MACross) detectCross(oldFast, oldSlow, price float64) *signal.Signal {
	// Golden cross: fast MA crosses above slow MA.
	if oldFast <= oldSlow && s.fastMA > s.slowMA {
		sig := signal.NewSignal(s.symbol, signal.ActionBuy, signal.TypeEntry, price, s.confidence())
		sig.StrategyName = s.Name()
		sig.Reason = fmt.Sprintf("golden cross: MA%d(%.2f) > MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)
		return &sig
	}

	// Death cross: fast MA crosses below slow MA.
	if oldFast >= oldSlow && s.fastMA < s.slowMA {
		sig := signal.NewSignal(s.symbol, signal.ActionSell, signal.TypeExit, price, s.confidence())
		sig.StrategyName = s.Name()
		sig.Reason = fmt.Sprintf("death cross: MA%d(%.2f) < MA%d(%.2f)", s.fastPeriod, s.fastMA, s.slowPeriod, s.slowMA)
		return &sig
	}

	return nil
}

// confidence grows with the separation between the averages so a
// decisive cross scores higher than a grazing one.
func (s *MACross) confidence() float64 {
	if s.slowMA == 0 {
		return 0.5
	}
	spread := s.fastMA - s.slowMA
	if spread < 0 {
		spread = -spread
	}
	conf := 0.5 + spread/s.slowMA*20
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

// simpleMA calculates the simple moving average of the last n prices.
func simpleMA(prices []float64, period int) float64 {
	if len(prices) < period {
		return 0
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period)
}
