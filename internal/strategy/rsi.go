package strategy

import (
	"encoding/json"
	"fmt"
	"math"

	"tradecore/internal/signal"
)

// RSI implements a relative strength index mean-reversion strategy.
// It emits a buy entry when RSI drops below the oversold threshold and
// a sell exit when RSI rises above the overbought threshold.
type RSI struct {
	id         string
	symbol     string
	period     int
	oversold   float64
	overbought float64

	prices     []float64
	rsi        float64
	prevAction signal.Action
}

// NewRSI builds an RSI instance from config. Defaults are period 14,
// oversold 30, overbought 70.
func NewRSI(cfg Config) (*RSI, error) {
	period := intParam(cfg.Parameters, "period", 14)
	oversold := floatParam(cfg.Parameters, "oversold", 30)
	overbought := floatParam(cfg.Parameters, "overbought", 70)
	if period <= 1 {
		return nil, fmt.Errorf("strategy %s: invalid period %d", cfg.ID, period)
	}
	if oversold >= overbought {
		return nil, fmt.Errorf("strategy %s: oversold %.1f must be below overbought %.1f", cfg.ID, oversold, overbought)
	}
	return &RSI{
		id:         cfg.ID,
		symbol:     cfg.Symbol,
		period:     period,
		oversold:   oversold,
		overbought: overbought,
		prices:     make([]float64, 0, period+1),
		prevAction: signal.ActionHold,
	}, nil
}

func (s *RSI) ID() string     { return s.id }
func (s *RSI) Symbol() string { return s.symbol }

func (s *RSI) Name() string {
	return fmt.Sprintf("RSI_%d", s.period)
}

type rsiState struct {
	PrevAction signal.Action `json:"prev_action"`
	RSI        float64       `json:"rsi"`
	Prices     []float64     `json:"prices"`
}

func (s *RSI) GetState() (json.RawMessage, error) {
	return json.Marshal(rsiState{PrevAction: s.prevAction, RSI: s.rsi, Prices: s.prices})
}

func (s *RSI) SetState(data json.RawMessage) error {
	var state rsiState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	s.prevAction = state.PrevAction
	s.rsi = state.RSI
	if state.Prices != nil {
		s.prices = state.Prices
	}
	return nil
}

func (s *RSI) OnTick(symbol string, price float64) (*signal.Signal, error) {
	if symbol != s.symbol {
		return nil, nil
	}

	s.prices = append(s.prices, price)
	if len(s.prices) > s.period+1 {
		s.prices = s.prices[1:]
	}
	if len(s.prices) < s.period+1 {
		return nil, nil
	}

	s.calculate()

	sig := s.generate(price)
	if sig != nil && sig.Action != s.prevAction {
		s.prevAction = sig.Action
		return sig, nil
	}
	return nil, nil
}

func (s *RSI) calculate() {
	avgGain := 0.0
	avgLoss := 0.0
	for i := 1; i < len(s.prices); i++ {
		change := s.prices[i] - s.prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss += math.Abs(change)
		}
	}
	avgGain /= float64(s.period)
	avgLoss /= float64(s.period)

	if avgLoss == 0 {
		s.rsi = 100
		return
	}
	rs := avgGain / avgLoss
	s.rsi = 100 - (100 / (1 + rs))
}

func (s *RSI) generate(price float64) *signal.Signal {
	// Oversold: buy.
	if s.rsi < s.oversold {
		conf := 0.5 + (s.oversold-s.rsi)/s.oversold*0.45
		sig := signal.NewSignal(s.symbol, signal.ActionBuy, signal.TypeEntry, price, conf)
		sig.StrategyName = s.Name()
		sig.Reason = fmt.Sprintf("rsi oversold: %.2f < %.2f", s.rsi, s.oversold)
		return &sig
	}

	// Overbought: sell.
	if s.rsi > s.overbought {
		conf := 0.5 + (s.rsi-s.overbought)/(100-s.overbought)*0.45
		sig := signal.NewSignal(s.symbol, signal.ActionSell, signal.TypeExit, price, conf)
		sig.StrategyName = s.Name()
		sig.Reason = fmt.Sprintf("rsi overbought: %.2f > %.2f", s.rsi, s.overbought)
		return &sig
	}

	return nil
}
