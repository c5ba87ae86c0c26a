package mode

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradecore/pkg/exchange"
)

// BacktestConfig bounds a historical replay run.
type BacktestConfig struct {
	StartDate      time.Time
	EndDate        time.Time
	InitialBalance float64
	FeeRate        float64
	Slippage       float64
	// TimeStep is how far the simulated clock advances per cycle.
	TimeStep time.Duration
}

// HistoricalPriceSource quotes prices at a point in simulated time.
type HistoricalPriceSource interface {
	PriceAt(symbol string, at time.Time) (float64, bool)
}

// Backtest replays execution against historical prices with its own
// simulated clock. Each ProcessCycle advances the clock one step; the
// run is finished once the clock passes EndDate.
type Backtest struct {
	cfg    BacktestConfig
	prices HistoricalPriceSource

	mu        sync.RWMutex
	state     State
	clock     time.Time
	balance   float64
	positions map[string]*paperPosition
	status    Status
	finished  bool
}

func NewBacktest(cfg BacktestConfig, src HistoricalPriceSource) *Backtest {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = time.Minute
	}
	return &Backtest{
		cfg:       cfg,
		prices:    src,
		state:     StateInactive,
		positions: make(map[string]*paperPosition),
	}
}

func (b *Backtest) Mode() Mode { return ModeBacktest }

func (b *Backtest) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.StartDate.IsZero() || b.cfg.EndDate.IsZero() {
		b.state = StateError
		return fmt.Errorf("mode: backtest requires start and end dates")
	}
	if !b.cfg.EndDate.After(b.cfg.StartDate) {
		b.state = StateError
		return fmt.Errorf("mode: backtest end %s not after start %s",
			b.cfg.EndDate.Format(time.RFC3339), b.cfg.StartDate.Format(time.RFC3339))
	}

	b.state = StateInitializing
	b.clock = b.cfg.StartDate
	b.balance = b.cfg.InitialBalance
	b.positions = make(map[string]*paperPosition)
	b.finished = false

	now := time.Now().UTC()
	b.status = Status{Mode: ModeBacktest, State: StateActive, StartTime: &now, Balance: b.balance}
	b.state = StateActive
	log.Printf("backtest initialized: %s -> %s, balance %.2f",
		b.cfg.StartDate.Format("2006-01-02"), b.cfg.EndDate.Format("2006-01-02"), b.balance)
	return nil
}

func (b *Backtest) ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateActive {
		return exchange.TradeReport{}, ErrNoActiveMode
	}
	if b.finished {
		return exchange.TradeReport{}, fmt.Errorf("mode: backtest period ended")
	}

	price, err := b.executionPrice(req)
	if err != nil {
		return exchange.TradeReport{}, err
	}

	tradeValue := req.Amount * price
	fee := tradeValue * b.cfg.FeeRate

	switch req.Side {
	case exchange.SideBuy:
		if tradeValue+fee > b.balance {
			return exchange.TradeReport{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficient, tradeValue+fee, b.balance)
		}
		b.balance -= tradeValue + fee
		pos := b.positions[req.Symbol]
		if pos == nil {
			b.positions[req.Symbol] = &paperPosition{amount: req.Amount, entryPrice: price}
		} else {
			total := pos.amount*pos.entryPrice + req.Amount*price
			pos.amount += req.Amount
			pos.entryPrice = total / pos.amount
		}
	case exchange.SideSell:
		pos := b.positions[req.Symbol]
		if pos == nil || pos.amount < req.Amount {
			return exchange.TradeReport{}, fmt.Errorf("%w: %s", ErrNoPosition, req.Symbol)
		}
		pos.amount -= req.Amount
		b.balance += tradeValue - fee
		if pos.amount == 0 {
			delete(b.positions, req.Symbol)
		}
	default:
		return exchange.TradeReport{}, fmt.Errorf("mode: invalid side %q", req.Side)
	}

	b.status.TradesExecuted++
	b.status.Balance = b.balance

	return exchange.TradeReport{
		ExchangeOrderID: "bt-" + uuid.NewString()[:8],
		TradeID:         uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          exchange.StatusFilled,
		Amount:          req.Amount,
		FilledAmount:    req.Amount,
		Price:           price,
		Fee:             fee,
		Timestamp:       b.clock,
	}, nil
}

func (b *Backtest) executionPrice(req exchange.TradeRequest) (float64, error) {
	if req.Type == exchange.OrderTypeLimit || req.Type == exchange.OrderTypeStopLimit {
		if req.Price <= 0 {
			return 0, fmt.Errorf("mode: limit order without price")
		}
		return req.Price, nil
	}
	px, ok := b.prices.PriceAt(req.Symbol, b.clock)
	if !ok || px <= 0 {
		return 0, fmt.Errorf("mode: no historical price for %s at %s", req.Symbol, b.clock.Format(time.RFC3339))
	}
	return applySlippage(px, req.Side, b.cfg.Slippage), nil
}

func (b *Backtest) GetBalance(ctx context.Context, asset string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if asset == "" || asset == "USDT" {
		return b.balance, nil
	}
	if pos, ok := b.positions[asset]; ok {
		return pos.amount, nil
	}
	return 0, nil
}

func (b *Backtest) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]exchange.Position, 0, len(b.positions))
	for sym, pos := range b.positions {
		current := pos.entryPrice
		if px, ok := b.prices.PriceAt(sym, b.clock); ok && px > 0 {
			current = px
		}
		out = append(out, exchange.Position{
			Symbol:        sym,
			Amount:        pos.amount,
			EntryPrice:    pos.entryPrice,
			CurrentPrice:  current,
			MarketValue:   pos.amount * current,
			UnrealizedPnL: (current - pos.entryPrice) * pos.amount,
		})
	}
	return out, nil
}

func (b *Backtest) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return nil
}

// ProcessCycle advances the simulated clock one time step.
func (b *Backtest) ProcessCycle(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateActive || b.finished {
		return
	}
	b.clock = b.clock.Add(b.cfg.TimeStep)
	if b.clock.After(b.cfg.EndDate) {
		b.finished = true
		log.Printf("backtest finished: %d trades, final balance %.2f",
			b.status.TradesExecuted, b.balance)
	}
}

// Clock reports the current simulated time.
func (b *Backtest) Clock() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clock
}

// Finished reports whether the simulated clock has passed the end date.
func (b *Backtest) Finished() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finished
}

func (b *Backtest) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state == StateActive
}

func (b *Backtest) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateInactive
	b.status.State = StateInactive
	log.Println("backtest mode cleaned up")
}

func (b *Backtest) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}
