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

// PaperConfig controls the paper simulation.
type PaperConfig struct {
	InitialBalance float64
	FeeRate        float64 // decimal, e.g. 0.0005 = 5 bps
	Slippage       float64 // decimal applied against the taker
	QuoteAsset     string
}

// Paper simulates execution against live prices without touching an exchange.
type Paper struct {
	cfg    PaperConfig
	prices PriceSource

	mu        sync.RWMutex
	state     State
	balance   float64
	positions map[string]*paperPosition
	status    Status
}

type paperPosition struct {
	amount     float64
	entryPrice float64
}

// NewPaper creates a paper backend priced from src.
func NewPaper(cfg PaperConfig, src PriceSource) *Paper {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = 10000
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Paper{
		cfg:       cfg,
		prices:    src,
		state:     StateInactive,
		positions: make(map[string]*paperPosition),
	}
}

func (p *Paper) Mode() Mode { return ModePaper }

// Initialize resets the simulated account.
func (p *Paper) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = StateInitializing
	p.balance = p.cfg.InitialBalance
	p.positions = make(map[string]*paperPosition)

	now := time.Now().UTC()
	p.status = Status{Mode: ModePaper, State: StateActive, StartTime: &now, Balance: p.balance}
	p.state = StateActive
	log.Printf("paper mode initialized with balance %.2f", p.balance)
	return nil
}

// ExecuteTrade fills the trade at the quoted price with deterministic
// fee and slippage applied.
func (p *Paper) ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateActive {
		return exchange.TradeReport{}, ErrNoActiveMode
	}

	price, err := p.executionPrice(req)
	if err != nil {
		return exchange.TradeReport{}, err
	}

	tradeValue := req.Amount * price
	fee := tradeValue * p.cfg.FeeRate

	switch req.Side {
	case exchange.SideBuy:
		if tradeValue+fee > p.balance {
			return exchange.TradeReport{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficient, tradeValue+fee, p.balance)
		}
		p.balance -= tradeValue + fee
		pos := p.positions[req.Symbol]
		if pos == nil {
			p.positions[req.Symbol] = &paperPosition{amount: req.Amount, entryPrice: price}
		} else {
			total := pos.amount*pos.entryPrice + req.Amount*price
			pos.amount += req.Amount
			pos.entryPrice = total / pos.amount
		}
	case exchange.SideSell:
		pos := p.positions[req.Symbol]
		if pos == nil || pos.amount < req.Amount {
			return exchange.TradeReport{}, fmt.Errorf("%w: %s", ErrNoPosition, req.Symbol)
		}
		pos.amount -= req.Amount
		p.balance += tradeValue - fee
		if pos.amount == 0 {
			delete(p.positions, req.Symbol)
		}
	default:
		return exchange.TradeReport{}, fmt.Errorf("mode: invalid side %q", req.Side)
	}

	p.status.TradesExecuted++
	p.status.Balance = p.balance

	report := exchange.TradeReport{
		ExchangeOrderID: "paper-" + uuid.NewString()[:8],
		TradeID:         uuid.NewString(),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          exchange.StatusFilled,
		Amount:          req.Amount,
		FilledAmount:    req.Amount,
		Price:           price,
		Fee:             fee,
		Timestamp:       time.Now().UTC(),
	}
	log.Printf("paper trade: %s %s %.6f @ %.4f fee=%.4f balance=%.2f",
		req.Side, req.Symbol, req.Amount, price, fee, p.balance)
	return report, nil
}

func (p *Paper) executionPrice(req exchange.TradeRequest) (float64, error) {
	if req.Type == exchange.OrderTypeLimit || req.Type == exchange.OrderTypeStopLimit {
		if req.Price <= 0 {
			return 0, fmt.Errorf("mode: limit order without price")
		}
		return req.Price, nil
	}
	market, ok := p.prices.LastPrice(req.Symbol)
	if !ok || market <= 0 {
		return 0, fmt.Errorf("mode: no market price for %s", req.Symbol)
	}
	return applySlippage(market, req.Side, p.cfg.Slippage), nil
}

// applySlippage moves the price against the taker by the configured fraction.
func applySlippage(price float64, side exchange.Side, slippage float64) float64 {
	if side == exchange.SideBuy {
		return price * (1 + slippage)
	}
	return price * (1 - slippage)
}

func (p *Paper) GetBalance(ctx context.Context, asset string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if asset == "" || asset == p.cfg.QuoteAsset {
		return p.balance, nil
	}
	if pos, ok := p.positions[asset]; ok {
		return pos.amount, nil
	}
	return 0, nil
}

func (p *Paper) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]exchange.Position, 0, len(p.positions))
	for sym, pos := range p.positions {
		current := pos.entryPrice
		if px, ok := p.prices.LastPrice(sym); ok && px > 0 {
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

// CancelOrder is a no-op for paper: fills are immediate, so there is
// nothing resting at the backend to cancel.
func (p *Paper) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return nil
}

func (p *Paper) ProcessCycle(ctx context.Context) {
	p.mu.Lock()
	p.status.Balance = p.balance
	p.mu.Unlock()
}

func (p *Paper) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state == StateActive
}

func (p *Paper) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateInactive
	p.status.State = StateInactive
	log.Println("paper mode cleaned up")
}

// GetStatus returns a snapshot of the simulated account.
func (p *Paper) GetStatus() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
