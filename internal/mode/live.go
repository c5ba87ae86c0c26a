package mode

import (
	"context"
	"log"
	"sync"
	"time"

	"tradecore/pkg/exchange"
)

// Backend is the slice of the exchange client live mode depends on.
// *exchange.Client satisfies it.
type Backend interface {
	ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
	Ping(ctx context.Context) error
}

// Live routes orders to a real exchange account.
type Live struct {
	backend Backend

	mu       sync.RWMutex
	state    State
	status   Status
	lastPing time.Time
	pingErr  error
}

func NewLive(backend Backend) *Live {
	return &Live{backend: backend, state: StateInactive}
}

func (l *Live) Mode() Mode { return ModeLive }

// Initialize verifies exchange connectivity and credentials before
// accepting any order flow.
func (l *Live) Initialize(ctx context.Context) error {
	l.mu.Lock()
	l.state = StateInitializing
	l.mu.Unlock()

	if err := l.backend.Ping(ctx); err != nil {
		l.mu.Lock()
		l.state = StateError
		l.status.LastError = err.Error()
		l.mu.Unlock()
		return err
	}
	// Balance check exercises the signed path so a bad key fails here,
	// not on the first order.
	balance, err := l.backend.GetBalance(ctx, "")
	if err != nil {
		l.mu.Lock()
		l.state = StateError
		l.status.LastError = err.Error()
		l.mu.Unlock()
		return err
	}

	l.mu.Lock()
	now := time.Now().UTC()
	l.status = Status{Mode: ModeLive, State: StateActive, StartTime: &now, Balance: balance}
	l.state = StateActive
	l.lastPing = now
	l.mu.Unlock()
	log.Printf("live mode initialized, balance %.2f", balance)
	return nil
}

func (l *Live) ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error) {
	l.mu.RLock()
	active := l.state == StateActive
	l.mu.RUnlock()
	if !active {
		return exchange.TradeReport{}, ErrNoActiveMode
	}

	report, err := l.backend.ExecuteTrade(ctx, req)
	if err != nil {
		return exchange.TradeReport{}, err
	}

	l.mu.Lock()
	l.status.TradesExecuted++
	l.mu.Unlock()
	return report, nil
}

func (l *Live) GetBalance(ctx context.Context, asset string) (float64, error) {
	return l.backend.GetBalance(ctx, asset)
}

func (l *Live) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return l.backend.GetPositions(ctx)
}

func (l *Live) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return l.backend.CancelOrder(ctx, exchangeOrderID)
}

// ProcessCycle pings the exchange at most once per interval so Healthy
// reflects real connectivity without hammering the endpoint.
func (l *Live) ProcessCycle(ctx context.Context) {
	l.mu.RLock()
	due := time.Since(l.lastPing) >= 30*time.Second
	l.mu.RUnlock()
	if !due {
		return
	}

	err := l.backend.Ping(ctx)

	l.mu.Lock()
	l.lastPing = time.Now()
	l.pingErr = err
	if err != nil {
		l.status.LastError = err.Error()
		log.Printf("live mode ping failed: %v", err)
	}
	l.mu.Unlock()
}

func (l *Live) Healthy() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive && l.pingErr == nil
}

func (l *Live) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateInactive
	l.status.State = StateInactive
	log.Println("live mode cleaned up")
}

func (l *Live) GetStatus() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}
