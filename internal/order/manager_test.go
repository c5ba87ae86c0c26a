package order

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"tradecore/internal/events"
	"tradecore/internal/monitor"
	"tradecore/pkg/exchange"
)

type scriptedBackend struct {
	mu        sync.Mutex
	script    []func(req exchange.TradeRequest) (exchange.TradeReport, error)
	calls     int
	delay     time.Duration
	cancelErr error
	cancelled []string
}

func fullFill(req exchange.TradeRequest) (exchange.TradeReport, error) {
	return exchange.TradeReport{
		ExchangeOrderID: "ex-1",
		Symbol:          req.Symbol,
		Side:            req.Side,
		Status:          exchange.StatusFilled,
		Amount:          req.Amount,
		FilledAmount:    req.Amount,
		Price:           100,
		Fee:             0.05,
		Timestamp:       time.Now().UTC(),
	}, nil
}

func (b *scriptedBackend) ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error) {
	if b.delay > 0 {
		select {
		case <-ctx.Done():
			return exchange.TradeReport{}, ctx.Err()
		case <-time.After(b.delay):
		}
	}
	b.mu.Lock()
	i := b.calls
	b.calls++
	b.mu.Unlock()
	if i < len(b.script) {
		return b.script[i](req)
	}
	return fullFill(req)
}

func (b *scriptedBackend) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancelled = append(b.cancelled, exchangeOrderID)
	return nil
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testConfig() Config {
	return Config{
		MaxConcurrentExecutions: 2,
		ExecutionTimeout:        time.Second,
		RetryDelay:              10 * time.Millisecond,
		MaxRetries:              2,
		RetentionPeriod:         7 * 24 * time.Hour,
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue()
	base := time.Now()
	q.Enqueue(Entry{OrderID: "low", Priority: PriorityLow, CreatedAt: base})
	q.Enqueue(Entry{OrderID: "urgent", Priority: PriorityUrgent, CreatedAt: base.Add(2 * time.Second)})
	q.Enqueue(Entry{OrderID: "normal-1", Priority: PriorityNormal, CreatedAt: base})
	q.Enqueue(Entry{OrderID: "normal-2", Priority: PriorityNormal, CreatedAt: base.Add(time.Second)})

	want := []string{"urgent", "normal-1", "normal-2", "low"}
	for _, id := range want {
		e, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if e.OrderID != id {
			t.Fatalf("dequeued %q, want %q", e.OrderID, id)
		}
	}
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestSubmitRejectsInvalidOrders(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())

	cases := []struct {
		name string
		o    *Order
	}{
		{"missing symbol", New("", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)},
		{"non-positive amount", New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 0, 0)},
		{"limit without price", New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeLimit, 1, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := m.Submit(tc.o); !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("err = %v, want ErrInvalidOrder", err)
			}
			got, err := m.Get(tc.o.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != StatusRejected {
				t.Errorf("status = %s, want rejected", got.Status)
			}
		})
	}
}

func TestOrderExecutesToFilled(t *testing.T) {
	backend := &scriptedBackend{}
	m := NewManager(testConfig(), backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusFilled
	}, "order never reached filled")

	got, _ := m.Get(o.ID)
	if got.FilledAmount != 1 || got.RemainingAmount != 0 {
		t.Errorf("filled=%v remaining=%v, want 1/0", got.FilledAmount, got.RemainingAmount)
	}
	if got.AveragePrice != 100 {
		t.Errorf("average price = %v, want 100", got.AveragePrice)
	}
	if got.TotalFee != 0.05 {
		t.Errorf("total fee = %v, want 0.05", got.TotalFee)
	}
	if got.FilledAmount+got.RemainingAmount != got.Amount {
		t.Error("filled + remaining must equal amount")
	}
}

func TestPartialFillsWeightAveragePrice(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())
	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 3, 0)
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	m.ApplyReport(o.ID, ExecutionReport{Price: 100, Amount: 1, Fee: 0.1, IsPartial: true})
	got, _ := m.Get(o.ID)
	if got.Status != StatusPartialFilled {
		t.Fatalf("status = %s, want partial_filled", got.Status)
	}

	m.ApplyReport(o.ID, ExecutionReport{Price: 130, Amount: 2, Fee: 0.2, IsPartial: true})
	got, _ = m.Get(o.ID)
	if got.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	// (100*1 + 130*2) / 3 = 120
	if math.Abs(got.AveragePrice-120) > 1e-9 {
		t.Errorf("average price = %v, want 120", got.AveragePrice)
	}
	if math.Abs(got.TotalFee-0.3) > 1e-9 {
		t.Errorf("total fee = %v, want 0.3", got.TotalFee)
	}
	if reports := m.Reports(o.ID); len(reports) != 2 {
		t.Errorf("got %d reports, want 2", len(reports))
	}
}

func TestTransientErrorsRetryUpToBound(t *testing.T) {
	transient := func(req exchange.TradeRequest) (exchange.TradeReport, error) {
		return exchange.TradeReport{}, &exchange.TransportError{Op: "order", Err: errors.New("gateway 502")}
	}
	backend := &scriptedBackend{script: []func(exchange.TradeRequest) (exchange.TradeReport, error){
		transient, transient, transient, transient,
	}}
	m := NewManager(testConfig(), backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusError
	}, "order never reached error state")

	// Initial attempt plus MaxRetries retries, then terminal.
	if got := backend.callCount(); got != 3 {
		t.Errorf("execution attempts = %d, want 3", got)
	}
	got, _ := m.Get(o.ID)
	if got.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", got.RetryCount)
	}

	// Terminal error is permanent, no further attempts.
	time.Sleep(50 * time.Millisecond)
	if got := backend.callCount(); got != 3 {
		t.Errorf("attempts after terminal = %d, want 3", got)
	}
}

func TestRetriesSucceedBeforeBound(t *testing.T) {
	transient := func(req exchange.TradeRequest) (exchange.TradeReport, error) {
		return exchange.TradeReport{}, &exchange.TransportError{Op: "order", Err: errors.New("timeout")}
	}
	backend := &scriptedBackend{script: []func(exchange.TradeRequest) (exchange.TradeReport, error){
		transient, fullFill,
	}}
	m := NewManager(testConfig(), backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusFilled
	}, "retried order never filled")
}

func TestNonRetryableErrorGoesTerminalImmediately(t *testing.T) {
	backend := &scriptedBackend{script: []func(exchange.TradeRequest) (exchange.TradeReport, error){
		func(req exchange.TradeRequest) (exchange.TradeReport, error) {
			return exchange.TradeReport{}, exchange.ErrAuth
		},
	}}
	m := NewManager(testConfig(), backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusError
	}, "order never reached error state")

	if got := backend.callCount(); got != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable error", got)
	}
}

func TestCancelForwardsToBackend(t *testing.T) {
	backend := &scriptedBackend{}
	m := NewManager(testConfig(), backend, events.NewBus())

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeLimit, 1, 95)
	o.Status = StatusSubmitted
	o.ExchangeOrderID = "ex-42"
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	if err := m.Cancel(context.Background(), o.ID, "test"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(backend.cancelled) != 1 || backend.cancelled[0] != "ex-42" {
		t.Errorf("backend cancellations = %v, want [ex-42]", backend.cancelled)
	}
	got, _ := m.Get(o.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestCancelBackendFailureLeavesStateUnchanged(t *testing.T) {
	backend := &scriptedBackend{cancelErr: errors.New("exchange refused")}
	m := NewManager(testConfig(), backend, events.NewBus())

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeLimit, 1, 95)
	o.Status = StatusSubmitted
	o.ExchangeOrderID = "ex-42"
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	if err := m.Cancel(context.Background(), o.ID, "test"); !errors.Is(err, ErrCancelFailed) {
		t.Fatalf("err = %v, want ErrCancelFailed", err)
	}
	got, _ := m.Get(o.ID)
	if got.Status != StatusSubmitted {
		t.Errorf("status = %s, want submitted (unchanged)", got.Status)
	}
}

func TestCancelRejectsTerminalOrders(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	o.Status = StatusFilled
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	if err := m.Cancel(context.Background(), o.ID, ""); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
	if err := m.Cancel(context.Background(), "no-such-order", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestProcessCyclePurgesOldTerminalOrders(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())

	old := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	old.Status = StatusFilled
	old.UpdatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)

	fresh := New("ETH/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	fresh.Status = StatusFilled

	active := New("SOL/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	active.UpdatedAt = time.Now().UTC().Add(-8 * 24 * time.Hour)

	m.mu.Lock()
	m.orders[old.ID] = old
	m.orders[fresh.ID] = fresh
	m.orders[active.ID] = active
	m.reports = append(m.reports, ExecutionReport{OrderID: old.ID}, ExecutionReport{OrderID: fresh.ID})
	m.mu.Unlock()

	m.ProcessCycle()

	if _, err := m.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("stale terminal order should be purged")
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Error("recent terminal order must survive")
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Error("active order must survive regardless of age")
	}
	if reports := m.Reports(""); len(reports) != 1 {
		t.Errorf("got %d reports after purge, want 1", len(reports))
	}
}

func TestDrainExecutionWaitsForIdle(t *testing.T) {
	backend := &scriptedBackend{delay: 50 * time.Millisecond}
	cfg := testConfig()
	cfg.MaxConcurrentExecutions = 1
	m := NewManager(cfg, backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	for i := 0; i < 3; i++ {
		o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
		if err := m.Submit(o); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.DrainExecution(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n := len(m.ActiveOrders()); n != 0 {
		t.Errorf("%d orders still active after drain", n)
	}
}

func TestDrainExecutionWaitsOutRetryDelay(t *testing.T) {
	transient := func(req exchange.TradeRequest) (exchange.TradeReport, error) {
		return exchange.TradeReport{}, &exchange.TransportError{Op: "order", Err: errors.New("timeout")}
	}
	backend := &scriptedBackend{script: []func(exchange.TradeRequest) (exchange.TradeReport, error){
		transient,
	}}
	cfg := testConfig()
	cfg.RetryDelay = 150 * time.Millisecond
	m := NewManager(cfg, backend, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		return backend.callCount() == 1
	}, "first attempt never ran")

	// The order is now waiting out the retry delay, with the queue
	// empty and no worker busy. Drain must not return until the retry
	// has executed.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.DrainExecution(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got, _ := m.Get(o.ID)
	if got.Status != StatusFilled {
		t.Errorf("status after drain = %s, want filled", got.Status)
	}
}

func TestOverFillReportIsClamped(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())
	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 2, 0)
	m.mu.Lock()
	m.orders[o.ID] = o
	m.mu.Unlock()

	m.ApplyReport(o.ID, ExecutionReport{Price: 100, Amount: 1.5, IsPartial: true})
	// Exchange reports more than is outstanding.
	m.ApplyReport(o.ID, ExecutionReport{Price: 100, Amount: 1.5})

	got, _ := m.Get(o.ID)
	if got.Status != StatusFilled {
		t.Fatalf("status = %s, want filled", got.Status)
	}
	if math.Abs(got.FilledAmount-2) > 1e-9 {
		t.Errorf("filled amount = %v, want 2", got.FilledAmount)
	}
	if got.RemainingAmount != 0 {
		t.Errorf("remaining amount = %v, want 0", got.RemainingAmount)
	}
	reports := m.Reports(o.ID)
	if len(reports) != 2 {
		t.Fatalf("got %d reports, want 2", len(reports))
	}
	if math.Abs(reports[1].Amount-0.5) > 1e-9 {
		t.Errorf("stored report amount = %v, want clamped 0.5", reports[1].Amount)
	}
}

func TestExecutionLatencyIsRecorded(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())
	metrics := monitor.NewSystemMetrics()
	m.SetMetrics(metrics)
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusFilled
	}, "order never filled")

	if got := metrics.ExecutionLatency.Stats().Count; got != 1 {
		t.Errorf("execution latency samples = %d, want 1", got)
	}
}

func TestStatusTransitionsEmitEvents(t *testing.T) {
	bus := events.NewBus()
	filled, unsub := bus.Subscribe(events.EventOrderFilled, 8)
	defer unsub()

	m := NewManager(testConfig(), &scriptedBackend{}, bus)
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 1, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case payload := <-filled:
		snap, ok := payload.(Order)
		if !ok {
			t.Fatalf("payload type %T, want Order", payload)
		}
		if snap.ID != o.ID || snap.Status != StatusFilled {
			t.Errorf("event carried %s/%s, want %s/filled", snap.ID, snap.Status, o.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no filled event received")
	}
}

func TestStatisticsSummarizeFlow(t *testing.T) {
	m := NewManager(testConfig(), &scriptedBackend{}, events.NewBus())
	m.Start(context.Background())
	defer m.Stop()

	o := New("BTC/USDT", exchange.SideBuy, exchange.OrderTypeMarket, 2, 0)
	if err := m.Submit(o); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		got, err := m.Get(o.ID)
		return err == nil && got.Status == StatusFilled
	}, "order never filled")

	stats := m.Statistics()
	if stats.TotalOrders != 1 {
		t.Errorf("total orders = %d, want 1", stats.TotalOrders)
	}
	if stats.FillRatePct != 100 {
		t.Errorf("fill rate = %v, want 100", stats.FillRatePct)
	}
	if stats.TotalVolume != 200 {
		t.Errorf("total volume = %v, want 200", stats.TotalVolume)
	}
	if stats.StatusBreakdown[StatusFilled] != 1 {
		t.Errorf("filled breakdown = %d, want 1", stats.StatusBreakdown[StatusFilled])
	}
}
