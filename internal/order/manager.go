package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/events"
	"tradecore/internal/monitor"
	"tradecore/pkg/exchange"
)

var (
	ErrNotFound     = errors.New("order: not found")
	ErrTerminal     = errors.New("order: already in terminal state")
	ErrCancelFailed = errors.New("order: backend cancellation failed")
	ErrInvalidOrder = errors.New("order: validation failed")
)

const fillEpsilon = 1e-9

// Backend executes and cancels trades. The mode manager satisfies it.
type Backend interface {
	ExecuteTrade(ctx context.Context, req exchange.TradeRequest) (exchange.TradeReport, error)
	CancelOrder(ctx context.Context, exchangeOrderID string) error
}

// Config holds the scheduler's tunables.
type Config struct {
	MaxConcurrentExecutions int
	ExecutionTimeout        time.Duration
	RetryDelay              time.Duration
	MaxRetries              int
	RetentionPeriod         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentExecutions: 5,
		ExecutionTimeout:        30 * time.Second,
		RetryDelay:              5 * time.Second,
		MaxRetries:              3,
		RetentionPeriod:         7 * 24 * time.Hour,
	}
}

// Manager schedules orders onto a bounded worker pool and tracks
// their lifecycle to a terminal state.
type Manager struct {
	cfg     Config
	backend Backend
	bus     *events.Bus
	metrics *monitor.SystemMetrics

	mu      sync.RWMutex
	orders  map[string]*Order
	reports []ExecutionReport

	queue        *Queue
	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	inflight     atomic.Int64
	retryPending atomic.Int64
}

func NewManager(cfg Config, backend Backend, bus *events.Bus) *Manager {
	def := DefaultConfig()
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = def.MaxConcurrentExecutions
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = def.RetentionPeriod
	}
	return &Manager{
		cfg:     cfg,
		backend: backend,
		bus:     bus,
		orders:  make(map[string]*Order),
		queue:   NewQueue(),
	}
}

// SetMetrics attaches the system metrics sink. Execution durations
// feed its latency histogram.
func (m *Manager) SetMetrics(metrics *monitor.SystemMetrics) {
	m.metrics = metrics
}

// Start launches the execution workers.
func (m *Manager) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	for i := 0; i < m.cfg.MaxConcurrentExecutions; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	log.Printf("order manager started %d execution workers", m.cfg.MaxConcurrentExecutions)
}

// Stop cancels the workers and waits for in-flight executions.
func (m *Manager) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.cancel()
	m.wg.Wait()
	log.Println("order manager stopped")
}

// Healthy reports whether the worker pool is live.
func (m *Manager) Healthy() bool { return m.running.Load() }

// Submit validates and schedules an order. Structural failures move
// the order straight to rejected and return an error.
func (m *Manager) Submit(o *Order) error {
	if err := validate(o); err != nil {
		m.mu.Lock()
		m.setStatusLocked(o, StatusRejected, err.Error())
		m.orders[o.ID] = o
		snap := *o
		m.mu.Unlock()
		m.publish(events.EventOrderRejected, snap)
		return err
	}

	m.mu.Lock()
	m.setStatusLocked(o, StatusPending, "")
	m.orders[o.ID] = o
	m.mu.Unlock()

	m.queue.Enqueue(Entry{OrderID: o.ID, Priority: o.Priority, CreatedAt: o.CreatedAt})
	log.Printf("order submitted: %s %s %s %.6f (priority %d)", o.ID, o.Symbol, o.Side, o.Amount, o.Priority)
	return nil
}

func validate(o *Order) error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrder)
	}
	if o.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if o.Side != exchange.SideBuy && o.Side != exchange.SideSell {
		return fmt.Errorf("%w: invalid side %q", ErrInvalidOrder, o.Side)
	}
	needsPrice := o.Type == exchange.OrderTypeLimit || o.Type == exchange.OrderTypeStopLimit
	if needsPrice && o.Price <= 0 {
		return fmt.Errorf("%w: %s order requires a positive price", ErrInvalidOrder, o.Type)
	}
	return nil
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	for {
		entry, err := m.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		// The slot counts as inflight from dequeue onward so drain
		// checks never see a dequeued order as idle.
		m.inflight.Add(1)

		m.mu.Lock()
		o, ok := m.orders[entry.OrderID]
		if !ok || !o.IsActive() {
			m.mu.Unlock()
			m.inflight.Add(-1)
			continue
		}
		m.setStatusLocked(o, StatusSubmitted, "")
		req := exchange.TradeRequest{
			Symbol:   o.Symbol,
			Side:     o.Side,
			Type:     o.Type,
			Amount:   o.RemainingAmount,
			Price:    o.Price,
			ClientID: o.ClientOrderID,
		}
		snap := *o
		m.mu.Unlock()
		m.publish(events.EventOrderSubmitted, snap)

		execCtx, cancel := context.WithTimeout(ctx, m.cfg.ExecutionTimeout)
		started := time.Now()
		report, execErr := m.backend.ExecuteTrade(execCtx, req)
		if m.metrics != nil {
			m.metrics.ExecutionLatency.RecordDuration(time.Since(started))
		}
		cancel()

		if execErr != nil {
			// Any retry is registered before the inflight slot is
			// released, so DrainExecution cannot observe a false idle
			// between the two.
			m.handleExecutionError(ctx, entry.OrderID, execErr)
			m.inflight.Add(-1)
			continue
		}
		m.ApplyReport(entry.OrderID, ExecutionReport{
			ReportID:        uuid.NewString(),
			OrderID:         entry.OrderID,
			ExchangeOrderID: report.ExchangeOrderID,
			Price:           report.Price,
			Amount:          report.FilledAmount,
			Fee:             report.Fee,
			TradeID:         report.TradeID,
			IsPartial:       report.Status == exchange.StatusPartial,
			ExecutedAt:      report.Timestamp,
		})
		m.inflight.Add(-1)
	}
}

// handleExecutionError retries transient failures up to MaxRetries
// with a fixed delay, then parks the order in the terminal error
// state. Non-retryable failures go terminal immediately.
func (m *Manager) handleExecutionError(ctx context.Context, orderID string, execErr error) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || !o.IsActive() {
		m.mu.Unlock()
		return
	}

	retryable := exchange.IsRetryable(execErr)
	o.RetryCount++
	if !retryable || o.RetryCount > m.cfg.MaxRetries {
		m.setStatusLocked(o, StatusError, fmt.Sprintf("execution failed after %d attempts: %v", o.RetryCount, execErr))
		snap := *o
		m.mu.Unlock()
		log.Printf("order %s failed permanently: %v", orderID, execErr)
		m.publish(events.EventOrderError, snap)
		return
	}

	attempt := o.RetryCount
	entry := Entry{OrderID: o.ID, Priority: o.Priority, CreatedAt: time.Now().UTC()}
	m.mu.Unlock()

	log.Printf("order %s execution failed (attempt %d/%d), retrying in %s: %v",
		orderID, attempt, m.cfg.MaxRetries, m.cfg.RetryDelay, execErr)
	m.retryPending.Add(1)
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(m.cfg.RetryDelay):
			m.queue.Enqueue(entry)
		}
		// Decrement after Enqueue so DrainExecution never observes the
		// order as neither queued, inflight, nor awaiting retry.
		m.retryPending.Add(-1)
	}()
}

// ApplyReport applies one fill to an order. Average price is the
// fill-size-weighted mean across every report for the order.
func (m *Manager) ApplyReport(orderID string, rep ExecutionReport) {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok || !o.IsActive() {
		m.mu.Unlock()
		return
	}

	if rep.ReportID == "" {
		rep.ReportID = uuid.NewString()
	}
	rep.OrderID = orderID
	if rep.ExecutedAt.IsZero() {
		rep.ExecutedAt = time.Now().UTC()
	}
	// A report can never fill more than is outstanding. Clamp so
	// filled plus remaining always equals the order amount.
	if rep.Amount > o.RemainingAmount {
		log.Printf("order %s: report %s exceeds remaining %.8f by %.8f, clamping",
			orderID, rep.ReportID, o.RemainingAmount, rep.Amount-o.RemainingAmount)
		rep.Amount = o.RemainingAmount
	}
	m.reports = append(m.reports, rep)

	if rep.ExchangeOrderID != "" {
		o.ExchangeOrderID = rep.ExchangeOrderID
	}
	prevFilled := o.FilledAmount
	o.FilledAmount += rep.Amount
	o.RemainingAmount = o.Amount - o.FilledAmount
	if o.RemainingAmount < fillEpsilon {
		o.RemainingAmount = 0
	}
	if o.FilledAmount > 0 {
		o.AveragePrice = (o.AveragePrice*prevFilled + rep.Price*rep.Amount) / o.FilledAmount
	}
	o.TotalFee += rep.Fee

	var event events.Event
	if o.RemainingAmount == 0 {
		m.setStatusLocked(o, StatusFilled, "")
		event = events.EventOrderFilled
	} else {
		m.setStatusLocked(o, StatusPartialFilled, "")
		event = events.EventOrderPartialFilled
	}
	snap := *o
	m.mu.Unlock()

	log.Printf("order %s: filled %.6f/%.6f @ avg %.4f", orderID, snap.FilledAmount, snap.Amount, snap.AveragePrice)
	m.publish(event, snap)
}

// Cancel moves a non-terminal order to cancelled. Orders already at
// the backend are cancelled there first; if that fails the local
// state is left untouched and the error returned.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) error {
	m.mu.Lock()
	o, ok := m.orders[orderID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	if o.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, orderID, o.Status)
	}
	needsBackend := (o.Status == StatusSubmitted || o.Status == StatusPartialFilled) && o.ExchangeOrderID != ""
	exchangeID := o.ExchangeOrderID
	m.mu.Unlock()

	if needsBackend {
		if err := m.backend.CancelOrder(ctx, exchangeID); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelFailed, err)
		}
	}

	m.mu.Lock()
	if o.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminal, orderID, o.Status)
	}
	if reason == "" {
		reason = "user request"
	}
	m.setStatusLocked(o, StatusCancelled, reason)
	snap := *o
	m.mu.Unlock()

	log.Printf("order cancelled: %s (%s)", orderID, reason)
	m.publish(events.EventOrderCancelled, snap)
	return nil
}

// setStatusLocked is the only status mutation path. Terminal states
// never change again.
func (m *Manager) setStatusLocked(o *Order, s Status, message string) {
	if o.IsTerminal() {
		return
	}
	o.Status = s
	o.UpdatedAt = time.Now().UTC()
	if message != "" {
		o.ErrorMessage = message
	}
	switch s {
	case StatusSubmitted:
		now := o.UpdatedAt
		o.SubmittedAt = &now
	case StatusFilled, StatusPartialFilled:
		now := o.UpdatedAt
		o.FilledAt = &now
	}
}

func (m *Manager) publish(e events.Event, snap Order) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(e, snap)
}

// DrainExecution blocks until the queue is empty, no worker is
// mid-execution, and no order is waiting out a retry delay, or the
// context expires. The mode manager calls it before switching
// backends.
func (m *Manager) DrainExecution(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.queue.Len() == 0 && m.inflight.Load() == 0 && m.retryPending.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessCycle runs periodic maintenance: expiring stale pending
// orders and purging terminal orders past the retention window.
func (m *Manager) ProcessCycle() {
	now := time.Now().UTC()
	cutoff := now.Add(-m.cfg.RetentionPeriod)

	m.mu.Lock()
	var purged int
	for id, o := range m.orders {
		if o.Status == StatusPending && o.ExpiresAt != nil && o.ExpiresAt.Before(now) {
			m.setStatusLocked(o, StatusExpired, "expired before execution")
			continue
		}
		if o.IsTerminal() && o.UpdatedAt.Before(cutoff) {
			delete(m.orders, id)
			purged++
		}
	}
	if purged > 0 {
		kept := m.reports[:0]
		for _, r := range m.reports {
			if _, ok := m.orders[r.OrderID]; ok {
				kept = append(kept, r)
			}
		}
		m.reports = kept
	}
	m.mu.Unlock()

	if purged > 0 {
		log.Printf("purged %d orders past retention", purged)
	}
}

// Get returns a copy of an order.
func (m *Manager) Get(orderID string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrNotFound, orderID)
	}
	return *o, nil
}

// Filter selects orders for List. Zero fields match everything.
type Filter struct {
	Status   Status
	Symbol   string
	Strategy string
}

// List returns copies of orders matching the filter.
func (m *Manager) List(f Filter) []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Symbol != "" && o.Symbol != f.Symbol {
			continue
		}
		if f.Strategy != "" && o.StrategyName != f.Strategy {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// ActiveOrders returns copies of all non-terminal orders.
func (m *Manager) ActiveOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Order, 0)
	for _, o := range m.orders {
		if o.IsActive() {
			out = append(out, *o)
		}
	}
	return out
}

// Reports returns execution reports, optionally for one order.
func (m *Manager) Reports(orderID string) []ExecutionReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if orderID == "" {
		out := make([]ExecutionReport, len(m.reports))
		copy(out, m.reports)
		return out
	}
	var out []ExecutionReport
	for _, r := range m.reports {
		if r.OrderID == orderID {
			out = append(out, r)
		}
	}
	return out
}

// Statistics summarizes current order flow.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{
		TotalOrders:     len(m.orders),
		StatusBreakdown: make(map[Status]int),
		QueueSize:       m.queue.Len(),
	}
	var (
		filled        int
		execTimeTotal time.Duration
		execTimeCount int
	)
	for _, o := range m.orders {
		stats.StatusBreakdown[o.Status]++
		if o.IsActive() {
			stats.ActiveOrders++
		}
		if o.Status == StatusFilled {
			filled++
			stats.TotalVolume += o.FilledAmount * o.AveragePrice
			stats.TotalFees += o.TotalFee
			if o.SubmittedAt != nil && o.FilledAt != nil {
				execTimeTotal += o.FilledAt.Sub(*o.SubmittedAt)
				execTimeCount++
			}
		}
	}
	if stats.TotalOrders > 0 {
		stats.FillRatePct = float64(filled) / float64(stats.TotalOrders) * 100
	}
	if execTimeCount > 0 {
		stats.AvgExecutionSecs = execTimeTotal.Seconds() / float64(execTimeCount)
	}
	return stats
}
