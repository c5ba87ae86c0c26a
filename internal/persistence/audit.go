// Package persistence records completed orders, execution reports,
// and risk violations for audit. Everything here is append-only and
// best-effort: the trading path never waits on, or fails because of,
// a database write.
package persistence

import (
	"context"
	"log"

	"tradecore/internal/events"
	"tradecore/internal/order"
	"tradecore/internal/risk"
)

// ReportSource exposes execution reports by order id. The order
// manager satisfies it.
type ReportSource interface {
	Reports(orderID string) []order.ExecutionReport
}

// Auditor subscribes to lifecycle events and streams them into the
// batch writer.
type Auditor struct {
	bus     *events.Bus
	writer  *BatchWriter
	reports ReportSource
}

func NewAuditor(bus *events.Bus, writer *BatchWriter) *Auditor {
	return &Auditor{bus: bus, writer: writer}
}

// SetReportSource attaches the source queried for an order's fills
// when its lifecycle events arrive.
func (a *Auditor) SetReportSource(src ReportSource) {
	a.reports = src
}

// Start launches the audit consumers. They stop with the context.
func (a *Auditor) Start(ctx context.Context) {
	orderEvents := []events.Event{
		events.EventOrderFilled,
		events.EventOrderPartialFilled,
		events.EventOrderCancelled,
		events.EventOrderRejected,
		events.EventOrderError,
	}
	for _, e := range orderEvents {
		ch, unsub := a.bus.Subscribe(e, 64)
		go a.consumeOrders(ctx, ch, unsub)
	}

	alerts, unsub := a.bus.Subscribe(events.EventRiskAlert, 64)
	go a.consumeViolations(ctx, alerts, unsub)

	log.Println("audit recorder started")
}

func (a *Auditor) consumeOrders(ctx context.Context, ch <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			o, ok := payload.(order.Order)
			if !ok {
				continue
			}
			a.recordOrder(o)
			if a.reports != nil {
				a.RecordReports(a.reports.Reports(o.ID))
			}
		}
	}
}

func (a *Auditor) recordOrder(o order.Order) {
	a.writer.Write(`
		INSERT INTO orders (id, client_order_id, exchange_order_id, symbol, side, order_type,
			amount, price, filled_amount, average_price, total_fee, status, strategy_name,
			priority, error_message, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id = excluded.exchange_order_id,
			filled_amount = excluded.filled_amount,
			average_price = excluded.average_price,
			total_fee = excluded.total_fee,
			status = excluded.status,
			error_message = excluded.error_message,
			retry_count = excluded.retry_count,
			updated_at = excluded.updated_at`,
		o.ID, o.ClientOrderID, o.ExchangeOrderID, o.Symbol, string(o.Side), string(o.Type),
		o.Amount, o.Price, o.FilledAmount, o.AveragePrice, o.TotalFee, string(o.Status),
		o.StrategyName, int(o.Priority), o.ErrorMessage, o.RetryCount, o.CreatedAt, o.UpdatedAt)
}

// RecordReports persists execution reports for a completed order.
func (a *Auditor) RecordReports(reports []order.ExecutionReport) {
	for _, r := range reports {
		a.writer.Write(`
			INSERT INTO execution_reports (id, order_id, exchange_order_id, trade_id, price, amount, fee, is_partial, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			r.ReportID, r.OrderID, r.ExchangeOrderID, r.TradeID, r.Price, r.Amount, r.Fee, boolToInt(r.IsPartial), r.ExecutedAt)
	}
}

func (a *Auditor) consumeViolations(ctx context.Context, ch <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			v, ok := payload.(risk.Violation)
			if !ok {
				continue
			}
			a.writer.Write(`
				INSERT INTO risk_violations (rule_id, rule_name, symbol, observed, threshold, action, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				v.RuleID, v.RuleName, v.Symbol, v.Observed, v.Threshold, string(v.Action), v.Timestamp)
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
