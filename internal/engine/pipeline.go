package engine

import (
	"context"
	"log"

	"tradecore/internal/events"
	"tradecore/internal/monitor"
	"tradecore/internal/order"
	"tradecore/internal/risk"
	"tradecore/internal/signal"
	"tradecore/pkg/exchange"
)

// handleConfirmedSignal sizes a confirmed signal, runs it through risk
// review and submits the resulting order.
func (e *Engine) handleConfirmedSignal(ctx context.Context, proc signal.Processed) {
	sig := proc.Signal
	if sig.Action == signal.ActionHold {
		return
	}
	var timer *monitor.Timer
	if e.metrics != nil {
		e.metrics.IncrementSignals()
		timer = monitor.NewTimer(e.metrics.SignalLatency)
		defer timer.Stop()
	}

	side := exchange.SideBuy
	if sig.Action == signal.ActionSell {
		side = exchange.SideSell
	}

	amount := e.cfg.TradeAmount
	price := sig.Price
	if e.cache != nil {
		if last, ok := e.cache.LastPrice(sig.Symbol); ok {
			price = last
		}
	}

	verdict := e.riskMgr.ValidateTrade(ctx, risk.ValidationRequest{
		Symbol: sig.Symbol,
		Side:   string(side),
		Amount: amount,
		Price:  price,
	})
	if !verdict.Approved {
		log.Printf("engine: signal %s rejected by risk: %s", sig.ID, verdict.Reason)
		if e.metrics != nil {
			e.metrics.IncrementRiskRejections()
		}
		return
	}
	if verdict.Action == risk.ActionReduce && verdict.ApprovedAmount > 0 {
		log.Printf("engine: signal %s reduced %.6f -> %.6f", sig.ID, amount, verdict.ApprovedAmount)
		amount = verdict.ApprovedAmount
	}

	o := order.New(sig.Symbol, side, exchange.OrderTypeMarket, amount, price)
	o.StrategyName = sig.StrategyName
	o.Priority = priorityFor(proc.Strength)

	if err := e.orders.Submit(o); err != nil {
		log.Printf("engine: submit order for signal %s failed: %v", sig.ID, err)
		if e.metrics != nil {
			e.metrics.IncrementErrors()
		}
		return
	}
	e.signals.MarkExecuted(sig.ID)
}

// priorityFor maps signal strength to execution priority.
func priorityFor(s signal.Strength) order.Priority {
	switch s {
	case signal.StrengthVeryStrong:
		return order.PriorityUrgent
	case signal.StrengthStrong:
		return order.PriorityHigh
	case signal.StrengthModerate:
		return order.PriorityNormal
	default:
		return order.PriorityLow
	}
}

// handleFill applies a completed fill to the position book and risk
// snapshot.
func (e *Engine) handleFill(ctx context.Context, snap order.Order) {
	if snap.FilledAmount <= 0 {
		return
	}
	if e.metrics != nil {
		e.metrics.IncrementOrders()
	}

	e.mu.Lock()
	e.totalTrades++
	e.mu.Unlock()

	if e.positions == nil {
		return
	}
	pos, realized := e.positions.RecordFill(ctx, snap.Symbol, snap.Side, snap.FilledAmount, snap.AveragePrice)
	if e.bus != nil {
		e.bus.Publish(events.EventPositionChange, pos)
	}

	if snap.Side == exchange.SideSell {
		e.riskMgr.RecordTrade(realized - snap.TotalFee)
	} else {
		e.riskMgr.RecordTrade(-snap.TotalFee)
	}

	if pos.Qty <= 0 {
		e.riskMgr.RemovePosition(snap.Symbol)
		return
	}
	price := snap.AveragePrice
	if e.cache != nil {
		if last, ok := e.cache.LastPrice(snap.Symbol); ok {
			price = last
		}
	}
	e.riskMgr.UpdatePosition(risk.PositionInfo{
		Symbol:        snap.Symbol,
		Amount:        pos.Qty,
		EntryPrice:    pos.AvgPrice,
		CurrentPrice:  price,
		MarketValue:   pos.Qty * price,
		UnrealizedPnL: (price - pos.AvgPrice) * pos.Qty,
	})
}
