package db

import (
	"context"
	"database/sql"
	"time"
)

// Position is the persisted view of one holding.
type Position struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
}

// OrderRecord is the audit row for a completed order.
type OrderRecord struct {
	ID              string    `json:"id"`
	ClientOrderID   string    `json:"client_order_id"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	OrderType       string    `json:"order_type"`
	Amount          float64   `json:"amount"`
	Price           float64   `json:"price"`
	FilledAmount    float64   `json:"filled_amount"`
	AveragePrice    float64   `json:"average_price"`
	TotalFee        float64   `json:"total_fee"`
	Status          string    `json:"status"`
	StrategyName    string    `json:"strategy_name,omitempty"`
	Priority        int       `json:"priority"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpsertPosition writes or refreshes a position row.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_price, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Qty, p.AvgPrice)
	return err
}

// ListPositions returns all persisted positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT symbol, qty, avg_price FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOrders returns the most recent order audit rows.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(client_order_id, ''), COALESCE(exchange_order_id, ''), symbol, side, order_type,
			amount, price, filled_amount, average_price, total_fee, status,
			COALESCE(strategy_name, ''), priority, COALESCE(error_message, ''), retry_count,
			created_at, updated_at
		FROM orders ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ID, &o.ClientOrderID, &o.ExchangeOrderID, &o.Symbol, &o.Side,
			&o.OrderType, &o.Amount, &o.Price, &o.FilledAmount, &o.AveragePrice, &o.TotalFee,
			&o.Status, &o.StrategyName, &o.Priority, &o.ErrorMessage, &o.RetryCount,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveStrategyState upserts the serialized state of one strategy.
func (d *Database) SaveStrategyState(ctx context.Context, strategyID string, state []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_states (strategy_id, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(strategy_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, strategyID, string(state))
	return err
}

// LoadStrategyState fetches the serialized state for a strategy, or
// nil when none was saved.
func (d *Database) LoadStrategyState(ctx context.Context, strategyID string) ([]byte, error) {
	var state string
	err := d.DB.QueryRowContext(ctx, `
		SELECT state_data FROM strategy_states WHERE strategy_id = ?
	`, strategyID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(state), nil
}
