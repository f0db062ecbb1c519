package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// OrderStore implements domain.OrderStore on SQLite.
type OrderStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)

const orderCols = `client_order_id, broker_order_id, strategy_id, symbol, side, qty,
	limit_price, stop_price, topology, role, status, fingerprint,
	reason, filled_qty, filled_price, created_at, submitted_at, filled_at, closed_at`

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientOrderID, o.BrokerOrderID, o.StrategyID, o.Symbol,
		string(o.Side), o.Qty,
		o.LimitPrice, o.StopPrice, string(o.Topology), string(o.Role),
		string(o.Status), o.Fingerprint,
		o.Reason, o.FilledQty, o.FilledPrice,
		o.CreatedAt, o.SubmittedAt, o.FilledAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: create order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// Update replaces the mutable lifecycle fields of an existing order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			broker_order_id = ?, status = ?, reason = ?,
			filled_qty = ?, filled_price = ?,
			submitted_at = ?, filled_at = ?, closed_at = ?
		WHERE client_order_id = ?`,
		o.BrokerOrderID, string(o.Status), o.Reason,
		o.FilledQty, o.FilledPrice,
		o.SubmittedAt, o.FilledAt, o.ClosedAt,
		o.ClientOrderID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update order %s: %w", o.ClientOrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: update order %s: %w", o.ClientOrderID, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var side, topology, role, status string
	err := scanner.Scan(
		&o.ClientOrderID, &o.BrokerOrderID, &o.StrategyID, &o.Symbol,
		&side, &o.Qty,
		&o.LimitPrice, &o.StopPrice, &topology, &role, &status, &o.Fingerprint,
		&o.Reason, &o.FilledQty, &o.FilledPrice,
		&o.CreatedAt, &o.SubmittedAt, &o.FilledAt, &o.ClosedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Topology = domain.OrderTopology(topology)
	o.Role = domain.OrderRole(role)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// GetByClientID retrieves a single order by its client order ID.
func (s *OrderStore) GetByClientID(ctx context.Context, clientOrderID string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orderCols+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("sqlite: get order %s: %w", clientOrderID, err)
	}
	return o, nil
}

func (s *OrderStore) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListActive returns all orders still in a non-terminal status.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	return s.list(ctx,
		`SELECT `+orderCols+` FROM orders
		 WHERE status IN ('pending', 'submitted') ORDER BY created_at`)
}
