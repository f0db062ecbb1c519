package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			client_order_id, broker_order_id, strategy_id, symbol, side, qty,
			limit_price, stop_price, topology, role, status, fingerprint,
			reason, filled_qty, filled_price,
			created_at, submitted_at, filled_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, o.BrokerOrderID, o.StrategyID, o.Symbol,
		string(o.Side), o.Qty,
		o.LimitPrice, o.StopPrice, string(o.Topology), string(o.Role),
		string(o.Status), o.Fingerprint,
		o.Reason, o.FilledQty, o.FilledPrice,
		o.CreatedAt, o.SubmittedAt, o.FilledAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// Update replaces the mutable lifecycle fields of an existing order.
func (s *OrderStore) Update(ctx context.Context, o domain.Order) error {
	const query = `
		UPDATE orders SET
			broker_order_id = $2, status = $3, reason = $4,
			filled_qty = $5, filled_price = $6,
			submitted_at = $7, filled_at = $8, closed_at = $9,
			updated_at = NOW()
		WHERE client_order_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, o.BrokerOrderID, string(o.Status), o.Reason,
		o.FilledQty, o.FilledPrice,
		o.SubmittedAt, o.FilledAt, o.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", o.ClientOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `client_order_id, broker_order_id, strategy_id, symbol, side, qty,
	limit_price, stop_price, topology, role, status, fingerprint,
	reason, filled_qty, filled_price, created_at, submitted_at, filled_at, closed_at`

func scanOrderFromRow(
	scanner interface{ Scan(dest ...any) error },
) (domain.Order, error) {
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

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrderFromRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetByClientID retrieves a single order by its client order ID.
func (s *OrderStore) GetByClientID(ctx context.Context, clientOrderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE client_order_id = $1`, clientOrderID)

	o, err := scanOrderFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", clientOrderID, err)
	}
	return o, nil
}

// ListActive returns all orders still in a non-terminal status.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE status IN ('pending', 'submitted')
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active orders: %w", err)
	}
	return orders, nil
}
