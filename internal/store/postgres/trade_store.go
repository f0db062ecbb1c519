package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// TradeStore implements domain.CompletedTradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ domain.CompletedTradeStore = (*TradeStore)(nil)

// Insert appends a completed trade. Re-inserting the same client order ID is
// a no-op: the tracker may see the same terminal transition twice.
func (s *TradeStore) Insert(ctx context.Context, t domain.CompletedTrade) error {
	const query = `
		INSERT INTO completed_trades (
			client_order_id, broker_order_id, strategy_id, symbol, side, qty,
			filled_qty, filled_price, status, topology, role, reason,
			created_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (client_order_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ClientOrderID, t.BrokerOrderID, t.StrategyID, t.Symbol,
		string(t.Side), t.Qty,
		t.FilledQty, t.FilledPrice, string(t.Status),
		string(t.Topology), string(t.Role), t.Reason,
		t.CreatedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert completed trade %s: %w", t.ClientOrderID, err)
	}
	return nil
}

const tradeSelectCols = `client_order_id, broker_order_id, strategy_id, symbol, side, qty,
	filled_qty, filled_price, status, topology, role, reason, created_at, closed_at`

func scanTrades(rows pgx.Rows) ([]domain.CompletedTrade, error) {
	var trades []domain.CompletedTrade
	for rows.Next() {
		var t domain.CompletedTrade
		var side, status, topology, role string
		if err := rows.Scan(
			&t.ClientOrderID, &t.BrokerOrderID, &t.StrategyID, &t.Symbol,
			&side, &t.Qty,
			&t.FilledQty, &t.FilledPrice, &status, &topology, &role, &t.Reason,
			&t.CreatedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		t.Status = domain.OrderStatus(status)
		t.Topology = domain.OrderTopology(topology)
		t.Role = domain.OrderRole(role)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListRecent returns the most recently closed trades.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.CompletedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM completed_trades
		 ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent trades: %w", err)
	}
	return trades, nil
}

// ListBefore returns trades closed before the given time, oldest first. Used
// by the archiver ahead of pruning.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CompletedTrade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM completed_trades
		 WHERE closed_at < $1 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before: %w", err)
	}
	defer rows.Close()

	trades, err := scanTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

// DeleteOlderThan prunes trades closed before the cutoff.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM completed_trades WHERE closed_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune completed trades: %w", err)
	}
	return tag.RowsAffected(), nil
}
