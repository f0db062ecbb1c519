package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// TradeStore implements domain.CompletedTradeStore on SQLite.
type TradeStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ domain.CompletedTradeStore = (*TradeStore)(nil)

const tradeCols = `client_order_id, broker_order_id, strategy_id, symbol, side, qty,
	filled_qty, filled_price, status, topology, role, reason, created_at, closed_at`

// Insert appends a completed trade. Duplicate client order IDs are a no-op:
// the tracker may see the same terminal transition twice.
func (s *TradeStore) Insert(ctx context.Context, t domain.CompletedTrade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO completed_trades (`+tradeCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ClientOrderID, t.BrokerOrderID, t.StrategyID, t.Symbol,
		string(t.Side), t.Qty,
		t.FilledQty, t.FilledPrice, string(t.Status),
		string(t.Topology), string(t.Role), t.Reason,
		t.CreatedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert completed trade %s: %w", t.ClientOrderID, err)
	}
	return nil
}

func (s *TradeStore) list(ctx context.Context, query string, args ...any) ([]domain.CompletedTrade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

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
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
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
	return s.list(ctx,
		`SELECT `+tradeCols+` FROM completed_trades ORDER BY closed_at DESC LIMIT ?`, limit)
}

// ListBefore returns trades closed before the given time, oldest first. Used
// by the archiver ahead of pruning.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CompletedTrade, error) {
	return s.list(ctx,
		`SELECT `+tradeCols+` FROM completed_trades WHERE closed_at < ? ORDER BY closed_at`, before)
}

// DeleteOlderThan prunes trades closed before the cutoff.
func (s *TradeStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM completed_trades WHERE closed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune completed trades: %w", err)
	}
	return res.RowsAffected()
}
