package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// ProcessedSignalStore implements domain.ProcessedSignalStore on SQLite.
type ProcessedSignalStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ domain.ProcessedSignalStore = (*ProcessedSignalStore)(nil)

// Has reports whether the fingerprint has been recorded.
func (s *ProcessedSignalStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_signals WHERE fingerprint = ?)",
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: has processed signal: %w", err)
	}
	return exists == 1, nil
}

// Record durably appends a processed-signal record. Duplicate fingerprints
// are a no-op so reconciliation can run repeatedly.
func (s *ProcessedSignalStore) Record(ctx context.Context, rec domain.ProcessedSignalRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_signals
			(fingerprint, strategy_id, symbol, side, qty, price, bar_index, scale_in, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Fingerprint, rec.StrategyID, rec.Symbol, string(rec.Side),
		rec.Qty, rec.Price, rec.BarIndex, rec.ScaleIn, rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record processed signal %s: %w", rec.Fingerprint, err)
	}
	return nil
}

func (s *ProcessedSignalStore) list(ctx context.Context, where string, arg time.Time) ([]domain.ProcessedSignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, strategy_id, symbol, side, qty, price, bar_index, scale_in, processed_at
		FROM processed_signals WHERE `+where+` ORDER BY processed_at`, arg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list processed signals: %w", err)
	}
	defer rows.Close()

	var recs []domain.ProcessedSignalRecord
	for rows.Next() {
		var rec domain.ProcessedSignalRecord
		var side string
		if err := rows.Scan(
			&rec.Fingerprint, &rec.StrategyID, &rec.Symbol, &side,
			&rec.Qty, &rec.Price, &rec.BarIndex, &rec.ScaleIn, &rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan processed signal: %w", err)
		}
		rec.Side = domain.OrderSide(side)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListSince returns records processed at or after the given time.
func (s *ProcessedSignalStore) ListSince(ctx context.Context, since time.Time) ([]domain.ProcessedSignalRecord, error) {
	return s.list(ctx, "processed_at >= ?", since)
}

// ListBefore returns records processed before the given time.
func (s *ProcessedSignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ProcessedSignalRecord, error) {
	return s.list(ctx, "processed_at < ?", before)
}

// DeleteOlderThan prunes records processed before the cutoff.
func (s *ProcessedSignalStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM processed_signals WHERE processed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune processed signals: %w", err)
	}
	return res.RowsAffected()
}
