package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratexec/internal/domain"
)

// ProcessedSignalStore implements domain.ProcessedSignalStore using
// PostgreSQL.
type ProcessedSignalStore struct {
	pool *pgxpool.Pool
}

// NewProcessedSignalStore creates a store backed by the given pool.
func NewProcessedSignalStore(pool *pgxpool.Pool) *ProcessedSignalStore {
	return &ProcessedSignalStore{pool: pool}
}

// Compile-time interface check.
var _ domain.ProcessedSignalStore = (*ProcessedSignalStore)(nil)

// Has reports whether the fingerprint has been recorded.
func (s *ProcessedSignalStore) Has(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_signals WHERE fingerprint = $1)",
		fingerprint,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: has processed signal: %w", err)
	}
	return exists, nil
}

// Record durably appends a processed-signal record. Re-recording an existing
// fingerprint is a no-op so reconciliation can run repeatedly.
func (s *ProcessedSignalStore) Record(ctx context.Context, rec domain.ProcessedSignalRecord) error {
	const query = `
		INSERT INTO processed_signals (
			fingerprint, strategy_id, symbol, side, qty, price, bar_index, scale_in, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (fingerprint) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.Fingerprint, rec.StrategyID, rec.Symbol, string(rec.Side),
		rec.Qty, rec.Price, rec.BarIndex, rec.ScaleIn, rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record processed signal %s: %w", rec.Fingerprint, err)
	}
	return nil
}

const processedSignalCols = `fingerprint, strategy_id, symbol, side, qty, price, bar_index, scale_in, processed_at`

func scanProcessedSignals(rows pgx.Rows) ([]domain.ProcessedSignalRecord, error) {
	var recs []domain.ProcessedSignalRecord
	for rows.Next() {
		var rec domain.ProcessedSignalRecord
		var side string
		if err := rows.Scan(
			&rec.Fingerprint, &rec.StrategyID, &rec.Symbol, &side,
			&rec.Qty, &rec.Price, &rec.BarIndex, &rec.ScaleIn, &rec.ProcessedAt,
		); err != nil {
			return nil, err
		}
		rec.Side = domain.OrderSide(side)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListSince returns records processed at or after the given time.
func (s *ProcessedSignalStore) ListSince(ctx context.Context, since time.Time) ([]domain.ProcessedSignalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+processedSignalCols+` FROM processed_signals
		 WHERE processed_at >= $1 ORDER BY processed_at`, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed signals since: %w", err)
	}
	defer rows.Close()

	recs, err := scanProcessedSignals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan processed signals: %w", err)
	}
	return recs, nil
}

// ListBefore returns records processed before the given time. Used by the
// archiver ahead of pruning.
func (s *ProcessedSignalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ProcessedSignalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+processedSignalCols+` FROM processed_signals
		 WHERE processed_at < $1 ORDER BY processed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed signals before: %w", err)
	}
	defer rows.Close()

	recs, err := scanProcessedSignals(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan processed signals: %w", err)
	}
	return recs, nil
}

// DeleteOlderThan prunes records processed before the cutoff.
func (s *ProcessedSignalStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM processed_signals WHERE processed_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune processed signals: %w", err)
	}
	return tag.RowsAffected(), nil
}
