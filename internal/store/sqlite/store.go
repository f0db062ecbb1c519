// Package sqlite implements the domain store interfaces on a local SQLite
// file via the pure-Go driver. Intended for single-node deployments where a
// PostgreSQL dependency is overkill; the schema mirrors the postgres package.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_signals (
	fingerprint  TEXT PRIMARY KEY,
	strategy_id  TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	side         TEXT NOT NULL DEFAULT '',
	qty          INTEGER NOT NULL DEFAULT 0,
	price        REAL NOT NULL DEFAULT 0,
	bar_index    INTEGER NOT NULL DEFAULT 0,
	scale_in     INTEGER NOT NULL DEFAULT 0,
	processed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_signals_processed_at
	ON processed_signals (processed_at);

CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	broker_order_id TEXT NOT NULL DEFAULT '',
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	limit_price     REAL NOT NULL DEFAULT 0,
	stop_price      REAL NOT NULL DEFAULT 0,
	topology        TEXT NOT NULL,
	role            TEXT NOT NULL,
	status          TEXT NOT NULL,
	fingerprint     TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	filled_qty      INTEGER NOT NULL DEFAULT 0,
	filled_price    REAL NOT NULL DEFAULT 0,
	created_at      TIMESTAMP NOT NULL,
	submitted_at    TIMESTAMP,
	filled_at       TIMESTAMP,
	closed_at       TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);

CREATE TABLE IF NOT EXISTS completed_trades (
	client_order_id TEXT PRIMARY KEY,
	broker_order_id TEXT NOT NULL DEFAULT '',
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	qty             INTEGER NOT NULL,
	filled_qty      INTEGER NOT NULL DEFAULT 0,
	filled_price    REAL NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	topology        TEXT NOT NULL,
	role            TEXT NOT NULL,
	reason          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	closed_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_completed_trades_closed_at
	ON completed_trades (closed_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// Store owns the SQLite handle. The typed sub-stores returned by its accessor
// methods satisfy the individual domain interfaces.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite tolerates exactly one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ProcessedSignals returns the idempotency ledger store.
func (s *Store) ProcessedSignals() *ProcessedSignalStore {
	return &ProcessedSignalStore{db: s.db}
}

// Orders returns the order store.
func (s *Store) Orders() *OrderStore {
	return &OrderStore{db: s.db}
}

// Trades returns the completed-trades store.
func (s *Store) Trades() *TradeStore {
	return &TradeStore{db: s.db}
}

// Audit returns the audit log store.
func (s *Store) Audit() *AuditStore {
	return &AuditStore{db: s.db}
}
