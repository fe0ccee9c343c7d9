package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
// connectionString should be in the format: "host=localhost port=5432 user=postgres password=postgres dbname=indexd sslmode=disable"
func NewDB(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// EnsureSchema creates the tables the repositories expect when they do
// not exist yet. Numeric columns are stored as text to round-trip
// decimals exactly.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			coin_id TEXT PRIMARY KEY,
			symbol  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_prices (
			coin_id TEXT NOT NULL REFERENCES assets(coin_id),
			date    DATE NOT NULL,
			price   TEXT NOT NULL,
			PRIMARY KEY (coin_id, date)
		)`,
		`CREATE TABLE IF NOT EXISTS indexes (
			id                    INTEGER PRIMARY KEY,
			symbol                TEXT NOT NULL,
			name                  TEXT NOT NULL,
			address               TEXT NOT NULL DEFAULT '',
			category              TEXT NOT NULL DEFAULT '',
			asset_class           TEXT NOT NULL DEFAULT '',
			assets                JSONB NOT NULL DEFAULT '[]',
			initial_date          DATE NOT NULL,
			initial_price         TEXT NOT NULL,
			rebalance_period_days INTEGER NOT NULL,
			weight_strategy       TEXT NOT NULL,
			weight_threshold      TEXT,
			exchanges_allowed     TEXT[] NOT NULL DEFAULT '{}',
			exchange_trading_fees TEXT NOT NULL DEFAULT '0',
			exchange_avg_spread   TEXT NOT NULL DEFAULT '0'
		)`,
		`CREATE TABLE IF NOT EXISTS rebalances (
			id                     UUID PRIMARY KEY,
			index_id               INTEGER NOT NULL REFERENCES indexes(id),
			effective_date         DATE NOT NULL,
			reason                 TEXT NOT NULL,
			constituents           JSONB NOT NULL,
			total_weight           TEXT NOT NULL,
			anchor_portfolio_value TEXT NOT NULL,
			anchor_index_price     TEXT NOT NULL,
			UNIQUE (index_id, effective_date)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
