package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a queried trade or snapshot does not exist.
var ErrNotFound = errors.New("database: not found")

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection pool and verifies it with a ping.
func NewDB(connString string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss DOUBLE PRECISION NOT NULL,
			take_profit DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL DEFAULT 'OPEN',
			exit_time TIMESTAMPTZ,
			exit_price DOUBLE PRECISION,
			investment_per_trade DOUBLE PRECISION NOT NULL,
			amount_multiplier DOUBLE PRECISION NOT NULL,
			total_fees DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			net_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			sentiment DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_status ON trades(symbol, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades(symbol, exit_time)`,
		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			symbol TEXT PRIMARY KEY,
			computed_at TIMESTAMPTZ NOT NULL,
			total_trades INTEGER NOT NULL,
			winning_trades INTEGER NOT NULL,
			losing_trades INTEGER NOT NULL,
			max_win_streak INTEGER NOT NULL,
			max_loss_streak INTEGER NOT NULL,
			avg_win DOUBLE PRECISION NOT NULL,
			avg_loss DOUBLE PRECISION NOT NULL,
			total_fees DOUBLE PRECISION NOT NULL,
			break_even_win_rate DOUBLE PRECISION NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			roi DOUBLE PRECISION NOT NULL,
			net_balance DOUBLE PRECISION NOT NULL,
			gross_balance DOUBLE PRECISION NOT NULL
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
