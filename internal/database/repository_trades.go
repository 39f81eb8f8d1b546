package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateTrade inserts a new open trade and fills in its generated ID and timestamps.
func (db *DB) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			symbol, direction, entry_time, entry_price, stop_loss, take_profit,
			status, investment_per_trade, amount_multiplier, total_fees,
			pnl, net_pnl, sentiment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`

	err := db.Pool.QueryRow(ctx, query,
		trade.Symbol, trade.Direction, trade.EntryTime, trade.EntryPrice,
		trade.StopLoss, trade.TakeProfit, trade.Status, trade.InvestmentPerTrade,
		trade.AmountMultiplier, trade.TotalFees, trade.PnL, trade.NetPnL,
		trade.Sentiment,
	).Scan(&trade.ID, &trade.CreatedAt, &trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// CloseTrade marks a trade closed with its exit details and final PnL figures.
func (db *DB) CloseTrade(ctx context.Context, trade *Trade) error {
	query := `
		UPDATE trades
		SET status = $1, exit_time = $2, exit_price = $3, total_fees = $4,
		    pnl = $5, net_pnl = $6, amount_multiplier = $7,
		    investment_per_trade = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at`

	err := db.Pool.QueryRow(ctx, query,
		trade.Status, trade.ExitTime, trade.ExitPrice, trade.TotalFees,
		trade.PnL, trade.NetPnL, trade.AmountMultiplier,
		trade.InvestmentPerTrade, trade.ID,
	).Scan(&trade.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to close trade: %w", err)
	}
	return nil
}

// GetOpenTrade returns the open trade for a symbol, or ErrNotFound.
func (db *DB) GetOpenTrade(ctx context.Context, symbol string) (*Trade, error) {
	query := `
		SELECT id, symbol, direction, entry_time, entry_price, stop_loss, take_profit,
		       status, exit_time, exit_price, investment_per_trade, amount_multiplier,
		       total_fees, pnl, net_pnl, sentiment, created_at, updated_at
		FROM trades
		WHERE symbol = $1 AND status = $2
		ORDER BY entry_time DESC
		LIMIT 1`

	trade, err := scanTrade(db.Pool.QueryRow(ctx, query, symbol, TradeStatusOpen))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get open trade: %w", err)
	}
	return trade, nil
}

// GetLastClosedTrade returns the most recently closed trade for a symbol, or ErrNotFound.
func (db *DB) GetLastClosedTrade(ctx context.Context, symbol string) (*Trade, error) {
	query := `
		SELECT id, symbol, direction, entry_time, entry_price, stop_loss, take_profit,
		       status, exit_time, exit_price, investment_per_trade, amount_multiplier,
		       total_fees, pnl, net_pnl, sentiment, created_at, updated_at
		FROM trades
		WHERE symbol = $1 AND status != $2 AND exit_time IS NOT NULL
		ORDER BY exit_time DESC
		LIMIT 1`

	trade, err := scanTrade(db.Pool.QueryRow(ctx, query, symbol, TradeStatusOpen))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get last closed trade: %w", err)
	}
	return trade, nil
}

// GetClosedTrades returns all closed trades for a symbol ordered by exit time ascending.
func (db *DB) GetClosedTrades(ctx context.Context, symbol string) ([]*Trade, error) {
	query := `
		SELECT id, symbol, direction, entry_time, entry_price, stop_loss, take_profit,
		       status, exit_time, exit_price, investment_per_trade, amount_multiplier,
		       total_fees, pnl, net_pnl, sentiment, created_at, updated_at
		FROM trades
		WHERE symbol = $1 AND status != $2 AND exit_time IS NOT NULL
		ORDER BY exit_time ASC`

	rows, err := db.Pool.Query(ctx, query, symbol, TradeStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to get closed trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetRecentTrades returns the latest trades for a symbol, newest first.
func (db *DB) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error) {
	query := `
		SELECT id, symbol, direction, entry_time, entry_price, stop_loss, take_profit,
		       status, exit_time, exit_price, investment_per_trade, amount_multiplier,
		       total_fees, pnl, net_pnl, sentiment, created_at, updated_at
		FROM trades
		WHERE symbol = $1
		ORDER BY entry_time DESC
		LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(
		&t.ID, &t.Symbol, &t.Direction, &t.EntryTime, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit, &t.Status, &t.ExitTime, &t.ExitPrice,
		&t.InvestmentPerTrade, &t.AmountMultiplier, &t.TotalFees,
		&t.PnL, &t.NetPnL, &t.Sentiment, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTrades(rows pgx.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}
