package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertPerformanceSnapshot stores the latest performance figures for a symbol,
// replacing any previous snapshot.
func (db *DB) UpsertPerformanceSnapshot(ctx context.Context, snap *PerformanceSnapshot) error {
	query := `
		INSERT INTO performance_snapshots (
			symbol, computed_at, total_trades, winning_trades, losing_trades,
			max_win_streak, max_loss_streak, avg_win, avg_loss, total_fees,
			break_even_win_rate, win_rate, roi, net_balance, gross_balance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (symbol) DO UPDATE SET
			computed_at = EXCLUDED.computed_at,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			max_win_streak = EXCLUDED.max_win_streak,
			max_loss_streak = EXCLUDED.max_loss_streak,
			avg_win = EXCLUDED.avg_win,
			avg_loss = EXCLUDED.avg_loss,
			total_fees = EXCLUDED.total_fees,
			break_even_win_rate = EXCLUDED.break_even_win_rate,
			win_rate = EXCLUDED.win_rate,
			roi = EXCLUDED.roi,
			net_balance = EXCLUDED.net_balance,
			gross_balance = EXCLUDED.gross_balance`

	_, err := db.Pool.Exec(ctx, query,
		snap.Symbol, snap.ComputedAt, snap.TotalTrades, snap.WinningTrades,
		snap.LosingTrades, snap.MaxWinStreak, snap.MaxLossStreak, snap.AvgWin,
		snap.AvgLoss, snap.TotalFees, snap.BreakEvenWinRate, snap.WinRate,
		snap.ROI, snap.NetBalance, snap.GrossBalance,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert performance snapshot: %w", err)
	}
	return nil
}

// GetPerformanceSnapshot returns the stored snapshot for a symbol, or ErrNotFound.
func (db *DB) GetPerformanceSnapshot(ctx context.Context, symbol string) (*PerformanceSnapshot, error) {
	query := `
		SELECT symbol, computed_at, total_trades, winning_trades, losing_trades,
		       max_win_streak, max_loss_streak, avg_win, avg_loss, total_fees,
		       break_even_win_rate, win_rate, roi, net_balance, gross_balance
		FROM performance_snapshots
		WHERE symbol = $1`

	var s PerformanceSnapshot
	err := db.Pool.QueryRow(ctx, query, symbol).Scan(
		&s.Symbol, &s.ComputedAt, &s.TotalTrades, &s.WinningTrades,
		&s.LosingTrades, &s.MaxWinStreak, &s.MaxLossStreak, &s.AvgWin,
		&s.AvgLoss, &s.TotalFees, &s.BreakEvenWinRate, &s.WinRate,
		&s.ROI, &s.NetBalance, &s.GrossBalance,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get performance snapshot: %w", err)
	}
	return &s, nil
}
