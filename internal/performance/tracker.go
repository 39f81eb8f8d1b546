// Package performance recomputes per-symbol trading statistics from the full
// closed trade history after every close.
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/database"
)

// Tracker recomputes and persists performance snapshots.
type Tracker struct {
	cfg    config.RiskConfig
	ledger database.Ledger
	logger zerolog.Logger
}

// NewTracker creates a performance tracker.
func NewTracker(cfg config.RiskConfig, ledger database.Ledger, logger zerolog.Logger) *Tracker {
	return &Tracker{
		cfg:    cfg,
		ledger: ledger,
		logger: logger.With().Str("component", "performance").Logger(),
	}
}

// Recompute rebuilds the snapshot for a symbol from its closed trades and
// upserts it. No closed trades is not an error; the snapshot is left untouched.
func (t *Tracker) Recompute(ctx context.Context, symbol string) error {
	closed, err := t.ledger.GetClosedTrades(ctx, symbol)
	if err != nil {
		return fmt.Errorf("failed to load closed trades for %s: %w", symbol, err)
	}
	if len(closed) == 0 {
		t.logger.Debug().Str("symbol", symbol).Msg("no closed trades yet, skipping analysis")
		return nil
	}

	snap := Compute(symbol, closed, t.cfg)
	if err := t.ledger.UpsertPerformanceSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to store performance snapshot for %s: %w", symbol, err)
	}

	t.logger.Info().
		Str("symbol", symbol).
		Int("total_trades", snap.TotalTrades).
		Float64("win_rate", snap.WinRate).
		Float64("roi", snap.ROI).
		Msg("performance snapshot updated")
	return nil
}

// Compute derives a snapshot from closed trades ordered by exit time.
func Compute(symbol string, closed []*database.Trade, cfg config.RiskConfig) *database.PerformanceSnapshot {
	var (
		winners, losers           int
		sumNetPnL, sumGrossPnL    float64
		sumWinPnL, sumLossPnL     float64
		totalFees                 float64
		maxWinStreak, winStreak   int
		maxLossStreak, lossStreak int
	)

	for _, trade := range closed {
		sumNetPnL += trade.NetPnL
		sumGrossPnL += trade.PnL
		totalFees += trade.TotalFees

		switch trade.Status {
		case database.TradeStatusTakeProfit:
			winners++
			sumWinPnL += trade.NetPnL
			winStreak++
			lossStreak = 0
			if winStreak > maxWinStreak {
				maxWinStreak = winStreak
			}
		case database.TradeStatusStopLoss:
			losers++
			sumLossPnL += trade.NetPnL
			lossStreak++
			winStreak = 0
			if lossStreak > maxLossStreak {
				maxLossStreak = lossStreak
			}
		default:
			winStreak = 0
			lossStreak = 0
		}
	}

	avgWin := 0.0
	if winners > 0 {
		avgWin = sumWinPnL / float64(winners)
	}
	avgLoss := 0.0
	if losers > 0 {
		avgLoss = sumLossPnL / float64(losers)
	}

	total := len(closed)
	netBalance := cfg.InitialBalance + sumNetPnL
	grossBalance := cfg.InitialBalance + sumGrossPnL

	return &database.PerformanceSnapshot{
		Symbol:           symbol,
		ComputedAt:       time.Now().UTC(),
		TotalTrades:      total,
		WinningTrades:    winners,
		LosingTrades:     losers,
		MaxWinStreak:     maxWinStreak,
		MaxLossStreak:    maxLossStreak,
		AvgWin:           avgWin,
		AvgLoss:          avgLoss,
		TotalFees:        totalFees,
		BreakEvenWinRate: 100 / (1 + cfg.RewardToRisk()),
		WinRate:          float64(winners) / float64(total) * 100,
		ROI:              (netBalance - cfg.InitialBalance) / cfg.InitialBalance * 100,
		NetBalance:       netBalance,
		GrossBalance:     grossBalance,
	}
}
