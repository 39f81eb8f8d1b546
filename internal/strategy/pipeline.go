package strategy

import (
	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/market"
)

// BuildFeatures runs the full feature pipeline over raw candles in stage
// order: indicators, derived features, lookahead, structure, momentum,
// Lorentzian distance, labeling. Each stage trims its own warm-up rows, so
// the output is shorter than the input and every field on every returned row
// is defined.
func BuildFeatures(candles []market.Candle, cfg config.StrategyConfig) []FeatureRow {
	rows := NewRows(candles)
	rows = ComputeIndicators(rows, cfg)
	rows = DeriveFeatures(rows, cfg)
	rows = ComputeLookahead(rows, cfg)
	rows = ComputeStructure(rows, cfg)
	rows = ComputeMomentum(rows, cfg)
	rows = ComputeLorentzian(rows, cfg)
	rows = LabelCandles(rows, cfg)
	return rows
}
