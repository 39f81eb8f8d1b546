package strategy

import (
	"math"

	"bybit-trading-bot/config"
)

// DeriveFeatures adds the regime classification and the high-volatility flag.
// The regime compares the gradient of the short-SMA to long-EMA ratio against
// its own rolling standard deviation; undefined comparisons fall through to
// Ranging. The volatility flag marks rows whose ATR/close ratio exceeds the
// configured rolling percentile; before that percentile is defined the flag
// stays false. Intermediate series are not retained on the rows.
func DeriveFeatures(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	n := len(rows)
	closes := make([]float64, n)
	for i, r := range rows {
		closes[i] = r.Close
	}

	emaLong := ewm(closes, cfg.EMALongPeriod)
	smaShort := rollingMean(closes, cfg.SMAShortPeriod)

	ratio := make([]float64, n)
	for i := range ratio {
		if math.IsNaN(smaShort[i]) || emaLong[i] == 0 {
			ratio[i] = math.NaN()
			continue
		}
		ratio[i] = smaShort[i] / emaLong[i]
	}
	gradient := diff(ratio)
	gradStd := rollingStd(gradient, cfg.SMAShortPeriod)

	volRatio := make([]float64, n)
	for i, r := range rows {
		if r.Close == 0 {
			volRatio[i] = math.NaN()
			continue
		}
		volRatio[i] = r.ATR / r.Close
	}
	volThreshold := rollingQuantile(volRatio, cfg.VolWindow, cfg.VolThreshold)

	out := make([]FeatureRow, 0, n)
	for i := range rows {
		if math.IsNaN(smaShort[i]) || math.IsNaN(gradient[i]) || math.IsNaN(volRatio[i]) {
			continue
		}
		r := rows[i]
		r.EMALong = emaLong[i]
		r.SMAShort = smaShort[i]
		r.Regime = classifyRegime(gradient[i], gradStd[i])
		r.HighVolatility = !math.IsNaN(volThreshold[i]) && volRatio[i] > volThreshold[i]
		out = append(out, r)
	}
	return out
}

// classifyRegime resolves ties and undefined deviations to Ranging.
func classifyRegime(gradient, std float64) Regime {
	if math.IsNaN(std) {
		return RegimeRanging
	}
	if gradient > std {
		return RegimeUptrend
	}
	if gradient < -std {
		return RegimeDowntrend
	}
	return RegimeRanging
}
