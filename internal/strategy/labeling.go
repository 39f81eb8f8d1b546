package strategy

import (
	"math"

	"bybit-trading-bot/config"
)

// ComputeLookahead maps the percentile rank of ATR within the trailing
// lookahead window onto an integer horizon in [LookaheadMin, LookaheadMax].
// Rank 0 maps to the minimum and rank 1 to the maximum, so volatile stretches
// get a wider labeling horizon and, later, more classifier neighbors.
func ComputeLookahead(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	atr := make([]float64, len(rows))
	for i, r := range rows {
		atr[i] = r.ATR
	}
	rank := rollingRankPct(atr, cfg.LookaheadWindow)

	span := float64(cfg.LookaheadMax - cfg.LookaheadMin)
	out := make([]FeatureRow, 0, len(rows))
	for i := range rows {
		if math.IsNaN(rank[i]) {
			continue
		}
		period := int(math.RoundToEven(rank[i]*span + float64(cfg.LookaheadMin)))
		if period < cfg.LookaheadMin {
			period = cfg.LookaheadMin
		}
		if period > cfg.LookaheadMax {
			period = cfg.LookaheadMax
		}
		r := rows[i]
		r.LookaheadPeriod = period
		out = append(out, r)
	}
	return out
}

// ComputeStructure derives support and resistance as window-means of the
// rolling low minimum and high maximum, then flags closes outside those
// levels as breakouts.
func ComputeStructure(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	n := len(rows)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, r := range rows {
		highs[i] = r.High
		lows[i] = r.Low
	}
	w := cfg.StructureWindow
	support := rollingMean(rollingMin(lows, w), w)
	resistance := rollingMean(rollingMax(highs, w), w)

	out := make([]FeatureRow, 0, n)
	for i := range rows {
		if math.IsNaN(support[i]) || math.IsNaN(resistance[i]) {
			continue
		}
		r := rows[i]
		r.Support = support[i]
		r.Resistance = resistance[i]
		switch {
		case r.Close > resistance[i]:
			r.Breakout = 1
		case r.Close < support[i]:
			r.Breakout = -1
		default:
			r.Breakout = 0
		}
		out = append(out, r)
	}
	return out
}

// ComputeMomentum adds the rate of change over the lookahead window and the
// percentile-rank confirmation flag. Rows where ROC is undefined are trimmed;
// rows where only the rank is still warming up keep a neutral flag.
func ComputeMomentum(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	n := len(rows)
	w := cfg.LookaheadWindow
	roc := make([]float64, n)
	for i := range rows {
		if i < w || rows[i-w].Close == 0 {
			roc[i] = math.NaN()
			continue
		}
		roc[i] = (rows[i].Close/rows[i-w].Close - 1) * 100
	}
	rank := rollingRankPct(roc, w)

	out := make([]FeatureRow, 0, n)
	for i := range rows {
		if math.IsNaN(roc[i]) {
			continue
		}
		r := rows[i]
		r.ROC = roc[i]
		r.MomentumConfirm = momentumConfirm(rank[i], cfg)
		out = append(out, r)
	}
	return out
}

func momentumConfirm(rank float64, cfg config.StrategyConfig) int {
	switch {
	case !math.IsNaN(rank) && rank >= cfg.MomentumUpper:
		return 1
	case !math.IsNaN(rank) && rank <= cfg.MomentumLower:
		return -1
	case !math.IsNaN(rank) && rank >= 0.40 && rank <= 0.60:
		// the middle band is explicitly neutral, same as the default
		return 0
	default:
		return 0
	}
}

// lorentzianFeatures is the fixed feature set the displacement metric sums over.
func lorentzianFeatures(r FeatureRow) []float64 {
	return []float64{r.Close, r.Volume, r.RSI, r.CCI, r.EMA, r.SMA, r.ATR, r.ADX, r.WT, r.ROC}
}

// ComputeLorentzian measures feature-space displacement between consecutive
// rows as log(1 + sum of absolute first differences). The first row has no
// predecessor, so its displacement is undefined and the row is trimmed; a
// synthetic zero would otherwise skew the outlier quantile in LabelCandles.
func ComputeLorentzian(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	if len(rows) == 0 {
		return nil
	}
	out := make([]FeatureRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		prev := lorentzianFeatures(rows[i-1])
		cur := lorentzianFeatures(rows[i])
		sum := 0.0
		for j := range cur {
			sum += math.Abs(cur[j] - prev[j])
		}
		r := rows[i]
		r.Lorentzian = math.Log(1 + sum)
		out = append(out, r)
	}
	return out
}

// LabelCandles attaches the supervised label to every row. Labels start
// neutral, then five override rules run in a fixed order and a final
// low-confidence pass neutralizes weak rows. Later rules unconditionally
// overwrite earlier ones for the rows they match; the exact composition is
// part of the strategy contract and must not be reordered or deduplicated.
func LabelCandles(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	out := make([]FeatureRow, len(rows))
	copy(out, rows)

	dists := make([]float64, len(rows))
	for i, r := range rows {
		dists[i] = r.Lorentzian
	}
	outlierThreshold := quantile(dists, cfg.OutlierQuantile)

	for i := range out {
		r := &out[i]
		r.Label = LabelNeutral

		// 1. Trend following
		if r.Close > r.Support && r.EMALong < r.SMAShort && r.ADX > 25 {
			r.Label = LabelBullish
		}
		if r.Close < r.Resistance && r.EMALong > r.SMAShort && r.ADX > 25 {
			r.Label = LabelBearish
		}

		// 2. Neutral zone
		if r.Close >= r.Support && r.Close <= r.Resistance && r.MomentumConfirm == 0 {
			r.Label = LabelNeutral
		}

		// 3. Breakout confirmation
		if r.Breakout == 1 && r.ROC > 0 && r.MomentumConfirm == 1 {
			r.Label = LabelBullish
		}
		if r.Breakout == -1 && r.ROC < 0 && r.MomentumConfirm == -1 {
			r.Label = LabelBearish
		}

		// 4. Counter-trend reversal
		if r.Close < r.Support && r.MomentumConfirm == 1 {
			r.Label = LabelBullish
		}
		if r.Close > r.Resistance && r.MomentumConfirm == -1 {
			r.Label = LabelBearish
		}

		// 5. Lorentzian outliers
		if !math.IsNaN(outlierThreshold) && r.Lorentzian > outlierThreshold {
			if r.Breakout == 1 {
				r.Label = LabelBullish
			}
			if r.Breakout == -1 {
				r.Label = LabelBearish
			}
		}

		// Low-confidence neutralization, always last
		if math.Abs(float64(r.MomentumConfirm)) < cfg.MinMomentum || r.ADX < cfg.MinADX {
			r.Label = LabelNeutral
		}
	}
	return out
}
