package strategy

import (
	"math"

	"bybit-trading-bot/config"
)

// ComputeIndicators augments rows with RSI, CCI, EMA, SMA, ATR, ADX and
// WaveTrend and trims the warm-up prefix where any of them is undefined.
// Zero-denominator cases (flat markets) resolve to undefined values and are
// trimmed with the warm-up, never emitted.
func ComputeIndicators(rows []FeatureRow, cfg config.StrategyConfig) []FeatureRow {
	n := len(rows)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	hlc3 := make([]float64, n)
	ranges := make([]float64, n)
	for i, r := range rows {
		closes[i] = r.Close
		highs[i] = r.High
		lows[i] = r.Low
		hlc3[i] = (r.High + r.Low + r.Close) / 3
		ranges[i] = r.High - r.Low
	}

	rsi := computeRSI(closes, cfg.RSIPeriod)
	cci := computeCCI(hlc3, cfg.CCIPeriod)
	ema := ewm(closes, cfg.EMAPeriod)
	sma := rollingMean(closes, cfg.SMAPeriod)
	atr := rollingMean(ranges, cfg.ATRPeriod)
	adx := computeADX(highs, lows, closes, cfg.ADXPeriod)
	wt := computeWaveTrend(hlc3, cfg.WTChannelPeriod, cfg.WTAveragePeriod)

	out := make([]FeatureRow, 0, n)
	for i := range rows {
		if anyNaN(rsi[i], cci[i], ema[i], sma[i], atr[i], adx[i], wt[i]) {
			continue
		}
		r := rows[i]
		r.RSI = rsi[i]
		r.CCI = cci[i]
		r.EMA = ema[i]
		r.SMA = sma[i]
		r.ATR = atr[i]
		r.ADX = adx[i]
		r.WT = wt[i]
		out = append(out, r)
	}
	return out
}

// computeRSI converts the trailing gain/loss ratio to the 0-100 oscillator.
// The first delta is unknown and counts as neither gain nor loss. A window
// with zero average loss leaves the ratio undefined.
func computeRSI(closes []float64, period int) []float64 {
	delta := diff(closes)
	gain := make([]float64, len(delta))
	loss := make([]float64, len(delta))
	for i, d := range delta {
		if !math.IsNaN(d) && d > 0 {
			gain[i] = d
		}
		if !math.IsNaN(d) && d < 0 {
			loss[i] = -d
		}
	}
	avgGain := rollingMean(gain, period)
	avgLoss := rollingMean(loss, period)

	out := make([]float64, len(closes))
	for i := range out {
		if math.IsNaN(avgGain[i]) || math.IsNaN(avgLoss[i]) || avgLoss[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// computeCCI normalizes typical-price deviation by 0.015 times the mean
// absolute deviation.
func computeCCI(hlc3 []float64, period int) []float64 {
	m := rollingMean(hlc3, period)
	dev := make([]float64, len(hlc3))
	for i := range hlc3 {
		if math.IsNaN(m[i]) {
			dev[i] = math.NaN()
			continue
		}
		dev[i] = math.Abs(hlc3[i] - m[i])
	}
	meanDev := rollingMean(dev, period)

	out := make([]float64, len(hlc3))
	for i := range out {
		if math.IsNaN(m[i]) || math.IsNaN(meanDev[i]) || meanDev[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (hlc3[i] - m[i]) / (0.015 * meanDev[i])
	}
	return out
}

// computeADX is a Wilder-style directional movement index. True range uses
// the prior close, so the first bar is undefined; directional movement on the
// first bar counts as zero.
func computeADX(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 {
			tr[i] = math.NaN()
			continue
		}
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))

		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	trMean := rollingMean(tr, period)
	plusMean := rollingMean(plusDM, period)
	minusMean := rollingMean(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(trMean[i]) || math.IsNaN(plusMean[i]) || math.IsNaN(minusMean[i]) || trMean[i] == 0 {
			dx[i] = math.NaN()
			continue
		}
		plusDI := 100 * plusMean[i] / trMean[i]
		minusDI := 100 * minusMean[i] / trMean[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = math.NaN()
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}
	return rollingMean(dx, period)
}

// computeWaveTrend is the double-smoothed deviation of typical price from its
// own EMA, normalized like CCI.
func computeWaveTrend(hlc3 []float64, channelPeriod, averagePeriod int) []float64 {
	esa := ewm(hlc3, channelPeriod)
	absDev := make([]float64, len(hlc3))
	for i := range hlc3 {
		absDev[i] = math.Abs(hlc3[i] - esa[i])
	}
	d := ewm(absDev, averagePeriod)

	out := make([]float64, len(hlc3))
	for i := range out {
		if d[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (hlc3[i] - esa[i]) / (0.015 * d[i])
	}
	return out
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
