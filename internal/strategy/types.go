// Package strategy implements the candle feature pipeline: technical
// indicators, regime and volatility features, adaptive labeling features and
// the candle labeling rules. Each stage is a pure function from an ordered
// row slice plus config to a new row slice; rows whose rolling windows extend
// before the available history are trimmed, never emitted with undefined
// values.
package strategy

import (
	"time"

	"bybit-trading-bot/internal/market"
)

// Regime classifies the prevailing market condition of a row.
type Regime string

const (
	RegimeUptrend   Regime = "Uptrend"
	RegimeDowntrend Regime = "Downtrend"
	RegimeRanging   Regime = "Ranging"
)

// Label values attached to historical rows by the labeling engine.
const (
	LabelBullish = 1
	LabelBearish = -1
	LabelNeutral = 0
)

// FeatureRow is a candle augmented with every derived field the pipeline
// produces. Fields are filled in stage order; a row only reaches downstream
// stages once all fields computed so far are defined.
type FeatureRow struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64

	// Indicator engine
	RSI float64
	CCI float64
	EMA float64
	SMA float64
	ATR float64
	ADX float64
	WT  float64

	// Feature deriver
	EMALong        float64
	SMAShort       float64
	Regime         Regime
	HighVolatility bool

	// Labeling features
	LookaheadPeriod int
	Support         float64
	Resistance      float64
	Breakout        int // +1 above resistance, -1 below support, 0 otherwise
	ROC             float64
	MomentumConfirm int
	Lorentzian      float64

	// Labeling engine output, the supervised target
	Label int

	// Attached after labeling, neutral 50 when the service has no data
	Sentiment float64
}

// NewRows converts raw candles into feature rows with no derived fields set.
func NewRows(candles []market.Candle) []FeatureRow {
	rows := make([]FeatureRow, len(candles))
	for i, c := range candles {
		rows[i] = FeatureRow{
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	return rows
}

// Tail returns the newest n rows without copying.
func Tail(rows []FeatureRow, n int) []FeatureRow {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[len(rows)-n:]
}
