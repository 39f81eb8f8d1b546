// Package predictor trains a rolling-window classifier over labeled feature
// rows and predicts the direction label of the newest row.
package predictor

import (
	"math"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/strategy"
)

// Model is the hybrid classifier: a volatility-adaptive kNN, optionally
// smoothed by a softmax model trained on the kNN's class probabilities.
// A Model is owned by a single symbol worker and is not safe for concurrent
// use.
type Model struct {
	cfg    config.StrategyConfig
	logger zerolog.Logger
}

func New(cfg config.StrategyConfig, logger zerolog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.With().Str("component", "predictor").Logger(),
	}
}

// featureVector is the classifier input: the Lorentzian feature set extended
// with the distance itself.
func featureVector(r strategy.FeatureRow) []float64 {
	return []float64{
		r.Close, r.Volume, r.RSI, r.CCI, r.EMA, r.SMA, r.ATR, r.ADX, r.WT, r.ROC,
		r.Lorentzian,
	}
}

// TrainAndPredict fits on the last windowSize rows before the newest row and
// classifies the newest row. It returns ok=false, without error, when there
// is not enough history or a feature is numerically degenerate; the caller
// treats that as no signal and skips trading for the cycle.
func (m *Model) TrainAndPredict(rows []strategy.FeatureRow) (label int, ok bool) {
	windowSize := m.cfg.WindowSize
	if len(rows) < windowSize+1 {
		m.logger.Warn().
			Int("rows", len(rows)).
			Int("required", windowSize+1).
			Msg("not enough rows to train, no signal")
		return 0, false
	}

	train := rows[len(rows)-windowSize-1 : len(rows)-1]
	live := rows[len(rows)-1]

	XTrain := make([][]float64, len(train))
	yTrain := make([]int, len(train))
	lookaheads := make([]float64, len(train))
	for i, r := range train {
		XTrain[i] = featureVector(r)
		yTrain[i] = r.Label
		lookaheads[i] = float64(r.LookaheadPeriod)
		if hasNaN(XTrain[i]) {
			m.logger.Warn().Time("ts", r.Timestamp).Msg("degenerate training row, no signal")
			return 0, false
		}
	}
	xLive := featureVector(live)
	if hasNaN(xLive) {
		m.logger.Warn().Time("ts", live.Timestamp).Msg("degenerate live row, no signal")
		return 0, false
	}

	sc := fitScaler(XTrain)
	XTrainScaled := sc.transform(XTrain)
	xLiveScaled := sc.transform([][]float64{xLive})[0]

	// Neighbor count follows recent realized volatility: the mean adaptive
	// lookahead of the training window, at least 1.
	k := int(math.Round(meanOf(lookaheads)))
	if k < 1 {
		k = 1
	}

	nn := newKNN(k)
	nn.fit(XTrainScaled, yTrain)

	if m.cfg.UseLogistic {
		augTrain := make([][]float64, len(XTrainScaled))
		for i, row := range XTrainScaled {
			augTrain[i] = append(append([]float64{}, row...), nn.proba(row)...)
		}
		lr := newLogistic()
		lr.fit(augTrain, yTrain)

		augLive := append(append([]float64{}, xLiveScaled...), nn.proba(xLiveScaled)...)
		label = lr.predict(augLive)
	} else {
		label = nn.predict(xLiveScaled)
	}

	m.logger.Debug().Int("k", k).Int("label", label).Msg("prediction complete")
	return label, true
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

func meanOf(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}
