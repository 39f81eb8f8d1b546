package predictor

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bybit-trading-bot/config"
	"bybit-trading-bot/internal/strategy"
)

func TestScalerFitsTrainingOnly(t *testing.T) {
	train := [][]float64{{0, 5}, {2, 5}}
	s := fitScaler(train)

	scaled := s.transform([][]float64{{4, 5}})
	// mean 1, population std 1: (4-1)/1 = 3
	if math.Abs(scaled[0][0]-3) > 1e-12 {
		t.Errorf("expected 3, got %f", scaled[0][0])
	}
	// zero-variance feature keeps unit scale
	if scaled[0][1] != 0 {
		t.Errorf("constant feature should scale to 0, got %f", scaled[0][1])
	}
}

func TestKNNMajorityVote(t *testing.T) {
	X := [][]float64{{0}, {0.1}, {0.2}, {10}, {10.1}}
	y := []int{1, 1, 1, -1, -1}

	nn := newKNN(3)
	nn.fit(X, y)

	if got := nn.predict([]float64{0.05}); got != 1 {
		t.Errorf("expected 1 near the first cluster, got %d", got)
	}
	if got := nn.predict([]float64{10.05}); got != -1 {
		t.Errorf("expected -1 near the second cluster, got %d", got)
	}

	probs := nn.proba([]float64{0.05})
	// classes ascend: [-1, 1]
	if probs[0] != 0 || probs[1] != 1 {
		t.Errorf("unexpected probabilities %v", probs)
	}
}

func TestKNNVoteTieBreaksLow(t *testing.T) {
	X := [][]float64{{0}, {1}}
	y := []int{1, -1}

	nn := newKNN(2)
	nn.fit(X, y)

	if got := nn.predict([]float64{0.5}); got != -1 {
		t.Errorf("vote tie should resolve to lowest class, got %d", got)
	}
}

func TestLogisticSeparable(t *testing.T) {
	X := [][]float64{{-2}, {-1.5}, {-1}, {1}, {1.5}, {2}}
	y := []int{-1, -1, -1, 1, 1, 1}

	lr := newLogistic()
	lr.fit(X, y)

	if got := lr.predict([]float64{-1.2}); got != -1 {
		t.Errorf("expected -1, got %d", got)
	}
	if got := lr.predict([]float64{1.2}); got != 1 {
		t.Errorf("expected 1, got %d", got)
	}
}

func clusterRows(n int) []strategy.FeatureRow {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]strategy.FeatureRow, n)
	for i := range rows {
		r := strategy.FeatureRow{
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
			Close:           100,
			Volume:          10,
			CCI:             0,
			EMA:             100,
			SMA:             100,
			ATR:             2,
			ADX:             30,
			WT:              0,
			ROC:             0,
			Lorentzian:      1,
			LookaheadPeriod: 7,
		}
		if i%2 == 0 {
			r.RSI = 75 + float64(i%5)
			r.Label = 1
		} else {
			r.RSI = 25 + float64(i%5)
			r.Label = -1
		}
		rows[i] = r
	}
	return rows
}

func testModelConfig(useLogistic bool) config.StrategyConfig {
	return config.StrategyConfig{
		WindowSize:  20,
		UseLogistic: useLogistic,
	}
}

func TestTrainAndPredictSeparableClusters(t *testing.T) {
	rows := clusterRows(21)
	// live sample sits inside the bullish cluster
	rows[20].RSI = 78
	rows[20].Label = 0

	m := New(testModelConfig(false), zerolog.Nop())
	label, ok := m.TrainAndPredict(rows)
	if !ok {
		t.Fatal("expected a prediction")
	}
	if label != 1 {
		t.Errorf("expected bullish prediction, got %d", label)
	}

	rows[20].RSI = 22
	label, ok = m.TrainAndPredict(rows)
	if !ok || label != -1 {
		t.Errorf("expected bearish prediction, got %d ok=%v", label, ok)
	}
}

func TestTrainAndPredictWithSmoothing(t *testing.T) {
	rows := clusterRows(21)
	rows[20].RSI = 78
	rows[20].Label = 0

	m := New(testModelConfig(true), zerolog.Nop())
	label, ok := m.TrainAndPredict(rows)
	if !ok {
		t.Fatal("expected a prediction")
	}
	if label != 1 {
		t.Errorf("expected bullish prediction with smoothing, got %d", label)
	}
}

func TestTrainAndPredictInsufficientRows(t *testing.T) {
	rows := clusterRows(20) // needs windowSize+1 = 21
	m := New(testModelConfig(false), zerolog.Nop())
	if _, ok := m.TrainAndPredict(rows); ok {
		t.Error("expected no signal on insufficient history")
	}
}

func TestTrainAndPredictDegenerateRow(t *testing.T) {
	rows := clusterRows(21)
	rows[10].RSI = math.NaN()
	m := New(testModelConfig(false), zerolog.Nop())
	if _, ok := m.TrainAndPredict(rows); ok {
		t.Error("expected no signal on degenerate feature")
	}
}
