package predictor

import (
	"math"
	"sort"
)

// logistic is a multinomial logistic (softmax) classifier trained by batch
// gradient descent with light L2 regularization. It smooths the kNN output:
// the input rows are scaled features concatenated with the kNN class
// probabilities.
type logistic struct {
	classes []int
	weights [][]float64 // one weight vector per class
	bias    []float64
	lr      float64
	iters   int
	l2      float64
}

func newLogistic() *logistic {
	return &logistic{
		lr:    0.1,
		iters: 1000,
		l2:    1e-4,
	}
}

func (m *logistic) fit(X [][]float64, y []int) {
	seen := map[int]bool{}
	m.classes = m.classes[:0]
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			m.classes = append(m.classes, label)
		}
	}
	sort.Ints(m.classes)

	nClass := len(m.classes)
	nFeat := len(X[0])
	n := float64(len(X))

	classIdx := make(map[int]int, nClass)
	for ci, c := range m.classes {
		classIdx[c] = ci
	}

	m.weights = make([][]float64, nClass)
	for ci := range m.weights {
		m.weights[ci] = make([]float64, nFeat)
	}
	m.bias = make([]float64, nClass)

	if nClass < 2 {
		return
	}

	grads := make([][]float64, nClass)
	gradB := make([]float64, nClass)
	for ci := range grads {
		grads[ci] = make([]float64, nFeat)
	}

	for iter := 0; iter < m.iters; iter++ {
		for ci := range grads {
			for j := range grads[ci] {
				grads[ci][j] = 0
			}
			gradB[ci] = 0
		}

		for i := range X {
			probs := m.softmax(X[i])
			for ci := range m.classes {
				target := 0.0
				if classIdx[y[i]] == ci {
					target = 1.0
				}
				err := probs[ci] - target
				for j := range X[i] {
					grads[ci][j] += err * X[i][j]
				}
				gradB[ci] += err
			}
		}

		for ci := range m.classes {
			for j := 0; j < nFeat; j++ {
				m.weights[ci][j] -= m.lr * (grads[ci][j]/n + m.l2*m.weights[ci][j])
			}
			m.bias[ci] -= m.lr * gradB[ci] / n
		}
	}
}

func (m *logistic) softmax(x []float64) []float64 {
	logits := make([]float64, len(m.classes))
	maxLogit := math.Inf(-1)
	for ci := range m.classes {
		s := m.bias[ci]
		for j := range x {
			s += m.weights[ci][j] * x[j]
		}
		logits[ci] = s
		if s > maxLogit {
			maxLogit = s
		}
	}
	sum := 0.0
	for ci := range logits {
		logits[ci] = math.Exp(logits[ci] - maxLogit)
		sum += logits[ci]
	}
	for ci := range logits {
		logits[ci] /= sum
	}
	return logits
}

// predict returns the highest-probability class; ties resolve to the lowest
// class value.
func (m *logistic) predict(x []float64) int {
	if len(m.classes) == 1 {
		return m.classes[0]
	}
	probs := m.softmax(x)
	best := 0
	for ci := 1; ci < len(probs); ci++ {
		if probs[ci] > probs[best] {
			best = ci
		}
	}
	return m.classes[best]
}
