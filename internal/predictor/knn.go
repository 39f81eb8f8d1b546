package predictor

import (
	"math"
	"sort"
)

// knn is a k-nearest-neighbor classifier with uniform weights over Euclidean
// distance in scaled feature space. Classes are kept in ascending order;
// probability vectors and vote tie-breaks follow that order.
type knn struct {
	k       int
	X       [][]float64
	y       []int
	classes []int
}

func newKNN(k int) *knn {
	return &knn{k: k}
}

func (m *knn) fit(X [][]float64, y []int) {
	m.X = X
	m.y = y

	seen := map[int]bool{}
	m.classes = m.classes[:0]
	for _, label := range y {
		if !seen[label] {
			seen[label] = true
			m.classes = append(m.classes, label)
		}
	}
	sort.Ints(m.classes)
}

// proba returns the fraction of the k nearest training samples in each class,
// ordered by ascending class value.
func (m *knn) proba(x []float64) []float64 {
	k := m.k
	if k > len(m.X) {
		k = len(m.X)
	}

	type neighbor struct {
		dist float64
		idx  int
	}
	neighbors := make([]neighbor, len(m.X))
	for i := range m.X {
		neighbors[i] = neighbor{dist: euclidean(x, m.X[i]), idx: i}
	}
	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].dist < neighbors[j].dist
	})

	counts := make(map[int]int, len(m.classes))
	for _, nb := range neighbors[:k] {
		counts[m.y[nb.idx]]++
	}

	probs := make([]float64, len(m.classes))
	for ci, class := range m.classes {
		probs[ci] = float64(counts[class]) / float64(k)
	}
	return probs
}

// predict returns the majority class among the k nearest neighbors; vote ties
// resolve to the lowest class value.
func (m *knn) predict(x []float64) int {
	probs := m.proba(x)
	best := 0
	for ci := 1; ci < len(probs); ci++ {
		if probs[ci] > probs[best] {
			best = ci
		}
	}
	return m.classes[best]
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
