package predictor

import "math"

// scaler standardizes features to zero mean and unit variance. It is fit on
// the training rows only; the live sample is transformed with the training
// statistics so nothing leaks from it into the fit. Zero-variance features
// keep a unit scale.
type scaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(X [][]float64) *scaler {
	if len(X) == 0 {
		return &scaler{}
	}
	nFeat := len(X[0])
	s := &scaler{
		mean:  make([]float64, nFeat),
		scale: make([]float64, nFeat),
	}
	n := float64(len(X))
	for j := 0; j < nFeat; j++ {
		sum := 0.0
		for i := range X {
			sum += X[i][j]
		}
		s.mean[j] = sum / n

		ss := 0.0
		for i := range X {
			d := X[i][j] - s.mean[j]
			ss += d * d
		}
		std := math.Sqrt(ss / n)
		if std == 0 {
			std = 1
		}
		s.scale[j] = std
	}
	return s
}

func (s *scaler) transform(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range X {
		row := make([]float64, len(X[i]))
		for j := range X[i] {
			row[j] = (X[i][j] - s.mean[j]) / s.scale[j]
		}
		out[i] = row
	}
	return out
}
