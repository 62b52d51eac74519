package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics are holdout regression scores.
type Metrics struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	N    int     `json:"n"`
}

// Evaluate scores predictions against actual values. R2 is reported as 0
// when the actual values have no variance, so metrics always serialize.
func Evaluate(actual, predicted []float64) Metrics {
	n := len(actual)
	if n == 0 || n != len(predicted) {
		return Metrics{}
	}
	r2 := stat.RSquaredFrom(predicted, actual, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}
	return Metrics{
		R2:   r2,
		MAE:  floats.Distance(actual, predicted, 1) / float64(n),
		RMSE: floats.Distance(actual, predicted, 2) / math.Sqrt(float64(n)),
		N:    n,
	}
}
