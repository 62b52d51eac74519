package ml

import "context"

// Regressor is a fitted model mapping an ordered feature vector to a value.
type Regressor interface {
	Fit(ctx context.Context, features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
}

var (
	_ Regressor = (*RegressionTree)(nil)
	_ Regressor = (*RandomForest)(nil)
)
