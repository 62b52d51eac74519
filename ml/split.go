package ml

import (
	"math"
	"math/rand/v2"
)

// TrainTestSplit shuffles row indices with a seeded generator and returns
// the fit and holdout index sets. The holdout holds ceil(n*testRatio) rows,
// but at least one row is always kept for fitting.
func TrainTestSplit(n int, testRatio float64, seed int64) (train, test []int) {
	if n <= 0 {
		return nil, nil
	}
	perm := rand.New(rand.NewPCG(uint64(seed), 0)).Perm(n)
	nTest := int(math.Ceil(float64(n)*testRatio - 1e-9))
	if nTest >= n {
		nTest = n - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	return perm[nTest:], perm[:nTest]
}

func selectRows(rows [][]float64, indices []int) [][]float64 {
	out := make([][]float64, len(indices))
	for i, idx := range indices {
		out[i] = rows[idx]
	}
	return out
}

func selectValues(values []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}
