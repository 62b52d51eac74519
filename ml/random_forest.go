package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// ForestConfig holds the forest hyper-parameters.
type ForestConfig struct {
	NumTrees        int   `json:"num_trees" yaml:"num_trees"`
	MaxDepth        int   `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features" yaml:"max_features"`
	Bootstrap       bool  `json:"bootstrap" yaml:"bootstrap"`
	Seed            int64 `json:"seed" yaml:"seed"`
}

// DefaultForestConfig mirrors the usual regression forest defaults:
// 100 bootstrapped trees grown to purity over all features, seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// RandomForest averages the predictions of bootstrapped regression trees.
type RandomForest struct {
	Config      ForestConfig      `json:"config"`
	Trees       []*RegressionTree `json:"trees"`
	NumFeatures int               `json:"num_features"`
	Importances []float64         `json:"importances"`
}

func NewRandomForest(config ForestConfig) *RandomForest {
	if config.NumTrees <= 0 {
		config.NumTrees = 100
	}
	return &RandomForest{Config: config}
}

// Fit grows every tree from its own generator seeded by (Seed, tree index),
// so the fitted forest is the same however the trees are scheduled.
func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if len(features) == 0 {
		return errors.New("empty training data")
	}
	if len(features) != len(targets) {
		return errors.New("features and targets must have the same number of samples")
	}
	rf.NumFeatures = len(features[0])
	for i, row := range features {
		if len(row) != rf.NumFeatures {
			return fmt.Errorf("sample %d has %d features, expected %d", i, len(row), rf.NumFeatures)
		}
	}

	trees := make([]*RegressionTree, rf.Config.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(rf.Config.Seed), uint64(i)))
			tree := NewRegressionTree(rf.Config.MaxDepth, rf.Config.MinSamplesSplit, rf.Config.MinSamplesLeaf, rf.Config.MaxFeatures, rng)
			var err error
			if rf.Config.Bootstrap {
				err = tree.fitIndices(gctx, features, targets, bootstrap(rng, len(features)))
			} else {
				err = tree.Fit(gctx, features, targets)
			}
			if err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.Importances = make([]float64, rf.NumFeatures)
	for _, tree := range trees {
		floats.Add(rf.Importances, tree.importance)
	}
	if total := floats.Sum(rf.Importances); total > 0 {
		floats.Scale(1/total, rf.Importances)
	}
	return nil
}

// bootstrap draws n row indices with replacement.
func bootstrap(rng *rand.Rand, n int) []int {
	indices := make([]int, n)
	for i := range indices {
		indices[i] = rng.IntN(n)
	}
	return indices
}

// Depth returns the depth of the deepest tree.
func (rf *RandomForest) Depth() int {
	depth := 0
	for _, tree := range rf.Trees {
		if tree != nil {
			depth = max(depth, tree.Depth())
		}
	}
	return depth
}

func (rf *RandomForest) Predict(features []float64) (float64, error) {
	if len(rf.Trees) == 0 {
		return 0, errors.New("model not trained")
	}
	if len(features) != rf.NumFeatures {
		return 0, fmt.Errorf("expected %d features, got %d", rf.NumFeatures, len(features))
	}
	preds := make([]float64, 0, len(rf.Trees))
	for i, tree := range rf.Trees {
		if tree == nil {
			return 0, fmt.Errorf("tree %d missing", i)
		}
		p, err := tree.Predict(features)
		if err != nil {
			return 0, fmt.Errorf("tree %d: %w", i, err)
		}
		preds = append(preds, p)
	}
	mean := floats.Sum(preds) / float64(len(preds))
	if math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0, errors.New("prediction is not finite")
	}
	return mean, nil
}

// Validate checks that a loaded forest is usable.
func (rf *RandomForest) Validate() error {
	if len(rf.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, tree := range rf.Trees {
		if tree == nil || len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", i)
		}
		if tree.NumFeatures != rf.NumFeatures {
			return fmt.Errorf("tree %d expects %d features, forest %d", i, tree.NumFeatures, rf.NumFeatures)
		}
	}
	return nil
}
