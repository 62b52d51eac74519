package ml

import (
	"context"
	"math"
	"testing"
)

func TestRandomForestDeterministic(t *testing.T) {
	features, targets := stepData()
	cfg := DefaultForestConfig()
	cfg.NumTrees = 20

	a := NewRandomForest(cfg)
	b := NewRandomForest(cfg)
	if err := a.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, x := range []float64{0, 2, 6, 11, 20} {
		pa, err := a.Predict([]float64{x})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pb, _ := b.Predict([]float64{x})
		if pa != pb {
			t.Fatalf("same seed gave different predictions at %v: %v vs %v", x, pa, pb)
		}
		if pa < 1 || pa > 5 {
			t.Fatalf("prediction %v outside target range", pa)
		}
	}
}

func TestRandomForestWithoutBootstrap(t *testing.T) {
	features, targets := stepData()
	cfg := DefaultForestConfig()
	cfg.NumTrees = 5
	cfg.Bootstrap = false
	rf := NewRandomForest(cfg)
	if err := rf.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := rf.Predict([]float64{2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected 1, got %v", got)
	}
	if len(rf.Importances) != 1 || math.Abs(rf.Importances[0]-1) > 1e-9 {
		t.Fatalf("expected normalised importance of 1, got %v", rf.Importances)
	}
	if err := rf.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if rf.Depth() != 1 {
		t.Fatalf("expected every tree to split once, depth %d", rf.Depth())
	}
}

func TestFitAndScoreAcceptsAnyRegressor(t *testing.T) {
	features, targets := stepData()
	for name, m := range map[string]Regressor{
		"tree":   NewRegressionTree(0, 2, 1, 0, nil),
		"forest": NewRandomForest(ForestConfig{NumTrees: 3, Seed: 1}),
	} {
		t.Run(name, func(t *testing.T) {
			metrics, err := fitAndScore(context.Background(), m, features, targets, [][]float64{{2}, {11}}, []float64{1, 5})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if metrics.MAE != 0 || metrics.R2 != 1 {
				t.Fatalf("expected a perfect holdout score, got %+v", metrics)
			}
		})
	}

	_, err := fitAndScore(context.Background(), NewRandomForest(ForestConfig{}), nil, nil, nil, nil)
	if err == nil {
		t.Fatal("expected fit error on empty data")
	}
}

func TestRandomForestErrors(t *testing.T) {
	rf := NewRandomForest(ForestConfig{})
	if rf.Config.NumTrees != 100 {
		t.Fatalf("expected default tree count, got %d", rf.Config.NumTrees)
	}
	if _, err := rf.Predict([]float64{1}); err == nil {
		t.Fatal("expected error from untrained forest")
	}
	if err := rf.Fit(context.Background(), [][]float64{{1}, {1, 2}}, []float64{1, 2}); err == nil {
		t.Fatal("expected ragged input error")
	}
	if err := rf.Validate(); err == nil {
		t.Fatal("expected empty forest to be invalid")
	}
}
