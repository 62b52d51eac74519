package ml

import (
	"context"
	"testing"
)

func stepData() ([][]float64, []float64) {
	features := [][]float64{{1}, {2}, {3}, {10}, {11}, {12}}
	targets := []float64{1, 1, 1, 5, 5, 5}
	return features, targets
}

func TestRegressionTreeFitPredict(t *testing.T) {
	features, targets := stepData()
	tree := NewRegressionTree(0, 2, 1, 0, nil)
	if err := tree.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Depth() != 1 {
		t.Fatalf("expected a single split, depth %d", tree.Depth())
	}
	if tree.Nodes[0].Threshold != 6.5 {
		t.Fatalf("expected midpoint threshold 6.5, got %v", tree.Nodes[0].Threshold)
	}
	for _, tc := range []struct {
		x    float64
		want float64
	}{{2, 1}, {6.5, 1}, {11, 5}, {100, 5}} {
		got, err := tree.Predict([]float64{tc.x})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tc.want {
			t.Fatalf("Predict(%v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestRegressionTreeMaxDepth(t *testing.T) {
	features := [][]float64{{1}, {2}, {3}, {4}}
	targets := []float64{1, 2, 3, 4}
	tree := NewRegressionTree(1, 2, 1, 0, nil)
	if err := tree.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", tree.Depth())
	}
}

func TestRegressionTreeErrors(t *testing.T) {
	tree := NewRegressionTree(0, 2, 1, 0, nil)
	if _, err := tree.Predict([]float64{1}); err == nil {
		t.Fatal("expected error from untrained tree")
	}
	if err := tree.Fit(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for empty data")
	}
	features, targets := stepData()
	if err := tree.Fit(context.Background(), features, targets[:2]); err == nil {
		t.Fatal("expected size mismatch error")
	}
	if err := tree.Fit(context.Background(), features, targets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tree.Predict([]float64{1, 2}); err == nil {
		t.Fatal("expected feature length error")
	}
}

func TestRegressionTreeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	features, targets := stepData()
	if err := NewRegressionTree(0, 2, 1, 0, nil).Fit(ctx, features, targets); err == nil {
		t.Fatal("expected context error")
	}
}
