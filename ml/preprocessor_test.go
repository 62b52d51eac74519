package ml

import (
	"math"
	"testing"
)

func TestPreprocessorFitTransform(t *testing.T) {
	nan := math.NaN()
	rows := [][]float64{
		{1, 5, nan},
		{2, 5, nan},
		{nan, 5, nan},
		{5, 5, nan},
	}
	var p Preprocessor
	if err := p.Fit(rows); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Medians[0] != 2 {
		t.Fatalf("expected median 2, got %v", p.Medians[0])
	}
	if p.Scales[1] != 1 {
		t.Fatalf("constant column should keep scale 1, got %v", p.Scales[1])
	}
	if p.Medians[2] != 0 || p.Scales[2] != 1 {
		t.Fatalf("all-missing column should impute 0 with scale 1, got %v %v", p.Medians[2], p.Scales[2])
	}

	// imputed column 0 is {1,2,2,5}: mean 2.5
	if p.Means[0] != 2.5 {
		t.Fatalf("expected mean 2.5, got %v", p.Means[0])
	}

	out, err := p.Transform([]float64{nan, 5, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (2 - 2.5) / p.Scales[0]; math.Abs(out[0]-want) > 1e-12 {
		t.Fatalf("expected imputed and scaled %v, got %v", want, out[0])
	}
	if out[1] != 0 || out[2] != 3 {
		t.Fatalf("unexpected transform %v", out)
	}

	all, err := p.TransformAll(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, row := range all {
		for _, v := range row {
			if math.IsNaN(v) {
				t.Fatalf("NaN left after transform: %v", all)
			}
		}
	}
}

func TestPreprocessorErrors(t *testing.T) {
	var p Preprocessor
	if _, err := p.Transform([]float64{1}); err == nil {
		t.Fatal("expected error before fit")
	}
	if err := p.Fit(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if err := p.Fit([][]float64{{1, 2}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Transform([]float64{1}); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

func TestEvaluate(t *testing.T) {
	m := Evaluate([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 6})
	if m.N != 4 || m.MAE != 0.5 || m.RMSE != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if m.R2 >= 1 {
		t.Fatalf("expected R2 below 1, got %v", m.R2)
	}
	if m := Evaluate([]float64{3, 3}, []float64{3, 3}); m.R2 != 0 {
		t.Fatalf("zero-variance R2 should be reported as 0, got %v", m.R2)
	}
	if m := Evaluate(nil, nil); m.N != 0 {
		t.Fatalf("expected empty metrics, got %+v", m)
	}
}

func TestTrainTestSplit(t *testing.T) {
	train, test := TrainTestSplit(11, 0.2, 42)
	if len(test) != 3 || len(train) != 8 {
		t.Fatalf("expected 8/3 split, got %d/%d", len(train), len(test))
	}
	seen := map[int]bool{}
	for _, i := range append(append([]int(nil), train...), test...) {
		if seen[i] {
			t.Fatalf("index %d appears twice", i)
		}
		seen[i] = true
	}
	train2, test2 := TrainTestSplit(11, 0.2, 42)
	for i := range test {
		if test[i] != test2[i] {
			t.Fatal("split is not deterministic")
		}
	}
	if len(train2) != len(train) {
		t.Fatal("split is not deterministic")
	}
	if train, test := TrainTestSplit(1, 0.2, 42); len(train) != 1 || len(test) != 0 {
		t.Fatalf("single row should be kept for fitting, got %d/%d", len(train), len(test))
	}
}
