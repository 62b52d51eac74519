package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"rebarquality/quality"
)

func linearData(n int) ([]string, [][]float64, []float64) {
	columns := []string{"CHEM1", "TEMP1", "GRADE_GR1", "GRADE_GR2", "GRADE_GR3"}
	rows := make([][]float64, n)
	targets := make([]float64, n)
	for i := 0; i < n; i++ {
		x := float64(i) / float64(n)
		rows[i] = []float64{x, 900 + float64(i%7), float64(i % 2), float64((i + 1) % 2), 0}
		targets[i] = 70 + 20*x
	}
	return columns, rows, targets
}

func trainedArtifact(t *testing.T) *Artifact {
	t.Helper()
	columns, rows, targets := linearData(50)
	cfg := DefaultTrainConfig()
	cfg.Forest.NumTrees = 20
	a, err := Fit(context.Background(), columns, rows, targets, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Target = quality.Quality1
	a.Diameter = 10
	return a
}

func TestFitScoresHoldout(t *testing.T) {
	a := trainedArtifact(t)
	if a.TrainRows != 40 || a.TestRows != 10 {
		t.Fatalf("expected 40/10 split, got %d/%d", a.TrainRows, a.TestRows)
	}
	if a.Metrics.R2 < 0.8 {
		t.Fatalf("expected a good fit on a linear target, got R2 %v", a.Metrics.R2)
	}
	if a.Schema.Version != SchemaVersion || len(a.Schema.Preprocessor.Means) != 5 {
		t.Fatalf("unexpected schema %+v", a.Schema)
	}
}

func TestArtifactName(t *testing.T) {
	if got := ArtifactName(quality.Quality1, 10); got != "quality1_d10.model" {
		t.Fatalf("unexpected name %s", got)
	}
	if got := ArtifactPath("models", quality.Quality2, 16); got != filepath.Join("models", "quality2_d16.model") {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestArtifactSaveLoad(t *testing.T) {
	dir := t.TempDir()
	a := trainedArtifact(t)
	path, err := a.Save(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "quality1_d10.model" {
		t.Fatalf("unexpected path %s", path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the artifact in dir, got %d entries", len(entries))
	}

	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	inputs := map[string]float64{"CHEM1": 0.5, "TEMP1": 903, "GRADE_GR2": 1}
	want, err := a.Predict(inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := loaded.Predict(inputs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("loaded artifact predicts %v, in-memory %v", got, want)
	}

	paths, err := ListArtifacts(dir)
	if err != nil || len(paths) != 1 {
		t.Fatalf("unexpected listing %v %v", paths, err)
	}
}

func TestLoadArtifactRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "quality1_d12.model")
	if err := os.WriteFile(corrupt, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadArtifact(corrupt); err == nil {
		t.Fatal("expected decode error")
	}

	a := trainedArtifact(t)
	a.Schema.Version = SchemaVersion + 1
	if _, err := a.Save(dir); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
	if _, err := LoadArtifact(filepath.Join(dir, "missing.model")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestSchemaAlignIsDeterministic(t *testing.T) {
	schema := FeatureSchema{Version: SchemaVersion, Columns: []string{"B", "A", "HOUR"}}
	inputs := map[string]float64{"A": 1, "B": 2, "EXTRA": 9}
	first := schema.Align(inputs)
	second := schema.Align(inputs)
	if !reflect.DeepEqual(first, []float64{2, 1, 0}) {
		t.Fatalf("unexpected alignment %v", first)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("alignment is not deterministic")
	}
}
