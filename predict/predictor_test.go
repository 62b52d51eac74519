package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rebarquality/ml"
	"rebarquality/quality"
)

// saveArtifact trains a small forest over the request feature columns plus
// HOUR, so alignment has to zero-fill a column the request never sends.
func saveArtifact(t *testing.T, dir string, target quality.Target, d quality.Diameter, base float64) *ml.Artifact {
	t.Helper()
	columns := []string{"CHEM1", "CHEM2", "TEMP1", "SPEED", "HOUR"}
	columns = append(columns, quality.GradeColumns()...)
	rows := make([][]float64, 40)
	targets := make([]float64, 40)
	for i := range rows {
		x := float64(i) / 40
		rows[i] = []float64{x, 1 - x, 900 + float64(i%5), 10, float64(i % 24), 0, 0, 0}
		rows[i][5+i%3] = 1
		targets[i] = base + 20*x
	}
	cfg := ml.DefaultTrainConfig()
	cfg.Forest.NumTrees = 10
	a, err := ml.Fit(context.Background(), columns, rows, targets, cfg)
	require.NoError(t, err)
	a.Target = target
	a.Diameter = d
	_, err = a.Save(dir)
	require.NoError(t, err)
	return a
}

func newTestPredictor(t *testing.T, dir string) *Predictor {
	t.Helper()
	cache, err := NewArtifactCache(dir, 4, nil)
	require.NoError(t, err)
	return NewPredictor(cache, SyntheticConfidence(rand.New(rand.NewPCG(1, 2))), nil)
}

func zeroRequest() quality.Request {
	return quality.Request{Diameter: 10, Grade: quality.GR1, Target: quality.Quality1}
}

func TestPredictAllZeroInputs(t *testing.T) {
	dir := t.TempDir()
	saveArtifact(t, dir, quality.Quality1, 10, 70)
	p := newTestPredictor(t, dir)

	res, err := p.Predict(zeroRequest())
	require.NoError(t, err)
	assert.False(t, math.IsNaN(res.Prediction) || math.IsInf(res.Prediction, 0))
	assert.GreaterOrEqual(t, res.Confidence, 0.95)
	assert.Less(t, res.Confidence, 1.0)
	assert.Equal(t, 75.0, res.Threshold)
	assert.Equal(t, res.Prediction >= 75, res.Pass)
	assert.Equal(t, 70.0, res.GradeStandard)
	assert.Equal(t, "quality1_d10.model", res.Model)
}

func TestPredictModelNotFound(t *testing.T) {
	p := newTestPredictor(t, t.TempDir())
	_, err := p.Predict(zeroRequest())
	assert.True(t, errors.Is(err, ErrModelNotFound), "got %v", err)
}

func TestPredictInvalidRequest(t *testing.T) {
	p := newTestPredictor(t, t.TempDir())
	req := zeroRequest()
	req.Diameter = 14
	_, err := p.Predict(req)
	assert.True(t, errors.Is(err, quality.ErrInvalidRequest), "got %v", err)

	req = zeroRequest()
	req.Temp[0] = 2000
	_, err = p.Predict(req)
	assert.True(t, errors.Is(err, quality.ErrInvalidRequest), "got %v", err)
}

func TestPredictCorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "quality1_d10.model"), []byte("not json"), 0o644))
	p := newTestPredictor(t, dir)
	_, err := p.Predict(zeroRequest())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotFound))
}

func TestPredictMatchesArtifact(t *testing.T) {
	dir := t.TempDir()
	a := saveArtifact(t, dir, quality.Quality2, 12, 75)
	p := newTestPredictor(t, dir)

	req := quality.Request{Diameter: 12, Grade: quality.GR2, Target: quality.Quality2, Speed: 10}
	req.Chem[0] = 0.5
	req.Temp[0] = 902
	res, err := p.Predict(req)
	require.NoError(t, err)

	want, err := a.Predict(req.Features())
	require.NoError(t, err)
	assert.Equal(t, want, res.Prediction)
	assert.Equal(t, 80.0, res.Threshold)
	assert.Equal(t, 85.0, res.GradeStandard)
	assert.Equal(t, res.Prediction >= 85, res.MeetsStandard)
}

func TestSyntheticConfidenceRange(t *testing.T) {
	conf := SyntheticConfidence(rand.New(rand.NewPCG(42, 42)))
	for i := 0; i < 1000; i++ {
		c := conf()
		if c < 0.95 || c >= 1 {
			t.Fatalf("confidence %v out of range", c)
		}
	}
	if c := SyntheticConfidence(nil)(); c < 0.95 || c >= 1 {
		t.Fatalf("confidence %v out of range", c)
	}
}

func TestModels(t *testing.T) {
	dir := t.TempDir()
	saveArtifact(t, dir, quality.Quality1, 10, 70)
	saveArtifact(t, dir, quality.Quality2, 10, 75)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken_d12.model"), []byte("{"), 0o644))

	models, err := newTestPredictor(t, dir).Models()
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, quality.Quality1, models[0].Target)
}

func TestCacheEvictsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	saveArtifact(t, dir, quality.Quality1, 10, 70)
	cache, err := NewArtifactCache(dir, 4, nil)
	require.NoError(t, err)
	require.NoError(t, cache.Watch(context.Background()))
	defer cache.Close()

	_, err = cache.Get("quality1_d10.model")
	require.NoError(t, err)
	require.Equal(t, 1, cache.Len())

	saveArtifact(t, dir, quality.Quality1, 10, 90)
	require.Eventually(t, func() bool { return cache.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	a, err := cache.Get("quality1_d10.model")
	require.NoError(t, err)
	p, err := a.Predict(zeroRequest().Features())
	require.NoError(t, err)
	assert.Greater(t, p, 85.0, fmt.Sprintf("expected the retrained model, got %v", p))

	require.NoError(t, cache.Close())
}

func TestCacheDoesNotKeepModelReplacedDuringLoad(t *testing.T) {
	dir := t.TempDir()
	saveArtifact(t, dir, quality.Quality1, 10, 70)
	cache, err := NewArtifactCache(dir, 4, nil)
	require.NoError(t, err)

	const name = "quality1_d10.model"
	load := cache.load
	calls := 0
	cache.load = func(path string) (*ml.Artifact, error) {
		a, err := load(path)
		calls++
		if calls == 1 {
			// The trainer renames a retrained model into place and the
			// watcher reports it before this load returns.
			saveArtifact(t, dir, quality.Quality1, 10, 90)
			cache.Evict(name)
		}
		return a, err
	}

	a, err := cache.Get(name)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	p, err := a.Predict(zeroRequest().Features())
	require.NoError(t, err)
	assert.Greater(t, p, 85.0)

	cached, err := cache.Get(name)
	require.NoError(t, err)
	assert.Same(t, a, cached)
	assert.Equal(t, 2, calls)
}
