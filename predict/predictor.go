package predict

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"rebarquality/ml"
	"rebarquality/quality"
)

var ErrModelNotFound = errors.New("model not found")

// ConfidenceFunc yields the confidence reported with a prediction.
type ConfidenceFunc func() float64

// SyntheticConfidence returns a value in [0.95, 1.0) drawn from src. It is a
// display value only and carries no statistical meaning.
func SyntheticConfidence(src *rand.Rand) ConfidenceFunc {
	var mu sync.Mutex
	return func() float64 {
		var u float64
		if src != nil {
			mu.Lock()
			u = src.Float64()
			mu.Unlock()
		} else {
			u = rand.Float64()
		}
		c := 0.95 + 0.05*u
		if c >= 1 {
			c = math.Nextafter(1, 0)
		}
		return c
	}
}

// Result is a successful prediction.
type Result struct {
	Request       quality.Request `json:"request"`
	Model         string          `json:"model"`
	Prediction    float64         `json:"prediction"`
	Confidence    float64         `json:"confidence"`
	Threshold     float64         `json:"threshold"`
	Pass          bool            `json:"pass"`
	GradeStandard float64         `json:"grade_standard"`
	MeetsStandard bool            `json:"meets_grade_standard"`
	Timestamp     time.Time       `json:"timestamp"`
}

type Predictor struct {
	cache      *ArtifactCache
	confidence ConfidenceFunc
	now        func() time.Time
	logger     *zap.Logger
}

// NewPredictor serves predictions from cache; a nil confidence uses the
// default synthetic source.
func NewPredictor(cache *ArtifactCache, confidence ConfidenceFunc, logger *zap.Logger) *Predictor {
	if confidence == nil {
		confidence = SyntheticConfidence(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{cache: cache, confidence: confidence, now: time.Now, logger: logger}
}

// Predict validates the request, loads the matching artifact and runs it.
// Errors wrap quality.ErrInvalidRequest or ErrModelNotFound where they apply.
func (p *Predictor) Predict(req quality.Request) (*Result, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	name := ml.ArtifactName(req.Target, req.Diameter)
	artifact, err := p.cache.Get(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		p.logger.Error("failed to load model", zap.String("model", name), zap.Error(err))
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if artifact.Target != req.Target || artifact.Diameter != req.Diameter {
		return nil, fmt.Errorf("%w: %s holds %s/%d", ml.ErrSchemaMismatch, name, artifact.Target, artifact.Diameter)
	}

	value, err := artifact.Predict(req.Features())
	if err != nil {
		p.logger.Error("prediction failed", zap.String("model", name), zap.Error(err))
		return nil, fmt.Errorf("predict %s: %w", name, err)
	}

	standard, _ := quality.GradeStandard(req.Grade, req.Target)
	res := &Result{
		Request:       req,
		Model:         name,
		Prediction:    value,
		Confidence:    p.confidence(),
		Threshold:     quality.Threshold(req.Target),
		Pass:          quality.MeetsThreshold(req.Target, value),
		GradeStandard: standard,
		MeetsStandard: value >= standard,
		Timestamp:     p.now(),
	}
	p.logger.Debug("prediction",
		zap.String("model", name),
		zap.String("grade", string(req.Grade)),
		zap.Float64("value", value),
		zap.Bool("pass", res.Pass))
	return res, nil
}

// Models lists the artifacts available in the model directory.
func (p *Predictor) Models() ([]*ml.Artifact, error) {
	paths, err := ml.ListArtifacts(p.cache.dir)
	if err != nil {
		return nil, err
	}
	models := make([]*ml.Artifact, 0, len(paths))
	for _, path := range paths {
		a, err := p.cache.Get(filepath.Base(path))
		if err != nil {
			p.logger.Warn("skipping unreadable model", zap.String("path", path), zap.Error(err))
			continue
		}
		models = append(models, a)
	}
	return models, nil
}
