package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rebarquality/quality"
)

const ArtifactExt = ".model"

// Artifact is a serialized model for one (target, diameter) pair.
type Artifact struct {
	Name      string           `json:"name"`
	Target    quality.Target   `json:"target"`
	Diameter  quality.Diameter `json:"diameter"`
	Schema    FeatureSchema    `json:"schema"`
	Model     *RandomForest    `json:"model"`
	Metrics   Metrics          `json:"metrics"`
	TrainRows int              `json:"train_rows"`
	TestRows  int              `json:"test_rows"`
	Source    string           `json:"source"`
	Seed      int64            `json:"seed"`
	TrainedAt time.Time        `json:"trained_at"`
}

// ArtifactName is the file name shared by trainer and predictor,
// e.g. "quality1_d10.model".
func ArtifactName(t quality.Target, d quality.Diameter) string {
	return fmt.Sprintf("%s_d%d%s", strings.ToLower(string(t)), int(d), ArtifactExt)
}

func ArtifactPath(dir string, t quality.Target, d quality.Diameter) string {
	return filepath.Join(dir, ArtifactName(t, d))
}

func (a *Artifact) Validate() error {
	if a.Model == nil {
		return errors.New("artifact has no model")
	}
	if err := a.Schema.Validate(); err != nil {
		return err
	}
	if err := a.Model.Validate(); err != nil {
		return err
	}
	if a.Model.NumFeatures != len(a.Schema.Columns) {
		return fmt.Errorf("%w: model expects %d features, schema lists %d",
			ErrSchemaMismatch, a.Model.NumFeatures, len(a.Schema.Columns))
	}
	return nil
}

// Predict aligns the named inputs to the schema and runs the forest.
func (a *Artifact) Predict(inputs map[string]float64) (float64, error) {
	vec, err := a.Schema.Vector(inputs)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	p, err := a.Model.Predict(vec)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, errors.New("prediction is not finite")
	}
	return p, nil
}

// Save writes the artifact into dir under its canonical name. The file is
// written to a temp file first and renamed, so readers never see a partial
// artifact.
func (a *Artifact) Save(dir string) (string, error) {
	if err := a.Validate(); err != nil {
		return "", fmt.Errorf("refusing to save invalid artifact: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	a.Name = ArtifactName(a.Target, a.Diameter)
	data, err := json.Marshal(a)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, "."+a.Name+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, a.Name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
