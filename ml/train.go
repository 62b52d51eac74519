package ml

import (
	"context"
	"errors"
	"fmt"
)

// TrainConfig controls a single artifact fit.
type TrainConfig struct {
	TestRatio float64      `yaml:"test_ratio"`
	Forest    ForestConfig `yaml:"forest"`
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{TestRatio: 0.2, Forest: DefaultForestConfig()}
}

// Fit splits the rows, fits preprocessing on the fit split only, grows the
// forest and scores it on the holdout. The returned artifact has no target or
// diameter set.
func Fit(ctx context.Context, columns []string, rows [][]float64, targets []float64, cfg TrainConfig) (*Artifact, error) {
	if len(rows) < 2 {
		return nil, errors.New("need at least two rows to train")
	}
	if len(rows) != len(targets) {
		return nil, fmt.Errorf("%d rows but %d targets", len(rows), len(targets))
	}
	trainIdx, testIdx := TrainTestSplit(len(rows), cfg.TestRatio, cfg.Forest.Seed)

	schema := FeatureSchema{Version: SchemaVersion, Columns: append([]string(nil), columns...)}
	if err := schema.Preprocessor.Fit(selectRows(rows, trainIdx)); err != nil {
		return nil, fmt.Errorf("fit preprocessing: %w", err)
	}
	xTrain, err := schema.Preprocessor.TransformAll(selectRows(rows, trainIdx))
	if err != nil {
		return nil, err
	}
	xTest, err := schema.Preprocessor.TransformAll(selectRows(rows, testIdx))
	if err != nil {
		return nil, err
	}

	forest := NewRandomForest(cfg.Forest)
	metrics, err := fitAndScore(ctx, forest, xTrain, selectValues(targets, trainIdx), xTest, selectValues(targets, testIdx))
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Schema:    schema,
		Model:     forest,
		Metrics:   metrics,
		TrainRows: len(trainIdx),
		TestRows:  len(testIdx),
		Seed:      cfg.Forest.Seed,
	}, nil
}

// fitAndScore fits m on the training split and evaluates it on the holdout.
func fitAndScore(ctx context.Context, m Regressor, xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (Metrics, error) {
	if err := m.Fit(ctx, xTrain, yTrain); err != nil {
		return Metrics{}, fmt.Errorf("fit model: %w", err)
	}
	predicted := make([]float64, len(xTest))
	for i, x := range xTest {
		p, err := m.Predict(x)
		if err != nil {
			return Metrics{}, err
		}
		predicted[i] = p
	}
	return Evaluate(yTest, predicted), nil
}
