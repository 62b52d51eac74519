package ml

import (
	"errors"
	"fmt"
)

// SchemaVersion is bumped whenever the feature encoding changes in a way
// that makes older artifacts unusable.
const SchemaVersion = 1

var ErrSchemaMismatch = errors.New("feature schema mismatch")

// FeatureSchema is the ordered feature contract between training and
// prediction, including the fitted imputation and scaling statistics.
type FeatureSchema struct {
	Version      int          `json:"version"`
	Columns      []string     `json:"columns"`
	Preprocessor Preprocessor `json:"preprocessor"`
}

func (s *FeatureSchema) Validate() error {
	if s.Version != SchemaVersion {
		return fmt.Errorf("%w: version %d, supported %d", ErrSchemaMismatch, s.Version, SchemaVersion)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrSchemaMismatch)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		if seen[c] {
			return fmt.Errorf("%w: duplicate column %s", ErrSchemaMismatch, c)
		}
		seen[c] = true
	}
	if err := s.Preprocessor.validate(len(s.Columns)); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return nil
}

// Align orders the named inputs by schema column. Columns the input lacks are
// zero-filled and inputs the schema does not know are ignored.
func (s *FeatureSchema) Align(inputs map[string]float64) []float64 {
	row := make([]float64, len(s.Columns))
	for i, c := range s.Columns {
		row[i] = inputs[c]
	}
	return row
}

// Vector aligns the inputs and applies the fitted preprocessing.
func (s *FeatureSchema) Vector(inputs map[string]float64) ([]float64, error) {
	return s.Preprocessor.Transform(s.Align(inputs))
}
