package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Preprocessor imputes missing values (NaN) with column medians and then
// standardizes each column to zero mean and unit variance.
type Preprocessor struct {
	Medians []float64 `json:"medians"`
	Means   []float64 `json:"means"`
	Scales  []float64 `json:"scales"`
}

// Fit computes statistics from the given rows only. Callers pass the fit split
// so holdout rows never influence the statistics.
func (p *Preprocessor) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return errors.New("features is empty")
	}
	width := len(rows[0])
	p.Medians = make([]float64, width)
	p.Means = make([]float64, width)
	p.Scales = make([]float64, width)

	column := make([]float64, 0, len(rows))
	imputed := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		column = column[:0]
		for _, row := range rows {
			if !math.IsNaN(row[j]) {
				column = append(column, row[j])
			}
		}
		p.Medians[j] = median(column)

		for i, row := range rows {
			imputed[i] = row[j]
			if math.IsNaN(imputed[i]) {
				imputed[i] = p.Medians[j]
			}
		}
		mean, std := stat.PopMeanStdDev(imputed, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		p.Means[j] = mean
		p.Scales[j] = std
	}
	return nil
}

// Transform applies imputation and scaling to one row and returns a new slice.
func (p *Preprocessor) Transform(row []float64) ([]float64, error) {
	if p.Means == nil {
		return nil, errors.New("feature stats not computed")
	}
	if len(row) != len(p.Means) {
		return nil, fmt.Errorf("expected %d features, got %d", len(p.Means), len(row))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		if math.IsNaN(v) {
			v = p.Medians[j]
		}
		out[j] = (v - p.Means[j]) / p.Scales[j]
	}
	return out, nil
}

// TransformAll applies Transform to every row.
func (p *Preprocessor) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		v, err := p.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (p *Preprocessor) validate(width int) error {
	if len(p.Medians) != width || len(p.Means) != width || len(p.Scales) != width {
		return fmt.Errorf("preprocessing stats cover %d/%d/%d columns, schema has %d",
			len(p.Medians), len(p.Means), len(p.Scales), width)
	}
	for j, s := range p.Scales {
		if s == 0 || math.IsNaN(s) {
			return fmt.Errorf("column %d has invalid scale", j)
		}
	}
	return nil
}

// median of the values; 0 when there are none.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
