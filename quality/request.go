package quality

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	NumChem    = 10
	NumTemp    = 6
	NumProcess = 3
)

// ErrInvalidRequest marks a request rejected before any model is touched.
var ErrInvalidRequest = errors.New("invalid prediction request")

// Field describes one numeric input of the prediction form.
type Field struct {
	Name     string   `json:"name"`
	Group    string   `json:"group"`
	Min      float64  `json:"min"`
	Max      *float64 `json:"max,omitempty"`
	Decimals int32    `json:"decimals"`
}

func bound(v float64) *float64 { return &v }

// Fields returns the fixed input schema in feature order.
func Fields() []Field {
	fields := make([]Field, 0, NumChem+NumTemp+NumProcess+1)
	for i := 1; i <= NumChem; i++ {
		fields = append(fields, Field{Name: fmt.Sprintf("CHEM%d", i), Group: "chemical", Max: bound(100), Decimals: 2})
	}
	for i := 1; i <= NumTemp; i++ {
		fields = append(fields, Field{Name: fmt.Sprintf("TEMP%d", i), Group: "temperature", Max: bound(1500), Decimals: 0})
	}
	fields = append(fields, Field{Name: "SPEED", Group: "speed", Max: bound(30), Decimals: 1})
	for i := 1; i <= NumProcess; i++ {
		fields = append(fields, Field{Name: fmt.Sprintf("PROCESS%d", i), Group: "process", Decimals: 1})
	}
	return fields
}

// Request is one prediction form submission.
type Request struct {
	Diameter Diameter            `json:"diameter"`
	Grade    Grade               `json:"grade"`
	Target   Target              `json:"target"`
	Chem     [NumChem]float64    `json:"chem"`
	Temp     [NumTemp]float64    `json:"temp"`
	Process  [NumProcess]float64 `json:"process"`
	Speed    float64             `json:"speed"`
}

// Inputs returns the measurement values keyed by feature column name.
func (r Request) Inputs() map[string]float64 {
	in := make(map[string]float64, NumChem+NumTemp+NumProcess+1)
	for i, v := range r.Chem {
		in[fmt.Sprintf("CHEM%d", i+1)] = v
	}
	for i, v := range r.Temp {
		in[fmt.Sprintf("TEMP%d", i+1)] = v
	}
	in["SPEED"] = r.Speed
	for i, v := range r.Process {
		in[fmt.Sprintf("PROCESS%d", i+1)] = v
	}
	return in
}

// Features returns the measurement inputs plus a one-hot encoding of the grade
// over every supported grade.
func (r Request) Features() map[string]float64 {
	features := r.Inputs()
	for _, g := range grades {
		v := 0.0
		if g == r.Grade {
			v = 1
		}
		features[g.Column()] = v
	}
	return features
}

// Normalize validates the request and rounds each measurement to its field precision.
func (r Request) Normalize() (Request, error) {
	if !r.Diameter.Valid() {
		return r, fmt.Errorf("%w: unsupported diameter %d", ErrInvalidRequest, r.Diameter)
	}
	if !r.Grade.Valid() {
		return r, fmt.Errorf("%w: unsupported grade %q", ErrInvalidRequest, r.Grade)
	}
	if !r.Target.Valid() {
		return r, fmt.Errorf("%w: unsupported target %q", ErrInvalidRequest, r.Target)
	}

	var err error
	for i := range r.Chem {
		if r.Chem[i], err = clamp(fmt.Sprintf("CHEM%d", i+1), r.Chem[i], 0, bound(100), 2); err != nil {
			return r, err
		}
	}
	for i := range r.Temp {
		if r.Temp[i], err = clamp(fmt.Sprintf("TEMP%d", i+1), r.Temp[i], 0, bound(1500), 0); err != nil {
			return r, err
		}
	}
	for i := range r.Process {
		if r.Process[i], err = clamp(fmt.Sprintf("PROCESS%d", i+1), r.Process[i], 0, nil, 1); err != nil {
			return r, err
		}
	}
	if r.Speed, err = clamp("SPEED", r.Speed, 0, bound(30), 1); err != nil {
		return r, err
	}
	return r, nil
}

func clamp(name string, v, min float64, max *float64, places int32) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is not a finite number", ErrInvalidRequest, name)
	}
	rounded, _ := decimal.NewFromFloat(v).Round(places).Float64()
	if rounded < min {
		return 0, fmt.Errorf("%w: %s must be >= %g", ErrInvalidRequest, name, min)
	}
	if max != nil && rounded > *max {
		return 0, fmt.Errorf("%w: %s must be <= %g", ErrInvalidRequest, name, *max)
	}
	return rounded, nil
}
