// Package quality holds the rebar domain vocabulary shared by the trainer and the predictor.
package quality

import (
	"fmt"
	"strconv"
	"strings"
)

// Diameter is the nominal rebar thickness in millimetres.
type Diameter int

// Grade is the rebar steel grade as shown to users ("GR 1").
type Grade string

// Target is the quality metric a model predicts.
type Target string

const (
	GR1 Grade = "GR 1"
	GR2 Grade = "GR 2"
	GR3 Grade = "GR 3"
)

const (
	Quality1 Target = "QUALITY1" // tensile strength
	Quality2 Target = "QUALITY2" // yield strength
)

var (
	diameters = []Diameter{10, 12, 16}
	grades    = []Grade{GR1, GR2, GR3}
	targets   = []Target{Quality1, Quality2}
)

// Diameters returns the supported diameters in ascending order.
func Diameters() []Diameter { return append([]Diameter(nil), diameters...) }

// Grades returns the supported grades.
func Grades() []Grade { return append([]Grade(nil), grades...) }

// Targets returns the supported targets.
func Targets() []Target { return append([]Target(nil), targets...) }

func (d Diameter) Valid() bool {
	for _, v := range diameters {
		if v == d {
			return true
		}
	}
	return false
}

func (d Diameter) String() string { return strconv.Itoa(int(d)) }

func (g Grade) Valid() bool {
	for _, v := range grades {
		if v == g {
			return true
		}
	}
	return false
}

// Column returns the one-hot feature column for the grade, e.g. "GRADE_GR1".
func (g Grade) Column() string {
	return GradeColumn(string(g))
}

// GradeColumn maps a raw grade cell ("GR 1", "gr1") to its one-hot column name.
func GradeColumn(raw string) string {
	compact := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	return "GRADE_" + compact
}

// GradeColumns returns the one-hot columns for every supported grade, in grade order.
func GradeColumns() []string {
	cols := make([]string, len(grades))
	for i, g := range grades {
		cols[i] = g.Column()
	}
	return cols
}

func (t Target) Valid() bool {
	for _, v := range targets {
		if v == t {
			return true
		}
	}
	return false
}

// ParseDiameter accepts "10", "10mm" and surrounding spaces.
func ParseDiameter(s string) (Diameter, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "mm")
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid diameter %q", s)
	}
	d := Diameter(v)
	if !d.Valid() {
		return 0, fmt.Errorf("unsupported diameter %d", v)
	}
	return d, nil
}

// ParseGrade accepts "GR 1", "GR1" and lower-case variants.
func ParseGrade(s string) (Grade, error) {
	col := GradeColumn(s)
	for _, g := range grades {
		if g.Column() == col {
			return g, nil
		}
	}
	return "", fmt.Errorf("unsupported grade %q", s)
}

func ParseTarget(s string) (Target, error) {
	t := Target(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unsupported target %q", s)
	}
	return t, nil
}
