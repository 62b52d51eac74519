package quality

// Threshold is the score a prediction must reach to pass, per target.
// It is applied regardless of grade.
func Threshold(t Target) float64 {
	switch t {
	case Quality2:
		return 80
	default:
		return 75
	}
}

// MeetsThreshold reports whether p passes the enforced threshold for t.
func MeetsThreshold(t Target, p float64) bool {
	return p >= Threshold(t)
}

// Standard is a documented per-grade minimum.
type Standard struct {
	Grade    Grade   `json:"grade"`
	Quality1 float64 `json:"quality1"`
	Quality2 float64 `json:"quality2"`
}

var gradeStandards = map[Grade]Standard{
	GR1: {Grade: GR1, Quality1: 70, Quality2: 75},
	GR2: {Grade: GR2, Quality1: 80, Quality2: 85},
	GR3: {Grade: GR3, Quality1: 90, Quality2: 95},
}

// GradeStandard returns the documented minimum for the grade and target.
// These are informational: the pass/fail verdict uses Threshold.
func GradeStandard(g Grade, t Target) (float64, bool) {
	s, ok := gradeStandards[g]
	if !ok {
		return 0, false
	}
	if t == Quality2 {
		return s.Quality2, true
	}
	return s.Quality1, true
}

// Standards lists the documented standards in grade order.
func Standards() []Standard {
	out := make([]Standard, 0, len(grades))
	for _, g := range grades {
		out = append(out, gradeStandards[g])
	}
	return out
}
