package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// CleaningRule inspects one row; a non-nil error rejects the row.
type CleaningRule interface {
	Apply(t *Table, row int) error
	Name() string
}

// QualityIssue records why a row was rejected.
type QualityIssue struct {
	Rule      string    `json:"rule"`
	Row       int       `json:"row"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CleaningStats counts rows seen by a cleaner.
type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner applies rules to a table and keeps the rows every rule accepts.
type DataCleaner struct {
	rules []CleaningRule

	mu    sync.Mutex
	stats CleaningStats
}

func NewDataCleaner(rules ...CleaningRule) *DataCleaner {
	return &DataCleaner{
		rules: rules,
		stats: CleaningStats{Issues: make(map[string]int64)},
	}
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
}

// Clean returns the accepted rows as a new table plus one issue per rejection.
// Row numbers in issues are 1-based data rows (the header is not counted).
func (dc *DataCleaner) Clean(t *Table) (*Table, []QualityIssue) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	var issues []QualityIssue
	cleaned := t.Filter(func(row int) bool {
		dc.stats.TotalProcessed++
		for _, rule := range dc.rules {
			if err := rule.Apply(t, row); err != nil {
				issues = append(issues, QualityIssue{
					Rule:      rule.Name(),
					Row:       row + 1,
					Message:   err.Error(),
					Timestamp: time.Now(),
				})
				dc.stats.Issues[rule.Name()]++
				dc.stats.Rejected++
				return false
			}
		}
		dc.stats.Passed++
		return true
	})
	dc.stats.LastClean = time.Now()
	return cleaned, issues
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// RequiredValueRule rejects rows where the column is missing or not numeric.
type RequiredValueRule struct {
	Column string
}

func NewRequiredValueRule(column string) *RequiredValueRule {
	return &RequiredValueRule{Column: column}
}

func (r *RequiredValueRule) Name() string {
	return "required_" + strings.ToLower(r.Column)
}

func (r *RequiredValueRule) Apply(t *Table, row int) error {
	if !t.Has(r.Column) {
		return fmt.Errorf("column %s not present", r.Column)
	}
	if _, ok := t.Cell(row, r.Column); !ok {
		return fmt.Errorf("%s is missing", r.Column)
	}
	if _, ok := t.Float(row, r.Column); !ok {
		return fmt.Errorf("%s is not numeric", r.Column)
	}
	return nil
}

// RangeRule rejects rows whose numeric value falls outside [Min, Max].
// Missing values pass; imputation handles them later.
type RangeRule struct {
	Column   string
	Min, Max float64
}

func (r *RangeRule) Name() string {
	return "range_" + strings.ToLower(r.Column)
}

func (r *RangeRule) Apply(t *Table, row int) error {
	v, ok := t.Float(row, r.Column)
	if !ok {
		return nil
	}
	if v < r.Min || v > r.Max {
		return fmt.Errorf("%s %.4g out of range [%g, %g]", r.Column, v, r.Min, r.Max)
	}
	return nil
}
