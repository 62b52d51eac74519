package ml

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"rebarquality/pipeline"
	"rebarquality/quality"
)

// HourColumn is the feature derived from the batch timestamp.
const HourColumn = "HOUR"

// FeatureOptions names the special columns of a source table.
type FeatureOptions struct {
	Drop      []string
	Timestamp string
	Grade     string
}

func DefaultFeatureOptions() FeatureOptions {
	return FeatureOptions{
		Drop:      []string{"ID", "DATE_TIME", string(quality.Quality1), string(quality.Quality2)},
		Timestamp: "DATE_TIME",
		Grade:     "GRADE",
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the common text layouts and Excel serial dates.
func ParseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EncodeFeatures turns a source table into an ordered column list and a dense
// matrix. Missing values are NaN and left for the Preprocessor.
//
// Column order: numeric columns in table order, HOUR, grade one-hot columns
// (every supported grade, then any unknown grade seen), then the remaining
// text columns one-hot encoded as <COL>_<value> in sorted order.
func EncodeFeatures(t *pipeline.Table, opts FeatureOptions) ([]string, [][]float64, error) {
	if t.Len() == 0 {
		return nil, nil, fmt.Errorf("table %s has no rows", t.Name)
	}
	drop := make(map[string]bool, len(opts.Drop)+1)
	for _, c := range opts.Drop {
		drop[c] = true
	}
	drop[opts.Grade] = true

	var numeric, text []string
	for _, c := range t.Columns {
		if drop[c] {
			continue
		}
		if t.IsNumeric(c) {
			numeric = append(numeric, c)
		} else {
			text = append(text, c)
		}
	}

	columns := append([]string(nil), numeric...)
	hasHour := opts.Timestamp != "" && t.Has(opts.Timestamp)
	if hasHour {
		columns = append(columns, HourColumn)
	}

	hasGrade := t.Has(opts.Grade)
	if hasGrade {
		columns = append(columns, gradeColumns(t, opts.Grade)...)
	}

	var dummies []string
	seen := map[string]bool{}
	for _, c := range text {
		for r := range t.Rows {
			if v, ok := t.Cell(r, c); ok {
				name := c + "_" + v
				if !seen[name] {
					seen[name] = true
					dummies = append(dummies, name)
				}
			}
		}
	}
	sort.Strings(dummies)
	columns = append(columns, dummies...)

	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}

	rows := make([][]float64, t.Len())
	for r := range t.Rows {
		row := make([]float64, len(columns))
		for i, c := range numeric {
			if v, ok := t.Float(r, c); ok {
				row[i] = v
			} else {
				row[i] = math.NaN()
			}
		}
		if hasHour {
			row[pos[HourColumn]] = math.NaN()
			if v, ok := t.Cell(r, opts.Timestamp); ok {
				if ts, ok := ParseTimestamp(v); ok {
					row[pos[HourColumn]] = float64(ts.Hour())
				}
			}
		}
		if hasGrade {
			if v, ok := t.Cell(r, opts.Grade); ok {
				row[pos[quality.GradeColumn(v)]] = 1
			}
		}
		for _, c := range text {
			if v, ok := t.Cell(r, c); ok {
				row[pos[c+"_"+v]] = 1
			}
		}
		rows[r] = row
	}
	return columns, rows, nil
}

func gradeColumns(t *pipeline.Table, column string) []string {
	cols := quality.GradeColumns()
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}
	var extra []string
	for r := range t.Rows {
		if v, ok := t.Cell(r, column); ok {
			c := quality.GradeColumn(v)
			if !known[c] {
				known[c] = true
				extra = append(extra, c)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

// Targets extracts the target column; the table must already be cleaned of
// rows without a target value.
func Targets(t *pipeline.Table, column string) ([]float64, error) {
	y := make([]float64, t.Len())
	for r := range t.Rows {
		v, ok := t.Float(r, column)
		if !ok {
			return nil, fmt.Errorf("row %d: %s is missing", r+1, column)
		}
		y[r] = v
	}
	return y, nil
}
