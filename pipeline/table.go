package pipeline

import (
	"regexp"
	"strconv"
	"strings"
)

// groupedNumber matches values written with thousands separators, e.g. 1,234.5.
var groupedNumber = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// Table is a raw source table: a header row and string cells.
// An empty cell (or a recognised null marker) is a missing value.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string

	index map[string]int
}

// NewTable builds a table, padding short rows to the header width.
func NewTable(name string, columns []string, rows [][]string) *Table {
	t := &Table{Name: name, Columns: columns}
	for _, row := range rows {
		t.Rows = append(t.Rows, pad(row, len(columns)))
	}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Columns))
	for i, c := range t.Columns {
		t.index[c] = i
	}
}

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	if t.index == nil {
		t.reindex()
	}
	if i, ok := t.index[column]; ok {
		return i
	}
	return -1
}

func (t *Table) Has(column string) bool { return t.Index(column) >= 0 }

func (t *Table) Len() int { return len(t.Rows) }

// Cell returns the trimmed cell and false if the value is missing.
func (t *Table) Cell(row int, column string) (string, bool) {
	i := t.Index(column)
	if i < 0 {
		return "", false
	}
	v := strings.TrimSpace(t.Rows[row][i])
	if IsNull(v) {
		return "", false
	}
	return v, true
}

// Float parses a numeric cell. Missing or non-numeric cells report false.
// Commas are only accepted as thousands separators; a decimal comma such as
// "0,35" is not numeric.
func (t *Table) Float(row int, column string) (float64, bool) {
	v, ok := t.Cell(row, column)
	if !ok {
		return 0, false
	}
	if groupedNumber.MatchString(v) {
		v = strings.ReplaceAll(v, ",", "")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// IsNumeric reports whether every non-missing cell of the column parses as a number.
// A column with no values at all is treated as numeric.
func (t *Table) IsNumeric(column string) bool {
	for r := range t.Rows {
		if _, ok := t.Cell(r, column); !ok {
			continue
		}
		if _, ok := t.Float(r, column); !ok {
			return false
		}
	}
	return true
}

// Filter returns a new table with the rows for which keep returns true.
func (t *Table) Filter(keep func(row int) bool) *Table {
	out := &Table{Name: t.Name, Columns: append([]string(nil), t.Columns...)}
	for r, row := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, row)
		}
	}
	out.reindex()
	return out
}

var nullMarkers = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"#n/a": {},
	"nan":  {},
	"null": {},
	"none": {},
}

// IsNull reports whether a cell holds a missing-value marker.
func IsNull(v string) bool {
	_, ok := nullMarkers[strings.ToLower(strings.TrimSpace(v))]
	return ok
}

func pad(row []string, width int) []string {
	if len(row) >= width {
		return row[:width]
	}
	out := make([]string, width)
	copy(out, row)
	return out
}
