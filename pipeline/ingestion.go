package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"rebarquality/quality"
)

// ErrMissingSource is returned when no source table exists for a diameter.
var ErrMissingSource = errors.New("source table not found")

// sourceExtensions are tried in order when resolving a diameter's table.
var sourceExtensions = []string{".xlsx", ".csv"}

// LoadOptions controls how a source table is read.
type LoadOptions struct {
	// Sheet selects an xlsx sheet; the first sheet is used when empty.
	Sheet string
}

// SourcePath resolves Diameter_<d>.xlsx (or .csv) under dataDir.
func SourcePath(dataDir string, d quality.Diameter) (string, error) {
	base := filepath.Join(dataDir, fmt.Sprintf("Diameter_%d", d))
	for _, ext := range sourceExtensions {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s{%s}", ErrMissingSource, base, strings.Join(sourceExtensions, ","))
}

// LoadTable reads a source table, choosing the reader by file extension.
func LoadTable(path string, opts LoadOptions) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadXLSX(path, opts.Sheet)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return ReadCSV(filepath.Base(path), f)
	default:
		return nil, fmt.Errorf("unsupported source format %q", filepath.Ext(path))
	}
}

func loadXLSX(path, sheet string) (*Table, error) {
	// Raw values keep dates as Excel serial numbers and numbers unformatted.
	f, err := excelize.OpenFile(path, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", filepath.Base(path))
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return fromRecords(filepath.Base(path), rows)
}

// ReadCSV parses a comma separated table with a header row.
func ReadCSV(name string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(name, records)
}

func fromRecords(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("table %s is empty", name)
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if header[i] == "" {
			return nil, fmt.Errorf("table %s: column %d has no header", name, i+1)
		}
	}
	body := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		body = append(body, rec)
	}
	return NewTable(name, header, body), nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
