package session

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"rebarquality/quality"
)

const exportSheet = "History"

func exportHeader() []string {
	header := []string{"timestamp", "diameter", "grade", "target", "prediction", "confidence", "pass"}
	for _, f := range quality.Fields() {
		header = append(header, f.Name)
	}
	return header
}

func exportRow(rec Record) []string {
	row := []string{
		rec.Timestamp.Format(time.DateTime),
		rec.Diameter.String(),
		string(rec.Grade),
		string(rec.Target),
		strconv.FormatFloat(rec.Prediction, 'f', 2, 64),
		fmt.Sprintf("%.0f%%", rec.Confidence*100),
		strconv.FormatBool(rec.Pass),
	}
	for _, f := range quality.Fields() {
		row = append(row, strconv.FormatFloat(rec.Inputs[f.Name], 'f', int(f.Decimals), 64))
	}
	return row
}

// ExportCSV writes the history, most recent first, with a header row.
func (s *State) ExportCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader()); err != nil {
		return err
	}
	for _, rec := range s.History(0) {
		if err := cw.Write(exportRow(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportXLSX writes the same table as ExportCSV as a workbook.
func (s *State) ExportXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return err
	}

	rows := [][]string{exportHeader()}
	for _, rec := range s.History(0) {
		rows = append(rows, exportRow(rec))
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return err
		}
	}
	return f.Write(w)
}
