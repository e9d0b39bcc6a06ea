package excel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"gocausal/internal/errors"
)

// WriteTable writes a header row and numeric rows to path, as xlsx when
// the extension is .xlsx and CSV otherwise.
func WriteTable(path string, headers []string, rows [][]float64) error {
	if strings.ToLower(filepath.Ext(path)) == ".xlsx" {
		return writeExcel(path, headers, rows)
	}
	return writeCSV(path, headers, rows)
}

func writeCSV(path string, headers []string, rows [][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create CSV file")
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(headers); err != nil {
		return errors.Wrap(err, "failed to write CSV header")
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record[:len(row)]); err != nil {
			return errors.Wrap(err, "failed to write CSV row")
		}
	}
	w.Flush()
	return errors.Wrap(w.Error(), "failed to flush CSV file")
}

func writeExcel(path string, headers []string, rows [][]float64) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "failed to write Excel header")
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, "invalid Excel cell")
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "failed to write Excel row %d", i+2)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "failed to save Excel file")
	}
	return nil
}
