package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"gocausal/internal"
	"gocausal/internal/errors"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	return &DataReader{
		filePath: filePath,
		fileType: fileType,
		logger:   internal.DefaultLogger.WithComponent("data-reader"),
	}
}

// ReadData reads data from Excel or CSV files into structured format
func (r *DataReader) ReadData(sheet string) (*ExcelData, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("%s file %s", strings.ToUpper(r.fileType), r.filePath))
	}

	var rows [][]string
	var err error
	start := time.Now()
	switch r.fileType {
	case "csv":
		rows, err = r.readCSVRows()
	default:
		rows, err = r.readExcelRows(sheet)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("%s file read in %v (%d rows)", r.fileType, time.Since(start), len(rows))

	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s file must have a header row and at least one data row", r.fileType))
	}
	return r.processRows(rows), nil
}

// readExcelRows reads the named sheet, or the first sheet when empty
func (r *DataReader) readExcelRows(sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sheet %s", sheet)
	}
	return rows, nil
}

// readCSVRows reads CSV data
func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open CSV file")
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, errors.Wrap(errors.InvalidInput(err.Error()), "failed to read CSV file")
	}
	return rows, nil
}

// processRows converts raw string rows into ExcelData format
func (r *DataReader) processRows(rows [][]string) *ExcelData {
	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	for i, header := range headerRow {
		headers[i] = strings.TrimSpace(header)
	}

	dataRows := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		dataRows = append(dataRows, rowData)
	}

	return &ExcelData{Headers: headers, Rows: dataRows}
}

// LoadCausalTable reads the file and maps its columns onto treatment,
// outcome and features. Without an explicit feature list every column that
// is not the treatment, the outcome or ignored becomes a feature. Blank or
// non-numeric cells are INVALID_INPUT.
func (r *DataReader) LoadCausalTable(cols ColumnConfig) (*CausalTable, error) {
	data, err := r.ReadData(cols.Sheet)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(data.Headers))
	for _, h := range data.Headers {
		present[h] = true
	}
	for _, name := range []string{cols.Treatment, cols.Outcome} {
		if !present[name] {
			return nil, errors.InvalidInput(fmt.Sprintf("column %q not found in %s", name, r.filePath))
		}
	}

	features := cols.Features
	if len(features) == 0 {
		skip := map[string]bool{cols.Treatment: true, cols.Outcome: true}
		for _, name := range cols.Ignore {
			skip[name] = true
		}
		for _, h := range data.Headers {
			if !skip[h] {
				features = append(features, h)
			}
		}
	}
	if len(features) == 0 {
		return nil, errors.InvalidInput("no feature columns selected")
	}
	for _, name := range features {
		if !present[name] {
			return nil, errors.InvalidInput(fmt.Sprintf("feature column %q not found", name))
		}
	}

	table := &CausalTable{
		FeatureNames: features,
		X:            make([][]float64, len(data.Rows)),
		T:            make([]float64, len(data.Rows)),
		Y:            make([]float64, len(data.Rows)),
	}
	for i, row := range data.Rows {
		line := i + 2
		t, err := parseTreatment(row[cols.Treatment])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d: %v", line, err))
		}
		y, err := parseNumber(row[cols.Outcome])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d column %s: %v", line, cols.Outcome, err))
		}
		x := make([]float64, len(features))
		for j, name := range features {
			if x[j], err = parseNumber(row[name]); err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("line %d column %s: %v", line, name, err))
			}
		}
		table.X[i], table.T[i], table.Y[i] = x, t, y
	}

	r.logger.Info("loaded %d rows with %d features from %s", len(table.X), len(features), r.filePath)
	return table, nil
}

func parseNumber(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty cell")
	}
	return strconv.ParseFloat(s, 64)
}

func parseTreatment(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "1", "1.0", "true", "yes", "treated":
		return 1, nil
	case "0", "0.0", "false", "no", "control":
		return 0, nil
	}
	return 0, fmt.Errorf("treatment value %q is not binary", s)
}

// LoadMatrix reads the named columns, or every column when names is empty,
// as a numeric matrix. It is used for prediction queries that carry no
// treatment or outcome.
func (r *DataReader) LoadMatrix(names []string, sheet string) ([]string, [][]float64, error) {
	data, err := r.ReadData(sheet)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		names = data.Headers
	}
	present := make(map[string]bool, len(data.Headers))
	for _, h := range data.Headers {
		present[h] = true
	}
	for _, name := range names {
		if !present[name] {
			return nil, nil, errors.InvalidInput(fmt.Sprintf("column %q not found in %s", name, r.filePath))
		}
	}

	out := make([][]float64, len(data.Rows))
	for i, row := range data.Rows {
		x := make([]float64, len(names))
		for j, name := range names {
			if x[j], err = parseNumber(row[name]); err != nil {
				return nil, nil, errors.InvalidInput(fmt.Sprintf("line %d column %s: %v", i+2, name, err))
			}
		}
		out[i] = x
	}
	return names, out, nil
}
