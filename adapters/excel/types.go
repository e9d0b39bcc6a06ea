package excel

// RawRowData represents a row of raw Excel data as string key-value pairs
type RawRowData map[string]string

// ExcelData represents the complete Excel dataset
type ExcelData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// CausalTable is a loaded dataset split into covariates, treatment and
// outcome, ready for forest fitting.
type CausalTable struct {
	FeatureNames []string
	X            [][]float64
	T            []float64
	Y            []float64
}
