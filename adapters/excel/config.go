package excel

// ColumnConfig maps spreadsheet columns onto the causal roles.
type ColumnConfig struct {
	Treatment string   `json:"treatment" yaml:"treatment"`
	Outcome   string   `json:"outcome" yaml:"outcome"`
	Features  []string `json:"features,omitempty" yaml:"features,omitempty"`
	Ignore    []string `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	Sheet     string   `json:"sheet,omitempty" yaml:"sheet,omitempty"`
}

// DefaultColumnConfig uses columns named "treatment" and "outcome" and
// every other column as a feature.
func DefaultColumnConfig() ColumnConfig {
	return ColumnConfig{
		Treatment: "treatment",
		Outcome:   "outcome",
	}
}
