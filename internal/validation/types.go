package validation

// PairResult compares one state and industry level for a year.
type PairResult struct {
	State       string `json:"state"`
	Level       int    `json:"level"`
	StoreCount  int    `json:"store_count"`
	CSVCount    int    `json:"csv_count"`
	FileMissing bool   `json:"file_missing"`
	Match       bool   `json:"match"`
}

// Result is the outcome of validating a year. Passed is true only when every pair matches.
type Result struct {
	Year   int          `json:"year"`
	Pairs  []PairResult `json:"pairs"`
	Passed bool         `json:"passed"`
}

// Mismatches returns the pairs whose counts differ.
func (r *Result) Mismatches() []PairResult {
	var out []PairResult
	for _, p := range r.Pairs {
		if !p.Match {
			out = append(out, p)
		}
	}
	return out
}
