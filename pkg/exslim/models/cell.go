package models

// CellRow is the non-empty cells of one sheet row.
type CellRow struct {
	// R is the row index (1-based).
	R int `json:"r"`
	// C maps column index (string) to cell value.
	C map[string]interface{} `json:"c"`
}

// Verification is the result of reopening the output and comparing it with
// the input.
type Verification struct {
	Sheets int `json:"sheets"`
	Rows   int `json:"rows"`
	// Mismatches describes each difference found, empty when identical.
	Mismatches []string `json:"mismatches,omitempty"`
}

// OK reports whether no difference was found.
func (v *Verification) OK() bool {
	return len(v.Mismatches) == 0
}
