// Package models defines the report returned by a slimming run.
package models

// Report is the outcome of one run.
type Report struct {
	// RunID identifies the run in log records.
	RunID string `json:"run_id"`
	// Output holds the resulting package bytes. It equals the input when
	// nothing changed or the run failed after loading.
	Output []byte `json:"-"`
	// InputBytes is the size of the input package.
	InputBytes int64 `json:"input_bytes"`
	// OutputBytes is the size of Output.
	OutputBytes int64 `json:"output_bytes"`
	// Changed is false when Output is the input verbatim.
	Changed bool `json:"changed"`
	// Actions lists every change in the order it was applied.
	Actions []Action `json:"actions,omitempty"`
	// Events are the log records of the run at info level and above.
	Events []Event `json:"events,omitempty"`
	// Images holds one entry per image part examined.
	Images []ImageResult `json:"images,omitempty"`
	// RemovedNames lists the defined names that were dropped.
	RemovedNames []RemovedName `json:"removed_names,omitempty"`
	// Verification is set when the output was checked against the input.
	Verification *Verification `json:"verification,omitempty"`
	// Summary holds the counters of the run.
	Summary Summary `json:"summary"`
	// Error is the message of the error that stopped the run.
	Error string `json:"error,omitempty"`
}

// Summary holds per-run counters.
type Summary struct {
	NamesTotal         int   `json:"names_total"`
	NamesRemoved       int   `json:"names_removed"`
	ImagesProcessed    int   `json:"images_processed"`
	ImagesRecompressed int   `json:"images_recompressed"`
	ImagesSkipped      int   `json:"images_skipped"`
	ImageBytesSaved    int64 `json:"image_bytes_saved"`
	PartsRemoved       int   `json:"parts_removed"`
	Conversions        int   `json:"conversions"`
}

// BytesSaved returns how much smaller the output is.
func (r *Report) BytesSaved() int64 {
	return r.InputBytes - r.OutputBytes
}

// Ratio returns OutputBytes / InputBytes, 1 for an empty input.
func (r *Report) Ratio() float64 {
	if r.InputBytes == 0 {
		return 1
	}
	return float64(r.OutputBytes) / float64(r.InputBytes)
}
