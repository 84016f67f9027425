package models

// ImageResult describes what happened to one image part.
type ImageResult struct {
	Part   string `json:"part"`
	Format string `json:"format"`
	Before int64  `json:"before"`
	After  int64  `json:"after"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	// Skipped is the reason the part kept its bytes, empty when recompressed.
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RemovedName is a defined name dropped from the workbook.
type RemovedName struct {
	Name string `json:"name"`
	// Scope is the sheet name for sheet-level names, empty for workbook scope.
	Scope   string `json:"scope,omitempty"`
	Formula string `json:"formula"`
}
