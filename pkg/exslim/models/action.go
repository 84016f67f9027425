package models

import "time"

// Stage names used in actions.
const (
	StageNames     = "names"
	StageImages    = "images"
	StagePrecision = "precision"
)

// Action kinds.
const (
	ActionRemoveName   = "remove_name"
	ActionRecompress   = "recompress_image"
	ActionRemovePart   = "remove_part"
	ActionConvertImage = "convert_image"
	ActionRollback     = "rollback"
)

// Action is one change made by a stage.
type Action struct {
	Stage  string `json:"stage"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
	// Detail is a short human-readable note, e.g. the new part name.
	Detail string `json:"detail,omitempty"`
	Before int64  `json:"before,omitempty"`
	After  int64  `json:"after,omitempty"`
}

// Event is a log record captured during a run.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}
