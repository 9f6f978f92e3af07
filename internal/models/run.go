package models

import (
	"time"
)

// RunKind represents the operation an OCR run performed
type RunKind string

const (
	RunKindImage    RunKind = "image"
	RunKindDocument RunKind = "document"
	RunKindSplit    RunKind = "split"
)

// RunStatus represents how an OCR run finished
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// OCRRun is one recorded request in the run history
type OCRRun struct {
	ID           int       `json:"id"`
	Kind         RunKind   `json:"kind"`
	Status       RunStatus `json:"status"`
	InputDigest  string    `json:"input_digest"`
	InputName    *string   `json:"input_name,omitempty"`
	Backend      string    `json:"backend"`
	PageCount    int       `json:"page_count"`
	FailedPages  int       `json:"failed_pages"`
	TextLength   int       `json:"text_length"`
	ErrorKind    *string   `json:"error_kind,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateRunRequest holds the fields recorded for a new run
type CreateRunRequest struct {
	Kind         RunKind
	Status       RunStatus
	InputDigest  string
	InputName    *string
	Backend      string
	PageCount    int
	FailedPages  int
	TextLength   int
	ErrorKind    *string
	ErrorMessage *string
	ElapsedMS    int64
}

// RunListParams filters and paginates the run history
type RunListParams struct {
	Kind   *RunKind
	Status *RunStatus
	Limit  int
	Offset int
}
