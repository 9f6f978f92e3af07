package models

import (
	"strconv"
	"strings"
	"time"
)

// ExtractionSource identifies which extraction strategy produced a text
type ExtractionSource string

const (
	SourceArtifact ExtractionSource = "artifact"
	SourceStdout   ExtractionSource = "stdout"
)

// RuntimeMeta describes the model and device serving OCR requests
type RuntimeMeta struct {
	ModelID   string `json:"model_id"`
	Device    string `json:"device"`
	Backend   string `json:"backend"`
	GoVersion string `json:"go_version"`
}

// RawRun is what one backend call left behind: an artifact directory and
// the console text captured while it ran.
type RawRun struct {
	ArtifactDir string
	Stdout      string
	Stderr      string
	Elapsed     time.Duration
}

// OCRResult is the recognized text for one image
type OCRResult struct {
	FullText   string           `json:"full_text"`
	Lines      []string         `json:"lines"`
	Source     ExtractionSource `json:"source"`
	SourcePath string           `json:"source_path,omitempty"`
	ElapsedMS  int64            `json:"elapsed_ms"`
	Meta       *RuntimeMeta     `json:"meta,omitempty"`
}

// NewOCRResult builds a result whose Lines are derived from text.
// It is the only constructor used by the pipeline.
func NewOCRResult(text string, source ExtractionSource, sourcePath string) *OCRResult {
	return &OCRResult{
		FullText:   text,
		Lines:      SplitLines(text),
		Source:     source,
		SourcePath: sourcePath,
	}
}

// SplitLines splits text on line breaks and drops lines that are blank
// after trimming. Kept lines are returned unmodified.
func SplitLines(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := make([]string, 0)
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// ErrorInfo is the structured form of an error surfaced to callers
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// PageResult is the outcome for one page of a multi-page document
type PageResult struct {
	PageNumber int        `json:"page_number"`
	Text       string     `json:"text"`
	Lines      []string   `json:"lines"`
	Source     string     `json:"source,omitempty"`
	ElapsedMS  int64      `json:"elapsed_ms"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// Failed reports whether the page carries an error
func (p PageResult) Failed() bool {
	return p.Error != nil
}

// DocumentResult aggregates every page of a document run
type DocumentResult struct {
	Pages       []PageResult `json:"pages"`
	FullText    string       `json:"full_text"`
	PageCount   int          `json:"page_count"`
	FailedPages int          `json:"failed_pages"`
	ElapsedMS   int64        `json:"elapsed_ms"`
	Meta        RuntimeMeta  `json:"meta"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// PageMarker is the delimiter placed before each page's text in FullText
func PageMarker(pageNumber int) string {
	return "[Page " + strconv.Itoa(pageNumber) + "]"
}

// JoinPages concatenates page texts, each preceded by its page marker
func JoinPages(pages []PageResult) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(PageMarker(p.PageNumber))
		b.WriteString("\n")
		b.WriteString(p.Text)
	}
	return b.String()
}

// SplitResult lists the persisted page images of a split run.
// The files belong to the caller; nothing in the service removes them.
type SplitResult struct {
	Directory string         `json:"directory"`
	Paths     []string       `json:"paths"`
	PageCount int            `json:"page_count"`
	Objects   []StoredObject `json:"objects,omitempty"`
}

// StoredObject is a page image archived to object storage
type StoredObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	URL    string `json:"url,omitempty"`
}
