package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"unix", "Hello World\nLine 2", []string{"Hello World", "Line 2"}},
		{"windows and old mac", "a\r\nb\rc", []string{"a", "b", "c"}},
		{"blank lines dropped", "one\n\n   \n\ttwo\n", []string{"one", "\ttwo"}},
		{"kept lines untrimmed", "  indented  \n", []string{"  indented  "}},
		{"empty", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitLines(tt.text))
		})
	}
}

func TestNewOCRResultDerivesLines(t *testing.T) {
	r := NewOCRResult("Hello World\n\nLine 2", SourceArtifact, "/tmp/out.mmd")
	assert.Equal(t, []string{"Hello World", "Line 2"}, r.Lines)
	assert.Equal(t, SourceArtifact, r.Source)
	assert.Equal(t, "/tmp/out.mmd", r.SourcePath)
}

func TestJoinPages(t *testing.T) {
	pages := []PageResult{
		{PageNumber: 1, Text: "first page"},
		{PageNumber: 2, Text: ""},
		{PageNumber: 3, Text: "third page"},
	}
	assert.Equal(t, "[Page 1]\nfirst page\n\n[Page 2]\n\n\n[Page 3]\nthird page", JoinPages(pages))
	assert.Equal(t, "", JoinPages(nil))
}
