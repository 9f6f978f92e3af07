// Package extract recovers recognized text from what a backend run left
// behind. Strategies are tried in order and the first one yielding a
// usable text wins.
package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/foxxcyber/dococr/internal/apperr"
	"github.com/foxxcyber/dococr/internal/backend"
	"github.com/foxxcyber/dococr/internal/models"
)

// MinTextLength is the shortest text, in runes, accepted as a result
const MinTextLength = 10

// Candidate is a text proposed by a strategy
type Candidate struct {
	Text   string
	Source models.ExtractionSource
	Path   string
}

// Strategy proposes a candidate from a run. It must not modify the run
// or any file it reads.
type Strategy func(run models.RawRun) (Candidate, bool)

// Extractor applies strategies in priority order
type Extractor struct {
	strategies []Strategy
}

// New returns an extractor that prefers artifact files over console output
func New() *Extractor {
	return &Extractor{strategies: []Strategy{ArtifactStrategy, StdoutStrategy}}
}

// NewWithStrategies returns an extractor over a custom strategy list
func NewWithStrategies(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Extract returns the first candidate that passes the length threshold
func (e *Extractor) Extract(run models.RawRun) (*models.OCRResult, error) {
	for _, strategy := range e.strategies {
		c, ok := strategy(run)
		if !ok || !Usable(c.Text) {
			continue
		}
		return models.NewOCRResult(c.Text, c.Source, c.Path), nil
	}

	if tail := backend.Tail(run.Stderr, 300); tail != "" {
		return nil, fmt.Errorf("%w; stderr: %s", apperr.ErrNoResultProduced, tail)
	}
	return nil, apperr.ErrNoResultProduced
}

// Usable reports whether text is long enough to count as a result
func Usable(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= MinTextLength
}
