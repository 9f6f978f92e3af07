//go:build windows

package backend

import (
	"context"
	"fmt"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// Tesseract is unavailable on Windows builds
type Tesseract struct{}

// NewTesseract reports that tesseract is not available on Windows
func NewTesseract(language string) (*Tesseract, error) {
	return nil, fmt.Errorf("%w: tesseract is not available on Windows - run in Docker container", apperr.ErrBackendUnavailable)
}

func (t *Tesseract) Name() string {
	return KindTesseract
}

func (t *Tesseract) Infer(ctx context.Context, req Request) error {
	return fmt.Errorf("%w: tesseract is not available on Windows", apperr.ErrBackendUnavailable)
}

func (t *Tesseract) Close() error {
	return nil
}
