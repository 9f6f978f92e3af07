//go:build !windows

package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/foxxcyber/dococr/internal/apperr"
)

// Tesseract recognizes text with the local tesseract library
type Tesseract struct {
	language string
}

// NewTesseract creates a tesseract backend for the given language
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

func (t *Tesseract) Name() string {
	return KindTesseract
}

// Infer writes the recognized text to result.txt in the output directory.
// A client is created per call since gosseract clients are not safe for
// concurrent use.
func (t *Tesseract) Infer(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.language, "+")...); err != nil {
		return fmt.Errorf("%w: failed to set OCR language: %v", apperr.ErrBackendUnavailable, err)
	}
	// PSM 3 = fully automatic page segmentation
	if err := client.SetPageSegMode(gosseract.PSM_AUTO); err != nil {
		return fmt.Errorf("%w: failed to set page segmentation mode: %v", apperr.ErrBackendFailed, err)
	}

	absPath, err := filepath.Abs(req.ImagePath)
	if err != nil {
		return fmt.Errorf("%w: failed to get absolute path: %v", apperr.ErrBackendFailed, err)
	}
	if err := client.SetImage(absPath); err != nil {
		return fmt.Errorf("%w: failed to set image: %v", apperr.ErrBackendFailed, err)
	}

	text, err := client.Text()
	if err != nil {
		return fmt.Errorf("%w: failed to extract text: %v", apperr.ErrBackendFailed, err)
	}

	fmt.Fprintf(writer(req.Stdout), "[INFO] tesseract recognized %d characters\n", len(text))

	out := filepath.Join(req.OutputDir, "result.txt")
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return fmt.Errorf("%w: failed to write result: %v", apperr.ErrBackendFailed, err)
	}
	return nil
}

func (t *Tesseract) Close() error {
	return nil
}
